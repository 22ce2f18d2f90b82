package domain

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// MediaType distinguishes content types on the remote service.
type MediaType string

const (
	MediaTypeMovie   MediaType = "movie"
	MediaTypeShow    MediaType = "show"
	MediaTypeEpisode MediaType = "episode"
)

// Valid reports whether t is one of the known media types.
func (t MediaType) Valid() bool {
	switch t {
	case MediaTypeMovie, MediaTypeShow, MediaTypeEpisode:
		return true
	}
	return false
}

// EntityKind tags each replica record variant.
type EntityKind string

const (
	EntityShow      EntityKind = "show"
	EntityEpisode   EntityKind = "episode"
	EntityMovie     EntityKind = "movie"
	EntityWatchlist EntityKind = "watchlist"
	EntityBookmark  EntityKind = "bookmark"
	EntityHidden    EntityKind = "hidden"
)

// Hidden sections mirrored from the remote service.
const (
	SectionCalendar          = "calendar"
	SectionProgressWatched   = "progress_watched"
	SectionProgressCollected = "progress_collected"
	SectionRecommendations   = "recommendations"
)

// HiddenSections lists every section pulled during sync.
var HiddenSections = []string{
	SectionCalendar,
	SectionProgressWatched,
	SectionProgressCollected,
	SectionRecommendations,
}

// Entity is implemented by every replica record.
type Entity interface {
	EntityKind() EntityKind
	EntityKey() Key
}

// Key addresses a single replica row. Which fields matter depends on Kind.
type Key struct {
	Kind    EntityKind
	TraktID int64
	Type    MediaType // watchlist, bookmark, hidden
	ShowID  int64     // episode
	Season  int       // episode
	Number  int       // episode
	Section string    // hidden
}

func ShowKey(id int64) Key  { return Key{Kind: EntityShow, TraktID: id} }
func MovieKey(id int64) Key { return Key{Kind: EntityMovie, TraktID: id} }

func EpisodeKey(showID int64, season, number int) Key {
	return Key{Kind: EntityEpisode, ShowID: showID, Season: season, Number: number}
}

func WatchlistKey(t MediaType, id int64) Key {
	return Key{Kind: EntityWatchlist, Type: t, TraktID: id}
}

func BookmarkKey(t MediaType, id int64) Key {
	return Key{Kind: EntityBookmark, Type: t, TraktID: id}
}

func HiddenKey(t MediaType, id int64, section string) Key {
	return Key{Kind: EntityHidden, Type: t, TraktID: id, Section: section}
}

func (k Key) String() string {
	switch k.Kind {
	case EntityEpisode:
		return fmt.Sprintf("episode:%d:s%02de%02d", k.ShowID, k.Season, k.Number)
	case EntityWatchlist, EntityBookmark:
		return fmt.Sprintf("%s:%s:%d", k.Kind, k.Type, k.TraktID)
	case EntityHidden:
		return fmt.Sprintf("hidden:%s:%d:%s", k.Type, k.TraktID, k.Section)
	default:
		return fmt.Sprintf("%s:%d", k.Kind, k.TraktID)
	}
}

// IDs carries the identifiers the remote service knows an item by.
// Trakt is canonical; the rest are secondary lookups.
type IDs struct {
	Trakt int64  `json:"trakt,omitempty"`
	Slug  string `json:"slug,omitempty"`
	IMDB  string `json:"imdb,omitempty"`
	TMDB  int64  `json:"tmdb,omitempty"`
	TVDB  int64  `json:"tvdb,omitempty"`
}

// Show is a TV series mirrored from the remote account.
type Show struct {
	TraktID       int64
	IMDBID        string
	TVDBID        int64
	TMDBID        int64
	Slug          string
	Title         string
	Year          int
	AiredEpisodes int
	Metadata      json.RawMessage

	// Derived statistics (specials excluded)
	WatchedEpisodes   int
	UnwatchedEpisodes int
	EpisodeCount      int

	// Placeholder is set while TraktID is a local stand-in
	Placeholder string
}

func (s *Show) EntityKind() EntityKind { return EntityShow }
func (s *Show) EntityKey() Key         { return ShowKey(s.TraktID) }

// Episode is a single episode row, known whether watched or not.
type Episode struct {
	ShowID        int64
	Season        int
	Number        int
	TraktID       int64
	IMDBID        string
	TMDBID        int64
	TVDBID        int64
	Title         string
	AirDate       time.Time
	Watched       bool
	LastWatchedAt time.Time
	Collected     bool
	CollectedAt   time.Time
}

func (e *Episode) EntityKind() EntityKind { return EntityEpisode }
func (e *Episode) EntityKey() Key         { return EpisodeKey(e.ShowID, e.Season, e.Number) }

// Code returns the formatted episode code (e.g., "S01E05")
func (e *Episode) Code() string {
	return fmt.Sprintf("S%02dE%02d", e.Season, e.Number)
}

// Aired reports whether the episode has a known air date before now.
func (e *Episode) Aired(now time.Time) bool {
	return !e.AirDate.IsZero() && e.AirDate.Before(now)
}

// Movie is a film mirrored from the remote account.
type Movie struct {
	TraktID       int64
	IMDBID        string
	TMDBID        int64
	Title         string
	Year          int
	Watched       bool
	LastWatchedAt time.Time
	Collected     bool
	CollectedAt   time.Time
	Metadata      json.RawMessage
	Placeholder   string
}

func (m *Movie) EntityKind() EntityKind { return EntityMovie }
func (m *Movie) EntityKey() Key         { return MovieKey(m.TraktID) }

// WatchlistItem is one row of the movie or show watchlist.
type WatchlistItem struct {
	Type        MediaType
	TraktID     int64
	IMDBID      string
	Title       string
	Year        int
	ListedAt    time.Time
	Placeholder string
}

func (w *WatchlistItem) EntityKind() EntityKind { return EntityWatchlist }
func (w *WatchlistItem) EntityKey() Key         { return WatchlistKey(w.Type, w.TraktID) }

// Bookmark is a paused playback position.
type Bookmark struct {
	PlaybackID    int64
	TraktID       int64
	Type          MediaType
	ResumeSeconds float64
	Percent       float64
	PausedAt      time.Time
}

func (b *Bookmark) EntityKind() EntityKind { return EntityBookmark }
func (b *Bookmark) EntityKey() Key         { return BookmarkKey(b.Type, b.TraktID) }

// ResumeSeconds converts a progress percentage into a resume offset
// given the runtime in minutes. Unknown runtimes resume from zero.
func ResumeSeconds(percent float64, runtimeMinutes int) float64 {
	if runtimeMinutes <= 0 || percent <= 0 {
		return 0
	}
	return percent / 100.0 * float64(runtimeMinutes*60)
}

// HiddenItem marks an item hidden from one remote section.
type HiddenItem struct {
	TraktID int64
	Type    MediaType
	Section string
}

func (h *HiddenItem) EntityKind() EntityKind { return EntityHidden }
func (h *HiddenItem) EntityKey() Key         { return HiddenKey(h.Type, h.TraktID, h.Section) }

// NextEpisode is the next unwatched episode of a show in progress.
type NextEpisode struct {
	Show          *Show
	Episode       *Episode
	LastWatchedAt time.Time
	Bookmark      *Bookmark
}

// Filter narrows GetAll queries. Zero values mean "no constraint".
type Filter struct {
	Type      MediaType
	ShowID    int64
	Season    *int
	Watched   *bool
	Collected *bool
	Section   string
	Limit     int
}

// Bool returns a pointer to v, for Filter fields.
func Bool(v bool) *bool { return &v }

// Int returns a pointer to v, for Filter fields.
func Int(v int) *int { return &v }
