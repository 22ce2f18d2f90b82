// Package search ranks locally known titles and add-on catalog items
// against a free-text query.
package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/mmcdole/kinosync/internal/domain"
)

// Source lists replica entities.
type Source interface {
	GetAll(ctx context.Context, kind domain.EntityKind, f domain.Filter) ([]domain.Entity, error)
}

// Item is a searchable replica title.
type Item struct {
	Type        domain.MediaType
	TraktID     int64
	IMDBID      string
	Title       string
	Year        int
	Watched     bool
	OnWatchlist bool
}

// Result is a ranked match.
type Result struct {
	Item
	Score int // lower is better
}

// Service searches the replica.
type Service struct {
	source Source
	logger *slog.Logger
}

// NewService creates a new search service
func NewService(source Source, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, logger: logger}
}

// Search ranks shows, movies and watchlist entries whose titles match
// query. types narrows the media types searched (nil = all).
func (s *Service) Search(ctx context.Context, query string, types []domain.MediaType) ([]Result, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, nil
	}

	items, err := s.gather(ctx, makeTypeSet(types))
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	titles := make([]string, len(items))
	for i, item := range items {
		titles[i] = strings.ToLower(item.Title)
	}

	ranks := fuzzy.RankFindFold(query, titles)
	results := make([]Result, 0, len(ranks))
	for _, r := range ranks {
		item := items[r.OriginalIndex]
		results = append(results, Result{Item: item, Score: matchScore(titles[r.OriginalIndex], query, r.Distance, item.Type)})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score < results[j].Score
		}
		return len(results[i].Title) < len(results[j].Title)
	})

	s.logger.Debug("search complete", "query", query, "results", len(results))
	return results, nil
}

func (s *Service) gather(ctx context.Context, types map[domain.MediaType]bool) ([]Item, error) {
	allowed := func(t domain.MediaType) bool {
		return len(types) == 0 || types[t]
	}

	var items []Item
	index := make(map[domain.Key]int)

	if allowed(domain.MediaTypeShow) {
		shows, err := s.source.GetAll(ctx, domain.EntityShow, domain.Filter{})
		if err != nil {
			return nil, err
		}
		for _, e := range shows {
			sh := e.(*domain.Show)
			index[domain.WatchlistKey(domain.MediaTypeShow, sh.TraktID)] = len(items)
			items = append(items, Item{
				Type:    domain.MediaTypeShow,
				TraktID: sh.TraktID,
				IMDBID:  sh.IMDBID,
				Title:   sh.Title,
				Year:    sh.Year,
				Watched: sh.EpisodeCount > 0 && sh.UnwatchedEpisodes == 0,
			})
		}
	}

	if allowed(domain.MediaTypeMovie) {
		movies, err := s.source.GetAll(ctx, domain.EntityMovie, domain.Filter{})
		if err != nil {
			return nil, err
		}
		for _, e := range movies {
			m := e.(*domain.Movie)
			index[domain.WatchlistKey(domain.MediaTypeMovie, m.TraktID)] = len(items)
			items = append(items, Item{
				Type:    domain.MediaTypeMovie,
				TraktID: m.TraktID,
				IMDBID:  m.IMDBID,
				Title:   m.Title,
				Year:    m.Year,
				Watched: m.Watched,
			})
		}
	}

	watchlist, err := s.source.GetAll(ctx, domain.EntityWatchlist, domain.Filter{})
	if err != nil {
		return nil, err
	}
	for _, e := range watchlist {
		w := e.(*domain.WatchlistItem)
		if !allowed(w.Type) {
			continue
		}
		if i, ok := index[w.EntityKey()]; ok {
			items[i].OnWatchlist = true
			continue
		}
		items = append(items, Item{
			Type:        w.Type,
			TraktID:     w.TraktID,
			IMDBID:      w.IMDBID,
			Title:       w.Title,
			Year:        w.Year,
			OnWatchlist: true,
		})
	}

	// Rows created before their title is known are not searchable
	out := items[:0]
	for _, item := range items {
		if item.Title != "" {
			out = append(out, item)
		}
	}
	return out, nil
}

// matchScore ranks a title that fuzzily contains query. Lower is better.
func matchScore(title, query string, distance int, t domain.MediaType) int {
	switch {
	case title == query:
		return 0
	case strings.HasPrefix(title, query):
		return 10
	case strings.Contains(title, query):
		return 50
	}
	score := 100 + distance
	// Movies first for single-word queries
	if len(strings.Fields(query)) == 1 && t == domain.MediaTypeMovie {
		score -= 10
	}
	return score
}

func makeTypeSet(types []domain.MediaType) map[domain.MediaType]bool {
	if len(types) == 0 {
		return nil
	}
	set := make(map[domain.MediaType]bool)
	for _, t := range types {
		set[t] = true
	}
	return set
}
