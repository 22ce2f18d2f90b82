// Package writes applies user mutations to the replica optimistically and
// confirms them against the remote service in the background. A mutation
// that the remote rejects is rolled back to the exact rows it touched.
package writes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmcdole/kinosync/internal/domain"
	"github.com/mmcdole/kinosync/internal/metrics"
	"github.com/mmcdole/kinosync/internal/replica"
	"github.com/mmcdole/kinosync/internal/worker"
)

// Remote is the slice of the account service the write path needs.
type Remote interface {
	domain.TraktWriter
	LookupIMDB(ctx context.Context, t domain.MediaType, imdbID string) (*domain.LookupResult, error)
	GetShowEpisodes(ctx context.Context, showID int64) ([]*domain.Episode, error)
}

// Submitter runs remote confirmations in the background.
type Submitter interface {
	Submit(name string, fn worker.Task) error
}

// Options configures a Manager.
type Options struct {
	WriteTimeout time.Duration
	Notifier     domain.Notifier
	Logger       *slog.Logger
	Now          func() time.Time
}

// Manager owns the optimistic write path.
type Manager struct {
	replica *replica.Store
	remote  Remote
	pool    Submitter
	opts    Options
	logger  *slog.Logger

	mu        sync.RWMutex // Protects listeners
	listeners []domain.StateListener
}

// New creates a write manager.
func New(store *replica.Store, remote Remote, pool Submitter, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	return &Manager{
		replica: store,
		remote:  remote,
		pool:    pool,
		opts:    opts,
		logger:  opts.Logger,
	}
}

// Subscribe registers l for state-changed signals.
func (m *Manager) Subscribe(l domain.StateListener) {
	if l == nil {
		return
	}
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// Pending is the handle of a mutation awaiting remote confirmation.
type Pending struct {
	ID     string
	Op     string
	Target domain.Target

	done    chan struct{}
	outcome domain.Outcome
}

// Done is closed once the mutation is confirmed or rolled back.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the mutation settles or ctx is done.
func (p *Pending) Wait(ctx context.Context) (domain.Outcome, error) {
	select {
	case <-p.done:
		return p.outcome, nil
	case <-ctx.Done():
		return domain.Outcome{}, ctx.Err()
	}
}

// mutation is one optimistic write: a local change planned inside a
// transaction and the remote call that confirms it.
type mutation struct {
	op     string
	target domain.Target

	// id is the local identity; negative while it is a placeholder
	id          int64
	placeholder bool
	uuid        string
	lookupType  domain.MediaType
	reconcile   []domain.Key

	// plan returns the keys the change touches and then applies it. Keys
	// are snapshotted between the two steps.
	plan  func(tx *replica.Tx) ([]domain.Key, func() error, error)
	send  func(ctx context.Context, ids domain.IDs) (domain.SyncResponse, error)
	after func(ctx context.Context, canonical int64)

	snapshot replica.Snapshot
}

// submit commits the local change and schedules the remote confirmation.
// The returned handle is live as soon as the replica reflects the change.
func (m *Manager) submit(ctx context.Context, mut *mutation) (*Pending, error) {
	err := m.replica.Update(ctx, func(tx *replica.Tx) error {
		keys, apply, err := mut.plan(tx)
		if err != nil {
			return err
		}
		snap, err := tx.SnapshotRows(keys)
		if err != nil {
			return err
		}
		if err := apply(); err != nil {
			return err
		}
		mut.snapshot = snap
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", mut.op, mut.target, err)
	}

	p := &Pending{
		ID:     uuid.NewString(),
		Op:     mut.op,
		Target: mut.target,
		done:   make(chan struct{}),
	}
	metrics.WritesPending.Inc()

	err = m.pool.Submit(mut.op, func(ctx context.Context) error {
		m.confirm(ctx, mut, p)
		return nil
	})
	if err != nil {
		// Nothing reached the remote; undo quietly and report to the caller
		if rerr := m.restore(context.WithoutCancel(ctx), mut); rerr != nil {
			m.logger.Error("failed to roll back unscheduled write", "op", mut.op, "error", rerr)
		}
		m.finish(p, domain.Outcome{State: domain.MutationRolledBack, Err: err})
		return nil, fmt.Errorf("schedule %s: %w", mut.op, err)
	}
	return p, nil
}

func (m *Manager) confirm(ctx context.Context, mut *mutation, p *Pending) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.WriteTimeout)
	defer cancel()

	canonical := mut.id
	var err error
	if mut.placeholder {
		canonical, err = m.resolve(ctx, mut)
	}
	if err == nil {
		ids := domain.IDs{Trakt: canonical, IMDB: mut.target.IMDBID}
		var resp domain.SyncResponse
		resp, err = mut.send(ctx, ids)
		if err == nil && !resp.Accepted() {
			err = &domain.RemoteError{Kind: domain.KindRemoteRejected, Op: mut.op, Err: domain.ErrNotFound}
		}
	}

	if err != nil {
		m.rollback(ctx, mut, p, err)
		return
	}

	if mut.placeholder {
		err := m.replica.Update(context.WithoutCancel(ctx), func(tx *replica.Tx) error {
			for _, key := range mut.reconcile {
				if err := tx.ReconcileID(key, canonical); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			m.logger.Error("failed to reconcile placeholder", "op", mut.op, "placeholder", mut.id, "trakt", canonical, "error", err)
		}
	}
	if mut.after != nil {
		mut.after(ctx, canonical)
	}

	m.logger.Info("write confirmed", "op", mut.op, "target", mut.target.String())
	m.finish(p, domain.Outcome{State: domain.MutationConfirmed, TraktID: canonical})
}

// resolve asks the remote for the canonical ID behind a placeholder.
func (m *Manager) resolve(ctx context.Context, mut *mutation) (int64, error) {
	res, err := m.remote.LookupIMDB(ctx, mut.lookupType, mut.target.IMDBID)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", mut.target.IMDBID, err)
	}
	if res == nil || res.IDs.Trakt <= 0 {
		return 0, fmt.Errorf("resolve %s: %w", mut.target.IMDBID, domain.ErrNotFound)
	}
	return res.IDs.Trakt, nil
}

func (m *Manager) rollback(ctx context.Context, mut *mutation, p *Pending, cause error) {
	m.logger.Warn("write rejected, rolling back", "op", mut.op, "target", mut.target.String(), "kind", domain.KindOf(cause).String(), "error", cause)
	if err := m.restore(context.WithoutCancel(ctx), mut); err != nil {
		m.logger.Error("rollback failed", "op", mut.op, "error", err)
	}
	if m.opts.Notifier != nil {
		m.opts.Notifier.Notify(domain.Notification{
			Title:   "Couldn't " + describe(mut.op),
			Message: fmt.Sprintf("%s was not saved and has been undone", mut.target),
			Err:     cause,
		})
	}
	m.finish(p, domain.Outcome{State: domain.MutationRolledBack, Err: cause})
}

func (m *Manager) restore(ctx context.Context, mut *mutation) error {
	return m.replica.Update(ctx, func(tx *replica.Tx) error {
		return tx.RestoreRows(mut.snapshot)
	})
}

func (m *Manager) finish(p *Pending, out domain.Outcome) {
	out.ID = p.ID
	out.Op = p.Op
	out.Target = p.Target
	p.outcome = out
	close(p.done)
	metrics.WritesPending.Dec()

	change := domain.StateChange{Outcome: out, At: m.opts.Now()}
	m.mu.RLock()
	listeners := append([]domain.StateListener(nil), m.listeners...)
	m.mu.RUnlock()
	for _, l := range listeners {
		l.OnStateChanged(change)
	}
}

// localID resolves the target to a local identity, allocating a
// placeholder for IMDB-addressed items that are not known yet.
func localID(tx *replica.Tx, mut *mutation, t domain.MediaType) error {
	mut.lookupType = t
	if mut.target.TraktID != 0 {
		mut.id = mut.target.TraktID
		return nil
	}
	if mut.target.IMDBID == "" {
		return fmt.Errorf("target has no identifier: %w", domain.ErrNotFound)
	}
	id, err := tx.FindByIMDB(t, mut.target.IMDBID)
	if err == nil {
		mut.id = id
		mut.placeholder = id < 0
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	mut.id, mut.uuid = replica.NewPlaceholder()
	mut.placeholder = true
	return nil
}

func describe(op string) string {
	switch op {
	case OpMarkWatched:
		return "mark as watched"
	case OpMarkUnwatched:
		return "mark as unwatched"
	case OpAddWatchlist:
		return "add to watchlist"
	case OpRemoveWatchlist:
		return "remove from watchlist"
	case OpHide:
		return "hide from progress"
	case OpUnhide:
		return "unhide from progress"
	case OpRemovePlayback:
		return "remove playback progress"
	default:
		return op
	}
}
