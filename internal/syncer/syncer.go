// Package syncer keeps app trees in step with the remote delta service.
//
// A Syncer serves the persisted record while it is fresh. Once it goes
// stale, the Syncer pulls delta pages from the stored cursor until the
// remote reports no more pages, then applies them to a private copy of the
// previous tree, persists the result and returns it. Callers never see a
// tree with only some of the pages applied. A failed refresh leaves the
// previous record untouched and returns it as stale alongside the error.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/timkendrick/shunt/internal/events"
	"github.com/timkendrick/shunt/internal/logging"
	"github.com/timkendrick/shunt/internal/metrics"
	"github.com/timkendrick/shunt/pkg/models"
	"github.com/timkendrick/shunt/pkg/protocol"
	"github.com/timkendrick/shunt/pkg/tree"
)

const (
	DefaultTTL            = 5 * time.Minute
	DefaultMaxPages       = 1000
	DefaultRefreshTimeout = 2 * time.Minute
)

var (
	// ErrRemoteTransport means the delta service could not be reached or
	// misbehaved. The refresh was abandoned.
	ErrRemoteTransport = errors.New("remote transport error")
	// ErrPersistence means the record store failed.
	ErrPersistence = errors.New("persistence error")
	// ErrMalformedChange means a delta page contained an unusable record.
	ErrMalformedChange = tree.ErrMalformedChange
)

// DeltaFetcher fetches one page of changes. *client.Client implements it.
type DeltaFetcher interface {
	Delta(ctx context.Context, req protocol.DeltaRequest) (*protocol.DeltaResponse, error)
}

// Store reads and writes sync records. Get returns nil, nil when absent.
type Store interface {
	Get(ctx context.Context, key models.AppKey) (*models.SyncRecord, error)
	Put(ctx context.Context, key models.AppKey, rec *models.SyncRecord) error
}

// Publisher receives an event after every successful refresh.
// *events.Broadcaster implements it.
type Publisher interface {
	Publish(events.Event) (delivered, dropped int)
}

// Config holds syncer dependencies and tuning.
type Config struct {
	Fetcher     DeltaFetcher
	Store       Store
	TTL         time.Duration   // default 5m
	Clock       clockwork.Clock // default real clock
	MaxPages    int             // per refresh, default 1000
	Broadcaster Publisher       // optional
	Logger      *zap.Logger     // default logging.Named("syncer")

	// RefreshTimeout bounds one shared refresh, independent of the callers
	// waiting on it. Default 2m.
	RefreshTimeout time.Duration
}

// Result describes how a record was produced.
type Result struct {
	// Record is shared with concurrent callers and must not be modified.
	Record   *models.SyncRecord
	CacheHit bool // served without calling the remote
	Stale    bool // refresh failed, Record is the previous record
	Pages    int  // delta pages applied
}

// Syncer runs at most one refresh per app tree at a time within a process.
// Overlapping callers wait for the in-flight refresh instead of consuming the
// same cursor again. A caller whose context ends gets the previous record
// back while the refresh carries on for the others, bounded by
// RefreshTimeout. Across processes the last writer wins.
type Syncer struct {
	cfg   Config
	log   *zap.Logger
	group singleflight.Group
}

// New creates a Syncer.
func New(cfg Config) (*Syncer, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("syncer: Fetcher is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("syncer: Store is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Named("syncer")
	}
	return &Syncer{cfg: cfg, log: cfg.Logger}, nil
}

// GetTree returns the current root of an app tree.
//
// A nil error means the root is fresh and durably stored. A non-nil root
// with a non-nil error means the root is usable but stale or unpersisted.
// A nil root with a nil error means the tree does not exist.
func (s *Syncer) GetTree(ctx context.Context, key models.AppKey, prefix string) (*models.FileNode, error) {
	res, err := s.Sync(ctx, key, prefix)
	if res == nil || res.Record == nil {
		return nil, err
	}
	return res.Record.Root, err
}

// Sync returns the stored record if it is fresh, refreshing it otherwise.
func (s *Syncer) Sync(ctx context.Context, key models.AppKey, prefix string) (*Result, error) {
	return s.sync(ctx, key, prefix, false)
}

// Refresh pulls from the remote even if the stored record is fresh.
func (s *Syncer) Refresh(ctx context.Context, key models.AppKey, prefix string) (*Result, error) {
	return s.sync(ctx, key, prefix, true)
}

func (s *Syncer) sync(ctx context.Context, key models.AppKey, prefix string, force bool) (*Result, error) {
	prev, err := s.cfg.Store.Get(ctx, key)
	if err != nil {
		metrics.RecordSyncOutcome("error")
		s.log.Error("failed to read sync record", zap.String("app", key.String()), zap.Error(err))
		return nil, fmt.Errorf("%w: read %s: %w", ErrPersistence, key, err)
	}

	if !force && prev.Fresh(s.cfg.Clock.Now(), s.cfg.TTL) {
		metrics.RecordSyncOutcome("hit")
		return &Result{Record: prev, CacheHit: true}, nil
	}

	// The refresh belongs to every caller of the flight, so it keeps the
	// leader's values but not its cancellation. Outcomes are counted by the
	// flight alone.
	ch := s.group.DoChan(key.String(), func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RefreshTimeout)
		defer cancel()
		return s.refresh(fctx, key, prefix, prev)
	})

	select {
	case <-ctx.Done():
		s.log.Debug("caller stopped waiting for refresh", zap.String("app", key.String()), zap.Error(ctx.Err()))
		return stale(prev, ctx.Err())
	case r := <-ch:
		res, _ := r.Val.(*Result)
		if res == nil {
			return nil, r.Err
		}
		out := *res
		return &out, r.Err
	}
}

// refresh runs the pull loop. prev is never modified.
func (s *Syncer) refresh(ctx context.Context, key models.AppKey, prefix string, prev *models.SyncRecord) (*Result, error) {
	start := s.cfg.Clock.Now()
	app := key.String()
	log := s.log.With(zap.String("app", app))

	var (
		root   *models.FileNode
		owned  bool // root is our private copy
		reset  bool
		cursor string
		pages  int
	)
	if prev != nil {
		cursor = prev.Cursor
	}

	for {
		if pages >= s.cfg.MaxPages {
			err := fmt.Errorf("%w: gave up after %d pages", ErrRemoteTransport, pages)
			return s.failed(log, prev, err)
		}

		callStart := time.Now()
		page, err := s.cfg.Fetcher.Delta(ctx, protocol.DeltaRequest{Cursor: cursor, PathPrefix: prefix})
		metrics.RecordDeltaCall(time.Since(callStart), err == nil)
		if err != nil {
			return s.failed(log, prev, fmt.Errorf("%w: page %d: %w", ErrRemoteTransport, pages+1, err))
		}
		if page == nil {
			return s.failed(log, prev, fmt.Errorf("%w: page %d: empty response", ErrRemoteTransport, pages+1))
		}
		pages++

		switch {
		case page.Reset:
			root, owned, reset = nil, true, true
		case !owned:
			if prev != nil {
				root = prev.Root.Clone()
			}
			owned = true
		}

		root, _, err = tree.Apply(prefix, root, tree.BuildIndex(root), page.Changes)
		if err != nil {
			return s.failed(log, prev, fmt.Errorf("page %d: %w", pages, err))
		}
		metrics.RecordDeltaPage(len(page.Changes), countRemoved(page.Changes), page.Reset)
		log.Debug("applied delta page",
			zap.Int("page", pages),
			zap.Int("changes", len(page.Changes)),
			zap.Bool("reset", page.Reset),
			zap.Bool("has_more", page.HasMore),
		)

		cursor = page.Cursor
		if !page.HasMore {
			break
		}
		if err := ctx.Err(); err != nil {
			return s.failed(log, prev, fmt.Errorf("%w: %w", ErrRemoteTransport, err))
		}
	}

	rec := &models.SyncRecord{Root: root, Cursor: cursor, UpdatedAt: s.cfg.Clock.Now()}
	res := &Result{Record: rec, Pages: pages}
	nodes := tree.CountNodes(root)
	metrics.RecordRefresh(s.cfg.Clock.Since(start))
	metrics.SetTreeSize(app, nodes)

	if err := s.cfg.Store.Put(ctx, key, rec); err != nil {
		metrics.RecordSyncOutcome("unpersisted")
		log.Error("failed to persist sync record", zap.Error(err))
		return res, fmt.Errorf("%w: write %s: %w", ErrPersistence, app, err)
	}

	metrics.RecordSyncOutcome("refreshed")
	log.Info("tree refreshed",
		zap.Int("pages", pages),
		zap.Int("nodes", nodes),
		zap.Bool("reset", reset),
		zap.Duration("duration", s.cfg.Clock.Since(start)),
	)

	if s.cfg.Broadcaster != nil {
		typ := events.EventRefresh
		if reset {
			typ = events.EventReset
		}
		_, dropped := s.cfg.Broadcaster.Publish(events.Event{
			Type:   typ,
			App:    app,
			Cursor: cursor,
			Nodes:  nodes,
			Pages:  pages,
		})
		if dropped > 0 {
			log.Debug("refresh event dropped for slow subscribers", zap.Int("dropped", dropped))
		}
	}
	return res, nil
}

func (s *Syncer) failed(log *zap.Logger, prev *models.SyncRecord, err error) (*Result, error) {
	if prev != nil && prev.Root != nil {
		metrics.RecordSyncOutcome("stale")
		log.Warn("refresh failed, serving stale tree", zap.Error(err))
	} else {
		metrics.RecordSyncOutcome("error")
		log.Warn("refresh failed, no tree to serve", zap.Error(err))
	}
	return stale(prev, err)
}

func stale(prev *models.SyncRecord, err error) (*Result, error) {
	if prev == nil {
		return nil, err
	}
	return &Result{Record: prev, Stale: true}, err
}

func countRemoved(changes []models.ChangeRecord) int {
	n := 0
	for _, c := range changes {
		if c.Removed {
			n++
		}
	}
	return n
}
