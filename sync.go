package qamus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Syncer is the content sync engine: it downloads the full dictionary
// plus the current user's favorite set and rebuilds the local store in
// bounded, strictly sequential batches. Full refresh only: the
// dictionary is small and centrally curated, so idempotent overwrite
// beats diffing.
//
// States: idle → checking-entitlement → (denied | fetching → writing →
// verifying → done) | failed. A second SyncAll while one is in flight
// is a no-op, not a queue.
type Syncer struct {
	store    *Store
	gateway  Gateway
	access   *AccessManager
	identity Identity
	logger   *slog.Logger

	inFlight atomic.Bool
	mu       sync.Mutex
	state    SyncState
}

// NewSyncer creates a sync engine over the given collaborators.
func NewSyncer(store *Store, gateway Gateway, access *AccessManager, identity Identity, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		store:    store,
		gateway:  gateway,
		access:   access,
		identity: identity,
		logger:   logger,
		state:    SyncIdle,
	}
}

// State reports where the engine currently is.
func (s *Syncer) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Syncer) setState(state SyncState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// SyncAll downloads and persists the complete remote dictionary.
//
// onProgress, if non-nil, receives the completed fraction after each
// committed batch. With force=false an already valid, non-empty local
// copy short-circuits to done. A batch failure aborts the run; the
// prefix of committed batches stays durable and internally consistent,
// and a retry from scratch is safe because the writes are idempotent.
// After the final batch, local entries no longer present remotely are
// pruned, so a refresh also converges when the dictionary shrank.
func (s *Syncer) SyncAll(ctx context.Context, onProgress ProgressFunc, force bool) error {
	// In-flight guard: a manual download racing a purchase-triggered one
	// must not interleave batch writes. The loser returns immediately.
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Debug("sync: already in flight, skipping")
		return nil
	}
	defer s.inFlight.Store(false)

	s.setState(SyncChecking)
	if !s.access.CheckAccess(ctx) {
		s.setState(SyncDenied)
		return fmt.Errorf("sync: %w", ErrAccessDenied)
	}

	if !force && s.hasValidLocalCopy() {
		s.setState(SyncDone)
		if onProgress != nil {
			onProgress(1)
		}
		return nil
	}

	s.setState(SyncFetching)
	entries, err := s.gateway.FetchAllEntries(ctx)
	if err != nil {
		s.setState(SyncFailed)
		return fmt.Errorf("sync: fetch entries: %w", err)
	}
	if len(entries) == 0 {
		s.setState(SyncFailed)
		return &NetworkFault{Op: "fetch entries", Err: ErrEmptyDictionary}
	}

	favoriteIDs := map[string]bool{}
	if userID := s.identity.CurrentUserID(); userID != "" {
		ids, err := s.gateway.FetchFavoriteIDs(ctx, userID)
		if err != nil {
			s.setState(SyncFailed)
			return fmt.Errorf("sync: fetch favorites: %w", err)
		}
		for _, id := range ids {
			favoriteIDs[id] = true
		}
	}
	for i := range entries {
		entries[i].IsFavorite = favoriteIDs[entries[i].ID]
	}

	s.setState(SyncWriting)
	if err := s.writeBatches(entries, onProgress); err != nil {
		s.setState(SyncFailed)
		return err
	}

	keep := make(map[string]bool, len(entries))
	for _, entry := range entries {
		keep[entry.ID] = true
	}
	pruned, err := s.store.PruneEntries(keep)
	if err != nil {
		s.setState(SyncFailed)
		return fmt.Errorf("sync: prune stale entries: %w", err)
	}
	if pruned > 0 {
		s.logger.Info("sync: pruned entries removed remotely", "count", pruned)
	}

	s.setState(SyncVerifying)
	count, err := s.store.RowCount()
	if err != nil {
		s.setState(SyncFailed)
		return fmt.Errorf("sync: verify: %w", err)
	}
	if count != len(entries) {
		s.setState(SyncFailed)
		return &StorageFault{Op: "verify", Err: fmt.Errorf("row count %d does not match fetched total %d", count, len(entries))}
	}

	if err := s.store.SetMetadata("last_sync", time.Now().UTC().Format(time.RFC3339)); err != nil {
		s.logger.Warn("sync: record last_sync failed", "error", err)
	}

	s.setState(SyncDone)
	s.logger.Info("sync: done", "entries", len(entries), "favorites", len(favoriteIDs))
	return nil
}

// writeBatches commits fixed-size batches strictly sequentially; batch
// N+1 does not start until batch N's transaction commits. A batch
// failure aborts the whole run rather than continuing, so a half-synced
// dictionary never masquerades as complete.
func (s *Syncer) writeBatches(entries []Entry, onProgress ProgressFunc) error {
	total := len(entries)
	written := 0
	for start := 0; start < total; start += UpsertBatchSize {
		end := start + UpsertBatchSize
		if end > total {
			end = total
		}

		if !s.store.VerifySchema() {
			if err := s.store.EnsureSchema(); err != nil {
				return fmt.Errorf("sync: schema repair before batch: %w", err)
			}
		}

		if err := s.store.UpsertBatch(entries[start:end]); err != nil {
			return fmt.Errorf("sync: write batch at offset %d: %w", start, err)
		}

		written = end
		if onProgress != nil {
			onProgress(float64(written) / float64(total))
		}
	}
	return nil
}

// hasValidLocalCopy judges the local copy purely by schema integrity
// and a non-zero row count, not freshness; this is a full-refresh
// design.
func (s *Syncer) hasValidLocalCopy() bool {
	if !s.store.VerifySchema() {
		return false
	}
	count, err := s.store.RowCount()
	return err == nil && count > 0
}
