package qamus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

// Favorites reconciles the favorite flag across the two stores. The
// local mutation always runs first so the user-visible state is never
// behind remote mid-operation; the remote mutation is best-effort once
// local has succeeded.
//
// Known limitation: a local-only favorite made while offline is lost on
// the next full sync if it was never mirrored to remote, because remote
// wins when favorite flags are re-derived from its favorite-id set.
type Favorites struct {
	store    *Store
	gateway  Gateway
	access   *AccessManager
	identity Identity
	logger   *slog.Logger
}

// NewFavorites creates a favorites reconciler.
func NewFavorites(store *Store, gateway Gateway, access *AccessManager, identity Identity, logger *slog.Logger) *Favorites {
	if logger == nil {
		logger = slog.Default()
	}
	return &Favorites{
		store:    store,
		gateway:  gateway,
		access:   access,
		identity: identity,
		logger:   logger,
	}
}

// Add marks an entry as a favorite. Duplicate adds are a no-op. Remote
// failure after a successful local write is logged and swallowed; with
// neither store available the call fails with ErrOfflineUnavailable.
func (f *Favorites) Add(ctx context.Context, entryID string) error {
	return f.mutate(ctx, entryID, true)
}

// Remove clears the favorite flag for an entry. Removing a
// never-favorited entry is a no-op, not an error.
func (f *Favorites) Remove(ctx context.Context, entryID string) error {
	return f.mutate(ctx, entryID, false)
}

func (f *Favorites) mutate(ctx context.Context, entryID string, favorite bool) error {
	localDone := false
	if f.access.CheckAccess(ctx) && f.hasLocalCopy() {
		if err := f.store.SetFavorite(entryID, favorite); err != nil {
			return err
		}
		localDone = true
	}

	if !f.gateway.Reachable(ctx) {
		if localDone {
			f.logger.Debug("favorites: remote unreachable, local mutation kept", "entry", entryID)
			return nil
		}
		return fmt.Errorf("favorites: %w", ErrOfflineUnavailable)
	}

	err := f.mutateRemote(ctx, entryID, favorite)
	if err != nil && localDone {
		// Local state drives the user's immediate experience; the next
		// full sync reconciles from remote's favorite-id set.
		f.logger.Warn("favorites: remote mutation failed after local write", "entry", entryID, "error", err)
		return nil
	}
	return err
}

func (f *Favorites) mutateRemote(ctx context.Context, entryID string, favorite bool) error {
	userID := f.identity.CurrentUserID()
	if userID == "" {
		return ErrNoUser
	}

	if !favorite {
		return f.gateway.DeleteFavorite(ctx, userID, entryID)
	}

	// Idempotent add: look before inserting, and treat an existing link
	// as done.
	exists, err := f.gateway.HasFavorite(ctx, userID, entryID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	return f.gateway.InsertFavorite(ctx, FavoriteLink{
		ID:        ulid.Make().String(),
		UserID:    userID,
		EntryID:   entryID,
		CreatedAt: time.Now().UTC(),
	})
}

// IsFavorited reports whether an entry is favorited, using the same
// tiering as reads. It drives non-critical UI state, so every ambiguous
// or error state resolves to false instead of propagating.
func (f *Favorites) IsFavorited(ctx context.Context, entryID string) bool {
	if f.access.CheckAccess(ctx) && f.hasLocalCopy() {
		entry, err := f.store.GetByID(entryID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				f.logger.Debug("favorites: local check failed", "entry", entryID, "error", err)
			}
			return false
		}
		return entry.IsFavorite
	}

	userID := f.identity.CurrentUserID()
	if userID == "" || !f.gateway.Reachable(ctx) {
		return false
	}

	exists, err := f.gateway.HasFavorite(ctx, userID, entryID)
	if err != nil {
		f.logger.Debug("favorites: remote check failed", "entry", entryID, "error", err)
		return false
	}
	return exists
}

func (f *Favorites) hasLocalCopy() bool {
	if !f.store.VerifySchema() {
		return false
	}
	count, err := f.store.RowCount()
	return err == nil && count > 0
}
