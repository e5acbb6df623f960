package qamus

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const accessKeyPrefix = "has_access:"

// AccessManager answers "does the current user have offline access"
// from three tiers with strict precedence: structured local profile,
// lightweight key-value cache, then remote. The local tiers are derived
// accelerators; when no tier can answer, the check fails closed.
type AccessManager struct {
	store    *Store
	cache    KVCache
	gateway  Gateway
	identity Identity
	logger   *slog.Logger
}

// NewAccessManager wires the three entitlement tiers.
func NewAccessManager(store *Store, cache KVCache, gateway Gateway, identity Identity, logger *slog.Logger) *AccessManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessManager{
		store:    store,
		cache:    cache,
		gateway:  gateway,
		identity: identity,
		logger:   logger,
	}
}

// CheckAccess resolves the premium flag for the current user.
//
// Tier order: structured profile (trusted because it was populated from
// a prior authoritative remote read, written through to the light
// cache), then the light cache (allowed to be stale), then a remote
// fetch (written through to both tiers on success). No authenticated
// user, or no tier able to answer, denies. A remote failure is never
// cached, so a later connectivity recovery is not blocked by a
// falsely-cached false.
func (a *AccessManager) CheckAccess(ctx context.Context) bool {
	userID := a.identity.CurrentUserID()
	if userID == "" {
		return false
	}

	if rec, err := a.store.GetProfile(userID); err == nil {
		a.cache.SetBool(accessKeyPrefix+userID, rec.HasAccess)
		return rec.HasAccess
	} else if !errors.Is(err, ErrNotFound) {
		a.logger.Warn("entitlement: profile tier unreadable", "error", err)
	}

	if v, ok := a.cache.GetBool(accessKeyPrefix + userID); ok {
		return v
	}

	rec, err := a.gateway.FetchEntitlement(ctx, userID)
	if err != nil {
		// Fail closed, and do not poison the cache with the denial.
		a.logger.Debug("entitlement: remote fetch failed", "user", userID, "error", err)
		return false
	}

	a.writeThrough(*rec)
	return rec.HasAccess
}

// CacheAccess unconditionally writes the lightweight tier for the
// current user. The purchase bridge calls this ahead of the slower
// profile write to shrink the window where a just-purchased user is
// still denied.
func (a *AccessManager) CacheAccess(flag bool) {
	userID := a.identity.CurrentUserID()
	if userID == "" {
		return
	}
	a.cache.SetBool(accessKeyPrefix+userID, flag)
}

// WriteThrough persists a verified entitlement record to both local
// tiers, light cache first.
func (a *AccessManager) WriteThrough(rec EntitlementRecord) {
	a.writeThrough(rec)
}

func (a *AccessManager) writeThrough(rec EntitlementRecord) {
	a.cache.SetBool(accessKeyPrefix+rec.UserID, rec.HasAccess)
	if rec.LastSynced.IsZero() {
		rec.LastSynced = time.Now().UTC()
	}
	if err := a.store.PutProfile(rec); err != nil {
		a.logger.Warn("entitlement: profile write-through failed", "user", rec.UserID, "error", err)
	}
}

// Invalidate clears the lightweight tier for the current user. Used on
// sign-out; the structured profile tier survives until WipeProfile.
func (a *AccessManager) Invalidate() {
	userID := a.identity.CurrentUserID()
	if userID == "" {
		return
	}
	a.cache.Delete(accessKeyPrefix + userID)
}

// WipeProfile clears both local tiers for the current user, so a later
// session under a different account cannot inherit premium status.
func (a *AccessManager) WipeProfile() error {
	userID := a.identity.CurrentUserID()
	if userID == "" {
		return ErrNoUser
	}
	a.cache.Delete(accessKeyPrefix + userID)
	return a.store.DeleteProfile(userID)
}
