package qamus

import (
	"context"
	"fmt"
	"log/slog"
)

// AdvisoryFunc receives non-blocking advisory notifications from the
// router, e.g. "download the dictionary for faster search".
type AdvisoryFunc func(message string)

// Router decides, per read, whether to serve from the local store or
// the remote gateway. Premium users with a valid local copy are always
// served locally, even when remote is reachable; everyone else is
// served remotely when online. No viable route fails with
// ErrOfflineUnavailable, which is "no route", not "not entitled".
type Router struct {
	store    *Store
	gateway  Gateway
	access   *AccessManager
	identity Identity
	advisory AdvisoryFunc
	logger   *slog.Logger
}

// NewRouter creates a query router. advisory may be nil.
func NewRouter(store *Store, gateway Gateway, access *AccessManager, identity Identity, advisory AdvisoryFunc, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:    store,
		gateway:  gateway,
		access:   access,
		identity: identity,
		advisory: advisory,
		logger:   logger,
	}
}

// route computes the explicit routing inputs for one operation.
func (r *Router) route(ctx context.Context) (premium, hasLocal bool, conn ConnectivityState) {
	premium = r.access.CheckAccess(ctx)
	hasLocal = r.hasLocalCopy()
	if r.gateway.Reachable(ctx) {
		conn = ConnectivityOnline
	} else {
		conn = ConnectivityOffline
	}

	if premium && !hasLocal {
		r.notifyAdvisory("download the dictionary for faster offline search")
	}
	return premium, hasLocal, conn
}

func (r *Router) hasLocalCopy() bool {
	if !r.store.VerifySchema() {
		return false
	}
	count, err := r.store.RowCount()
	return err == nil && count > 0
}

func (r *Router) notifyAdvisory(message string) {
	if r.advisory == nil {
		return
	}
	r.advisory(message)
}

// Search finds entries whose term or script contains the given text.
// Remote-served results follow the 1-indexed page contract and carry
// the exact total; locally-served results apply the same slicing in
// memory so callers see one shape.
func (r *Router) Search(ctx context.Context, term string, page Page) (*SearchResult, error) {
	premium, hasLocal, conn := r.route(ctx)

	if premium && hasLocal {
		entries, err := r.store.Search(term)
		if err != nil {
			return nil, err
		}
		return paginateLocal(entries, page), nil
	}

	if conn == ConnectivityOnline {
		result, err := r.gateway.SearchEntries(ctx, term, page)
		if err != nil {
			return nil, fmt.Errorf("router: remote search: %w", err)
		}
		result.Source = SourceRemote
		return result, nil
	}

	return nil, fmt.Errorf("router: search: %w", ErrOfflineUnavailable)
}

// GetByID returns one entry with variants. ErrNotFound passes through
// from whichever store served the lookup.
func (r *Router) GetByID(ctx context.Context, id string) (*Entry, error) {
	premium, hasLocal, conn := r.route(ctx)

	if premium && hasLocal {
		return r.store.GetByID(id)
	}

	if conn == ConnectivityOnline {
		return r.gateway.GetEntry(ctx, id)
	}

	return nil, fmt.Errorf("router: get %s: %w", id, ErrOfflineUnavailable)
}

// ListFavorites returns the current user's favorites, ordered by term.
func (r *Router) ListFavorites(ctx context.Context) ([]Entry, error) {
	premium, hasLocal, conn := r.route(ctx)

	if premium && hasLocal {
		return r.store.ListFavorites()
	}

	if conn == ConnectivityOnline {
		userID := r.identity.CurrentUserID()
		if userID == "" {
			return nil, ErrNoUser
		}
		entries, err := r.gateway.ListFavorites(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("router: remote favorites: %w", err)
		}
		return entries, nil
	}

	return nil, fmt.Errorf("router: list favorites: %w", ErrOfflineUnavailable)
}

// paginateLocal slices an already-ordered local result set with the
// remote pagination semantics. A zero page size returns everything as
// page 1.
func paginateLocal(entries []Entry, page Page) *SearchResult {
	total := len(entries)
	if page.Size <= 0 {
		return &SearchResult{Entries: entries, Page: 1, Size: total, Total: total, Source: SourceLocal}
	}

	start := page.Offset()
	if start > total {
		start = total
	}
	end := start + page.Size
	if end > total {
		end = total
	}

	number := page.Number
	if number < 1 {
		number = 1
	}
	return &SearchResult{
		Entries: entries[start:end],
		Page:    number,
		Size:    page.Size,
		Total:   total,
		Source:  SourceLocal,
	}
}
