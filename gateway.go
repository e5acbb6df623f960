package qamus

import "context"

// Gateway is the narrow interface the core consumes from the remote
// relational store. Implementations issue filtered, paginated reads and
// keyed writes; the core never builds query strings itself.
//
// The default implementation lives in internal/remote and talks to a
// PostgREST-style REST API. Tests inject fakes.
type Gateway interface {
	// Reachable probes remote connectivity. It must be cheap; routing
	// decisions call it once per operation.
	Reachable(ctx context.Context) bool

	// FetchAllEntries returns the full dictionary with nested variants
	// and dialect tags. Used by the full-refresh sync.
	FetchAllEntries(ctx context.Context) ([]Entry, error)

	// SearchEntries returns one page of entries whose term or script
	// contains term (case-insensitive), plus the exact total match
	// count computed with the same filter.
	SearchEntries(ctx context.Context, term string, page Page) (*SearchResult, error)

	// GetEntry returns one entry with variants, or ErrNotFound.
	GetEntry(ctx context.Context, id string) (*Entry, error)

	// FetchFavoriteIDs returns the entry ids the user has favorited.
	FetchFavoriteIDs(ctx context.Context, userID string) ([]string, error)

	// ListFavorites returns the user's favorited entries.
	ListFavorites(ctx context.Context, userID string) ([]Entry, error)

	// HasFavorite reports whether a (user, entry) link exists.
	HasFavorite(ctx context.Context, userID, entryID string) (bool, error)

	// InsertFavorite creates a (user, entry) link. Implementations may
	// reject duplicates; callers treat duplicates as a no-op.
	InsertFavorite(ctx context.Context, link FavoriteLink) error

	// DeleteFavorite removes a (user, entry) link; a no-op if absent.
	DeleteFavorite(ctx context.Context, userID, entryID string) error

	// FetchEntitlement returns the user's entitlement record, or
	// ErrNotFound when no profile row exists yet.
	FetchEntitlement(ctx context.Context, userID string) (*EntitlementRecord, error)

	// UpdateEntitlement updates an existing record and reports how many
	// rows were affected. Zero rows means the profile row is missing
	// and the caller should fall back to InsertEntitlement.
	UpdateEntitlement(ctx context.Context, rec EntitlementRecord) (int, error)

	// InsertEntitlement creates the profile row. "Row already exists"
	// must be treated as success by callers (the create may race a
	// concurrent update).
	InsertEntitlement(ctx context.Context, rec EntitlementRecord) error

	// DeleteUserData removes the user's remote profile and favorite
	// links, used by account deletion before the identity record goes.
	DeleteUserData(ctx context.Context, userID string) error
}
