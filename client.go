package qamus

import (
	"context"
	"fmt"
)

// Dependencies are the injected collaborator handles, each
// independently mockable. Any nil field falls back to a default: an
// always-offline gateway (construct the REST one with
// remote.NewGateway and inject it here), an anonymous identity, an
// in-process cache, and a stub verifier. Billing has no default;
// purchases are unavailable without it.
type Dependencies struct {
	Gateway  Gateway
	Identity Identity
	Billing  Billing
	Verifier Verifier
	Cache    KVCache

	// Advisory receives non-blocking router notifications, e.g.
	// "download for faster search". Optional.
	Advisory AdvisoryFunc
}

// Client is the main entry point: it owns the local store and exposes
// the routed reads, favorites reconciliation, the sync engine, the
// entitlement check, and the purchase bridge.
type Client struct {
	store     *Store
	gateway   Gateway
	identity  Identity
	access    *AccessManager
	syncer    *Syncer
	router    *Router
	favorites *Favorites
	bridge    *Bridge
	config    Config
}

// New creates a qamus client.
func New(cfg Config, deps Dependencies) (*Client, error) {
	cfg = cfg.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	if cfg.Logger != nil {
		st.logger = cfg.Logger
	}

	gateway := deps.Gateway
	if gateway == nil {
		gateway = offlineGateway{}
	}

	identity := deps.Identity
	if identity == nil {
		identity = anonymousIdentity{}
	}

	cache := deps.Cache
	if cache == nil {
		cache = NewMemoryCache()
	}

	c := &Client{
		store:    st,
		gateway:  gateway,
		identity: identity,
		config:   cfg,
	}

	c.access = NewAccessManager(st, cache, gateway, identity, cfg.Logger)
	c.syncer = NewSyncer(st, gateway, c.access, identity, cfg.Logger)
	c.router = NewRouter(st, gateway, c.access, identity, deps.Advisory, cfg.Logger)
	c.favorites = NewFavorites(st, gateway, c.access, identity, cfg.Logger)

	if deps.Billing != nil {
		c.bridge = NewBridge(deps.Billing, deps.Verifier, gateway, c.access, c.syncer, identity, cfg.ProductID, cfg.Logger)
	}

	return c, nil
}

// Search finds entries matching the term, routed per entitlement,
// local-copy and connectivity state.
func (c *Client) Search(ctx context.Context, term string, page Page) (*SearchResult, error) {
	return c.router.Search(ctx, term, page)
}

// GetByID returns one entry with its variants.
func (c *Client) GetByID(ctx context.Context, id string) (*Entry, error) {
	return c.router.GetByID(ctx, id)
}

// ListFavorites returns the current user's favorites.
func (c *Client) ListFavorites(ctx context.Context) ([]Entry, error) {
	return c.router.ListFavorites(ctx)
}

// AddFavorite marks an entry as a favorite in every available store.
func (c *Client) AddFavorite(ctx context.Context, entryID string) error {
	return c.favorites.Add(ctx, entryID)
}

// RemoveFavorite clears the favorite flag in every available store.
func (c *Client) RemoveFavorite(ctx context.Context, entryID string) error {
	return c.favorites.Remove(ctx, entryID)
}

// IsFavorited reports the favorite state, defaulting to false on any
// ambiguity.
func (c *Client) IsFavorited(ctx context.Context, entryID string) bool {
	return c.favorites.IsFavorited(ctx, entryID)
}

// SyncAll downloads the full dictionary into the local store. See
// Syncer.SyncAll for semantics.
func (c *Client) SyncAll(ctx context.Context, onProgress ProgressFunc, force bool) error {
	return c.syncer.SyncAll(ctx, onProgress, force)
}

// SyncState reports where the sync engine currently is.
func (c *Client) SyncState() SyncState {
	return c.syncer.State()
}

// CheckAccess resolves the premium flag for the current user,
// fail-closed.
func (c *Client) CheckAccess(ctx context.Context) bool {
	return c.access.CheckAccess(ctx)
}

// StartPurchase launches the purchase flow for the offline-access
// product. Requires a Billing dependency.
func (c *Client) StartPurchase(ctx context.Context) error {
	if c.bridge == nil {
		return ErrBillingUnavailable
	}
	return c.bridge.StartPurchase(ctx)
}

// RestorePurchases replays owned purchases onto the event stream.
func (c *Client) RestorePurchases(ctx context.Context) error {
	if c.bridge == nil {
		return ErrBillingUnavailable
	}
	return c.bridge.Restore(ctx)
}

// RunBilling consumes the purchase event stream until ctx ends. A
// no-op without a Billing dependency.
func (c *Client) RunBilling(ctx context.Context) {
	if c.bridge == nil {
		return
	}
	c.bridge.Run(ctx)
}

// PurchaseNotices is the stream of user-facing purchase outcomes, or
// nil without a Billing dependency.
func (c *Client) PurchaseNotices() <-chan PurchaseNotice {
	if c.bridge == nil {
		return nil
	}
	return c.bridge.Notices()
}

// SignIn authenticates and leaves entitlement resolution to the next
// CheckAccess call.
func (c *Client) SignIn(ctx context.Context, email, password string) error {
	return c.identity.SignIn(ctx, email, password)
}

// SignUp registers a new account. The remote store creates the profile
// row with the entitlement flag down.
func (c *Client) SignUp(ctx context.Context, email, password string) error {
	return c.identity.SignUp(ctx, email, password)
}

// SignOut clears the lightweight entitlement cache before ending the
// session; the structured profile tier survives for the same account.
func (c *Client) SignOut(ctx context.Context) error {
	c.access.Invalidate()
	return c.identity.SignOut(ctx)
}

// DeleteAccount wipes both local entitlement tiers and the remote
// profile before the identity record goes, so nothing leaks to a later
// account on the same device.
func (c *Client) DeleteAccount(ctx context.Context) error {
	userID := c.identity.CurrentUserID()
	if userID == "" {
		return ErrNoUser
	}

	if err := c.access.WipeProfile(); err != nil {
		return err
	}
	if err := c.gateway.DeleteUserData(ctx, userID); err != nil {
		return fmt.Errorf("client: delete remote data: %w", err)
	}
	return c.identity.DeleteAccount(ctx)
}

// Stats returns local store statistics.
func (c *Client) Stats() (*StoreStats, error) {
	return c.store.Stats()
}

// Close closes the local store.
func (c *Client) Close() error {
	return c.store.Close()
}

// offlineGateway is the default gateway when no remote is configured:
// never reachable, every call a NetworkFault.
type offlineGateway struct{}

func (offlineGateway) Reachable(context.Context) bool { return false }

func (offlineGateway) FetchAllEntries(context.Context) ([]Entry, error) {
	return nil, offlineErr("fetch entries")
}

func (offlineGateway) SearchEntries(context.Context, string, Page) (*SearchResult, error) {
	return nil, offlineErr("search entries")
}

func (offlineGateway) GetEntry(context.Context, string) (*Entry, error) {
	return nil, offlineErr("get entry")
}

func (offlineGateway) FetchFavoriteIDs(context.Context, string) ([]string, error) {
	return nil, offlineErr("fetch favorite ids")
}

func (offlineGateway) ListFavorites(context.Context, string) ([]Entry, error) {
	return nil, offlineErr("list favorites")
}

func (offlineGateway) HasFavorite(context.Context, string, string) (bool, error) {
	return false, offlineErr("check favorite")
}

func (offlineGateway) InsertFavorite(context.Context, FavoriteLink) error {
	return offlineErr("insert favorite")
}

func (offlineGateway) DeleteFavorite(context.Context, string, string) error {
	return offlineErr("delete favorite")
}

func (offlineGateway) FetchEntitlement(context.Context, string) (*EntitlementRecord, error) {
	return nil, offlineErr("fetch entitlement")
}

func (offlineGateway) UpdateEntitlement(context.Context, EntitlementRecord) (int, error) {
	return 0, offlineErr("update entitlement")
}

func (offlineGateway) InsertEntitlement(context.Context, EntitlementRecord) error {
	return offlineErr("insert entitlement")
}

func (offlineGateway) DeleteUserData(context.Context, string) error {
	return offlineErr("delete user data")
}

func offlineErr(op string) error {
	return &NetworkFault{Op: op, Err: ErrOfflineUnavailable}
}

// anonymousIdentity is the default identity when none is injected:
// never authenticated.
type anonymousIdentity struct{}

func (anonymousIdentity) CurrentUserID() string { return "" }

func (anonymousIdentity) SignIn(context.Context, string, string) error { return ErrNoUser }

func (anonymousIdentity) SignUp(context.Context, string, string) error { return ErrNoUser }

func (anonymousIdentity) SignOut(context.Context) error { return nil }

func (anonymousIdentity) DeleteAccount(context.Context) error { return ErrNoUser }
