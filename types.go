package qamus

import "time"

// Entry is a dictionary headword with its translations and metadata.
type Entry struct {
	ID         string    `json:"id"`
	Term       string    `json:"term"`
	Script     string    `json:"script"`
	Category   Category  `json:"category"`
	Definition string    `json:"definition,omitempty"`
	Frequency  Frequency `json:"frequency,omitempty"`
	Variants   []Variant `json:"variants,omitempty"`

	// IsFavorite is a per-user annotation. The local store folds it into
	// the entry row; remotely it lives in a separate favorites relation.
	IsFavorite bool `json:"is_favorite"`
}

// Variant is a conjugated or dialectal form of an Entry. A variant
// belongs to exactly one entry and is removed with it.
type Variant struct {
	ID              string    `json:"id"`
	EntryID         string    `json:"entry_id"`
	ScriptVariant   string    `json:"script_variant,omitempty"`
	Transliteration string    `json:"transliteration"`
	Detail          string    `json:"detail"`
	AudioRef        string    `json:"audio_ref,omitempty"`
	Dialects        []Dialect `json:"dialects,omitempty"`
}

// Dialect tags a variant with a regional usage. Dialect data is
// read-only lookup data; the core never mutates it.
type Dialect struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Category classifies the grammatical role of an entry.
type Category string

const (
	CategoryNoun      Category = "noun"
	CategoryVerb      Category = "verb"
	CategoryAdjective Category = "adjective"
	CategoryAdverb    Category = "adverb"
	CategoryParticle  Category = "particle"
	CategoryPhrase    Category = "phrase"
)

// ValidCategories returns all valid grammatical categories.
func ValidCategories() []Category {
	return []Category{
		CategoryNoun,
		CategoryVerb,
		CategoryAdjective,
		CategoryAdverb,
		CategoryParticle,
		CategoryPhrase,
	}
}

// IsValid checks if the category is a valid grammatical category.
func (c Category) IsValid() bool {
	for _, valid := range ValidCategories() {
		if c == valid {
			return true
		}
	}
	return false
}

// Frequency classifies how common an entry is. Empty means unclassified.
type Frequency string

const (
	FrequencyCore     Frequency = "core"
	FrequencyCommon   Frequency = "common"
	FrequencyUncommon Frequency = "uncommon"
	FrequencyRare     Frequency = "rare"
)

// IsValid checks if the frequency is a known classification.
// The empty value is valid (unclassified).
func (f Frequency) IsValid() bool {
	switch f {
	case "", FrequencyCore, FrequencyCommon, FrequencyUncommon, FrequencyRare:
		return true
	}
	return false
}

// FavoriteLink is a (user, entry) favorite relation row.
type FavoriteLink struct {
	ID        string    `json:"id,omitempty"`
	UserID    string    `json:"user_id"`
	EntryID   string    `json:"entry_id"`
	CreatedAt time.Time `json:"created_at"`
}

// EntitlementRecord is the remote source of truth for a user's
// premium/offline-access right. Local copies are derived accelerators
// and never authoritative.
type EntitlementRecord struct {
	UserID     string     `json:"user_id"`
	HasAccess  bool       `json:"has_access"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastSynced time.Time  `json:"last_synced"`
}

// SyncState describes where a sync run currently is.
type SyncState string

const (
	SyncIdle      SyncState = "idle"
	SyncChecking  SyncState = "checking-entitlement"
	SyncDenied    SyncState = "denied"
	SyncFetching  SyncState = "fetching"
	SyncWriting   SyncState = "writing"
	SyncVerifying SyncState = "verifying"
	SyncDone      SyncState = "done"
	SyncFailed    SyncState = "failed"
)

// ProgressFunc reports sync progress as a fraction in [0, 1].
type ProgressFunc func(fraction float64)

// ConnectivityState is the router's explicit view of remote
// reachability, computed per operation rather than inferred from a
// nullable handle.
type ConnectivityState int

const (
	ConnectivityUnknown ConnectivityState = iota
	ConnectivityOnline
	ConnectivityOffline
)

func (s ConnectivityState) String() string {
	switch s {
	case ConnectivityOnline:
		return "online"
	case ConnectivityOffline:
		return "offline"
	}
	return "unknown"
}

// Page addresses one page of a remote-served result set.
// Pages are 1-indexed; offset = (Number-1) * Size.
type Page struct {
	Number int `json:"page"`
	Size   int `json:"size"`
}

// Offset returns the row offset for the page.
func (p Page) Offset() int {
	if p.Number < 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// SearchResult carries one page of matching entries plus the exact
// total so callers can compute page counts without refetching.
type SearchResult struct {
	Entries []Entry      `json:"entries"`
	Page    int          `json:"page"`
	Size    int          `json:"size"`
	Total   int          `json:"total"`
	Source  ResultSource `json:"source"`
}

// ResultSource identifies the store a read was served from.
type ResultSource string

const (
	SourceLocal  ResultSource = "local"
	SourceRemote ResultSource = "remote"
)

// PurchaseStatus is the state of a platform billing event.
type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchasePurchased PurchaseStatus = "purchased"
	PurchaseRestored  PurchaseStatus = "restored"
	PurchaseError     PurchaseStatus = "error"
	PurchaseCanceled  PurchaseStatus = "canceled"
)

// PurchaseEvent is one element of the platform billing event stream.
type PurchaseEvent struct {
	ProductID        string         `json:"product_id"`
	Status           PurchaseStatus `json:"status"`
	PurchaseToken    string         `json:"purchase_token,omitempty"`
	VerificationData []byte         `json:"-"`

	// PendingComplete reports whether the platform still expects an
	// explicit completion call for this event. Every such event must be
	// completed exactly once, regardless of outcome.
	PendingComplete bool   `json:"pending_complete"`
	Err             string `json:"error,omitempty"`
}

// Product describes a billing-store product.
type Product struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       string `json:"price"`
}

// GrantStage describes where a purchase attempt currently is.
type GrantStage string

const (
	GrantIdle      GrantStage = "idle"
	GrantAwaiting  GrantStage = "awaiting-store-response"
	GrantVerifying GrantStage = "verifying"
	GrantGranting  GrantStage = "granting"
	GrantConsuming GrantStage = "consuming"
	GrantDone      GrantStage = "done"
	GrantDenied    GrantStage = "denied"
)

// PurchaseNotice is the user-facing outcome of one purchase event.
// The bridge never lets an error escape its event loop; every failure
// becomes a notice instead.
type PurchaseNotice struct {
	AttemptID string     `json:"attempt_id"`
	ProductID string     `json:"product_id"`
	Stage     GrantStage `json:"stage"`
	Granted   bool       `json:"granted"`
	Err       error      `json:"-"`
}

// StoreStats summarizes the local store.
type StoreStats struct {
	EntryCount    int       `json:"entry_count"`
	FavoriteCount int       `json:"favorite_count"`
	LastSync      time.Time `json:"last_sync"`
	SchemaVersion string    `json:"schema_version"`
}

// UpsertBatchSize bounds how many entries are written per transaction
// during a full sync.
const UpsertBatchSize = 100

// BillingQueryTimeout bounds waits on billing-platform queries.
const BillingQueryTimeout = 15 * time.Second
