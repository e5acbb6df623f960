package qamus

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
)

// newTestStore creates a store backed by a temp database that is closed
// and removed when the test ends.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// fixtureEntries is a small seed dictionary shared across tests.
func fixtureEntries() []Entry {
	return []Entry{
		{
			ID:       "entry-hello",
			Term:     "hello",
			Script:   "مرحبا",
			Category: CategoryPhrase,
			Variants: []Variant{
				{
					ID:              "variant-hello-1",
					EntryID:         "entry-hello",
					Transliteration: "marhaban",
					Detail:          "greeting",
					Dialects:        []Dialect{{ID: "dialect-msa", Name: "Modern Standard Arabic"}},
				},
			},
		},
		{
			ID:         "entry-book",
			Term:       "book",
			Script:     "كتاب",
			Category:   CategoryNoun,
			Definition: "a written work",
			Frequency:  FrequencyCore,
		},
		{
			ID:       "entry-write",
			Term:     "to write",
			Script:   "كتب",
			Category: CategoryVerb,
		},
	}
}

// seedStore writes the fixture dictionary into a fresh test store.
func seedStore(t *testing.T, store *Store) {
	t.Helper()
	if err := store.UpsertBatch(fixtureEntries()); err != nil {
		t.Fatalf("UpsertBatch failed: %v", err)
	}
}

// fakeGateway is an in-memory qamus.Gateway with injectable failures.
type fakeGateway struct {
	mu sync.Mutex

	reachable    bool
	entries      []Entry
	favorites    map[string]map[string]bool
	entitlements map[string]EntitlementRecord

	fetchErr       error
	favoritesErr   error
	entitlementErr error
	insertFavErr   error

	fetchCalls       int
	searchCalls      int
	entitlementCalls int

	// When fetchGate is non-nil, FetchAllEntries signals fetchStarted
	// and blocks until fetchGate closes.
	fetchStarted chan struct{}
	fetchGate    chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		reachable:    true,
		favorites:    map[string]map[string]bool{},
		entitlements: map[string]EntitlementRecord{},
	}
}

func (g *fakeGateway) grantAccess(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entitlements[userID] = EntitlementRecord{UserID: userID, HasAccess: true}
}

func (g *fakeGateway) Reachable(context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reachable
}

func (g *fakeGateway) FetchAllEntries(context.Context) ([]Entry, error) {
	g.mu.Lock()
	g.fetchCalls++
	gate := g.fetchGate
	started := g.fetchStarted
	err := g.fetchErr
	entries := append([]Entry(nil), g.entries...)
	g.mu.Unlock()

	if gate != nil {
		if started != nil {
			close(started)
			g.mu.Lock()
			g.fetchStarted = nil
			g.mu.Unlock()
		}
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (g *fakeGateway) SearchEntries(_ context.Context, term string, page Page) (*SearchResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.searchCalls++

	term = strings.ToLower(strings.TrimSpace(term))
	matched := []Entry{}
	for _, e := range g.entries {
		if term == "" {
			break
		}
		if strings.Contains(strings.ToLower(e.Term), term) || strings.Contains(e.Script, term) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Term < matched[j].Term })

	size := page.Size
	if size <= 0 {
		size = 20
	}
	number := page.Number
	if number < 1 {
		number = 1
	}
	total := len(matched)
	start := (number - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}

	return &SearchResult{
		Entries: matched[start:end],
		Page:    number,
		Size:    size,
		Total:   total,
		Source:  SourceRemote,
	}, nil
}

func (g *fakeGateway) GetEntry(_ context.Context, id string) (*Entry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range g.entries {
		if e.ID == id {
			entry := e
			return &entry, nil
		}
	}
	return nil, ErrNotFound
}

func (g *fakeGateway) FetchFavoriteIDs(_ context.Context, userID string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.favoritesErr != nil {
		return nil, g.favoritesErr
	}
	ids := []string{}
	for id := range g.favorites[userID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (g *fakeGateway) ListFavorites(_ context.Context, userID string) ([]Entry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.favoritesErr != nil {
		return nil, g.favoritesErr
	}
	entries := []Entry{}
	for _, e := range g.entries {
		if g.favorites[userID][e.ID] {
			e.IsFavorite = true
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Term < entries[j].Term })
	return entries, nil
}

func (g *fakeGateway) HasFavorite(_ context.Context, userID, entryID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.favoritesErr != nil {
		return false, g.favoritesErr
	}
	return g.favorites[userID][entryID], nil
}

func (g *fakeGateway) InsertFavorite(_ context.Context, link FavoriteLink) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.insertFavErr != nil {
		return g.insertFavErr
	}
	if g.favorites[link.UserID][link.EntryID] {
		return errors.New("duplicate favorite link")
	}
	if g.favorites[link.UserID] == nil {
		g.favorites[link.UserID] = map[string]bool{}
	}
	g.favorites[link.UserID][link.EntryID] = true
	return nil
}

func (g *fakeGateway) DeleteFavorite(_ context.Context, userID, entryID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.favoritesErr != nil {
		return g.favoritesErr
	}
	delete(g.favorites[userID], entryID)
	return nil
}

func (g *fakeGateway) FetchEntitlement(_ context.Context, userID string) (*EntitlementRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entitlementCalls++
	if g.entitlementErr != nil {
		return nil, g.entitlementErr
	}
	rec, ok := g.entitlements[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (g *fakeGateway) UpdateEntitlement(_ context.Context, rec EntitlementRecord) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.entitlementErr != nil {
		return 0, g.entitlementErr
	}
	if _, ok := g.entitlements[rec.UserID]; !ok {
		return 0, nil
	}
	g.entitlements[rec.UserID] = rec
	return 1, nil
}

func (g *fakeGateway) InsertEntitlement(_ context.Context, rec EntitlementRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.entitlementErr != nil {
		return g.entitlementErr
	}
	if _, ok := g.entitlements[rec.UserID]; ok {
		// Conflict is success by contract.
		return nil
	}
	g.entitlements[rec.UserID] = rec
	return nil
}

func (g *fakeGateway) DeleteUserData(_ context.Context, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.favorites, userID)
	delete(g.entitlements, userID)
	return nil
}

// fakeIdentity is a settable identity provider.
type fakeIdentity struct {
	mu     sync.Mutex
	userID string
}

func (i *fakeIdentity) CurrentUserID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.userID
}

func (i *fakeIdentity) setUser(userID string) {
	i.mu.Lock()
	i.userID = userID
	i.mu.Unlock()
}

func (i *fakeIdentity) SignIn(_ context.Context, email, _ string) error {
	i.setUser(email)
	return nil
}

func (i *fakeIdentity) SignUp(_ context.Context, email, _ string) error {
	i.setUser(email)
	return nil
}

func (i *fakeIdentity) SignOut(context.Context) error {
	i.setUser("")
	return nil
}

func (i *fakeIdentity) DeleteAccount(context.Context) error {
	i.setUser("")
	return nil
}

// fakeBilling is an in-memory billing platform with a scripted event
// stream.
type fakeBilling struct {
	mu sync.Mutex

	available bool
	product   *Product
	queryErr  error

	updates chan PurchaseEvent

	purchased []string
	consumed  []string
	completed []string
	restored  bool
}

func newFakeBilling() *fakeBilling {
	return &fakeBilling{
		available: true,
		product:   &Product{ID: DefaultProductID, Title: "Offline Access", Price: "4.99"},
		updates:   make(chan PurchaseEvent, 8),
	}
}

func (b *fakeBilling) Available(context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.available
}

func (b *fakeBilling) QueryProduct(_ context.Context, productID string) (*Product, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queryErr != nil {
		return nil, b.queryErr
	}
	if b.product != nil && b.product.ID == productID {
		return b.product, nil
	}
	return nil, nil
}

func (b *fakeBilling) Purchase(_ context.Context, productID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.purchased = append(b.purchased, productID)
	return nil
}

func (b *fakeBilling) Updates() <-chan PurchaseEvent {
	return b.updates
}

func (b *fakeBilling) Consume(_ context.Context, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consumed = append(b.consumed, token)
	return nil
}

func (b *fakeBilling) CompletePurchase(_ context.Context, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completed = append(b.completed, token)
	return nil
}

func (b *fakeBilling) RestorePurchases(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.restored = true
	return nil
}

func (b *fakeBilling) completedCount(token string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, t := range b.completed {
		if t == token {
			n++
		}
	}
	return n
}

func (b *fakeBilling) consumedCount(token string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, t := range b.consumed {
		if t == token {
			n++
		}
	}
	return n
}

// rejectVerifier fails every verification.
type rejectVerifier struct{}

func (rejectVerifier) Verify(context.Context, string, []byte) (bool, error) {
	return false, nil
}

// manyEntries builds n distinct entries for batch tests.
func manyEntries(n int) []Entry {
	entries := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, Entry{
			ID:       fmt.Sprintf("entry-%04d", i),
			Term:     fmt.Sprintf("term %04d", i),
			Script:   fmt.Sprintf("نص %04d", i),
			Category: CategoryNoun,
		})
	}
	return entries
}
