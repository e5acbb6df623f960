package qamus

import (
	"context"
	"errors"
	"testing"
)

func newTestFavorites(t *testing.T, gateway Gateway, identity Identity) (*Favorites, *Store, *AccessManager) {
	t.Helper()
	store := newTestStore(t)
	access := NewAccessManager(store, NewMemoryCache(), gateway, identity, nil)
	return NewFavorites(store, gateway, access, identity, nil), store, access
}

func TestFavoritesAdd_WritesBothStores(t *testing.T) {
	gateway := newFakeGateway()
	gateway.entries = fixtureEntries()
	gateway.grantAccess("user-1")
	identity := &fakeIdentity{userID: "user-1"}
	favorites, store, _ := newTestFavorites(t, gateway, identity)
	seedStore(t, store)

	if err := favorites.Add(context.Background(), "entry-book"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	entry, err := store.GetByID("entry-book")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !entry.IsFavorite {
		t.Error("local favorite flag not set")
	}
	if !gateway.favorites["user-1"]["entry-book"] {
		t.Error("remote favorite link not created")
	}
}

// TestFavoritesAdd_DuplicateIsNoOp verifies the look-before-insert path
// keeps duplicate adds idempotent end to end.
func TestFavoritesAdd_DuplicateIsNoOp(t *testing.T) {
	gateway := newFakeGateway()
	gateway.entries = fixtureEntries()
	gateway.grantAccess("user-1")
	identity := &fakeIdentity{userID: "user-1"}
	favorites, store, _ := newTestFavorites(t, gateway, identity)
	seedStore(t, store)

	for i := 0; i < 2; i++ {
		if err := favorites.Add(context.Background(), "entry-book"); err != nil {
			t.Fatalf("Add run %d failed: %v", i+1, err)
		}
	}
	if len(gateway.favorites["user-1"]) != 1 {
		t.Errorf("remote links = %d, want 1", len(gateway.favorites["user-1"]))
	}
}

func TestFavoritesRemove_NeverFavoritedIsNoOp(t *testing.T) {
	gateway := newFakeGateway()
	gateway.entries = fixtureEntries()
	gateway.grantAccess("user-1")
	identity := &fakeIdentity{userID: "user-1"}
	favorites, store, _ := newTestFavorites(t, gateway, identity)
	seedStore(t, store)

	if err := favorites.Remove(context.Background(), "entry-book"); err != nil {
		t.Errorf("Remove on a never-favorited entry = %v, want nil", err)
	}
}

// TestFavoritesAdd_OfflineLocalOnly verifies an entitled offline user
// still gets the local mutation, remote catching up later.
func TestFavoritesAdd_OfflineLocalOnly(t *testing.T) {
	gateway := newFakeGateway()
	gateway.reachable = false
	identity := &fakeIdentity{userID: "user-1"}
	favorites, store, access := newTestFavorites(t, gateway, identity)
	access.WriteThrough(EntitlementRecord{UserID: "user-1", HasAccess: true})
	seedStore(t, store)

	if err := favorites.Add(context.Background(), "entry-book"); err != nil {
		t.Fatalf("offline Add = %v, want nil", err)
	}

	entry, err := store.GetByID("entry-book")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !entry.IsFavorite {
		t.Error("local favorite flag not set while offline")
	}
	if len(gateway.favorites["user-1"]) != 0 {
		t.Error("remote link created despite being unreachable")
	}
}

func TestFavoritesAdd_NoRouteFails(t *testing.T) {
	gateway := newFakeGateway()
	gateway.reachable = false
	identity := &fakeIdentity{userID: "user-1"}
	favorites, _, _ := newTestFavorites(t, gateway, identity)

	err := favorites.Add(context.Background(), "entry-book")
	if !errors.Is(err, ErrOfflineUnavailable) {
		t.Errorf("Add = %v, want ErrOfflineUnavailable", err)
	}
}

// TestFavoritesAdd_RemoteFailureAfterLocalSuccess verifies the remote
// error is swallowed once local state is updated.
func TestFavoritesAdd_RemoteFailureAfterLocalSuccess(t *testing.T) {
	gateway := newFakeGateway()
	gateway.entries = fixtureEntries()
	gateway.grantAccess("user-1")
	gateway.favoritesErr = errors.New("remote exploded")
	identity := &fakeIdentity{userID: "user-1"}
	favorites, store, _ := newTestFavorites(t, gateway, identity)
	seedStore(t, store)

	if err := favorites.Add(context.Background(), "entry-book"); err != nil {
		t.Errorf("Add = %v, want nil (local write succeeded)", err)
	}

	entry, err := store.GetByID("entry-book")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !entry.IsFavorite {
		t.Error("local favorite flag not set")
	}
}

func TestFavoritesAdd_RemoteOnlyForNonPremium(t *testing.T) {
	gateway := newFakeGateway()
	gateway.entries = fixtureEntries()
	identity := &fakeIdentity{userID: "user-1"}
	favorites, store, _ := newTestFavorites(t, gateway, identity)

	if err := favorites.Add(context.Background(), "entry-book"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if !gateway.favorites["user-1"]["entry-book"] {
		t.Error("remote favorite link not created")
	}

	// No local copy, so nothing to flag locally.
	count, _ := store.RowCount()
	if count != 0 {
		t.Errorf("RowCount = %d, want 0", count)
	}
}

func TestFavoritesRemove_ClearsBothStores(t *testing.T) {
	gateway := newFakeGateway()
	gateway.entries = fixtureEntries()
	gateway.grantAccess("user-1")
	identity := &fakeIdentity{userID: "user-1"}
	favorites, store, _ := newTestFavorites(t, gateway, identity)
	seedStore(t, store)

	if err := favorites.Add(context.Background(), "entry-book"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := favorites.Remove(context.Background(), "entry-book"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	entry, err := store.GetByID("entry-book")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if entry.IsFavorite {
		t.Error("local favorite flag still set after Remove")
	}
	if gateway.favorites["user-1"]["entry-book"] {
		t.Error("remote link still present after Remove")
	}
}

func TestIsFavorited_LocalTier(t *testing.T) {
	gateway := newFakeGateway()
	gateway.grantAccess("user-1")
	identity := &fakeIdentity{userID: "user-1"}
	favorites, store, _ := newTestFavorites(t, gateway, identity)
	seedStore(t, store)

	if favorites.IsFavorited(context.Background(), "entry-book") {
		t.Error("IsFavorited = true before any Add")
	}

	if err := store.SetFavorite("entry-book", true); err != nil {
		t.Fatalf("SetFavorite failed: %v", err)
	}
	if !favorites.IsFavorited(context.Background(), "entry-book") {
		t.Error("IsFavorited = false after local flag set")
	}
}

func TestIsFavorited_RemoteTier(t *testing.T) {
	gateway := newFakeGateway()
	gateway.entries = fixtureEntries()
	gateway.favorites["user-1"] = map[string]bool{"entry-book": true}
	identity := &fakeIdentity{userID: "user-1"}
	favorites, _, _ := newTestFavorites(t, gateway, identity)

	if !favorites.IsFavorited(context.Background(), "entry-book") {
		t.Error("IsFavorited = false, want true from remote")
	}
}

// TestIsFavorited_ResolvesFalseOnAmbiguity verifies every error path
// answers false rather than propagating.
func TestIsFavorited_ResolvesFalseOnAmbiguity(t *testing.T) {
	gateway := newFakeGateway()
	gateway.reachable = false
	identity := &fakeIdentity{userID: "user-1"}
	favorites, _, _ := newTestFavorites(t, gateway, identity)

	if favorites.IsFavorited(context.Background(), "entry-book") {
		t.Error("IsFavorited = true with no route, want false")
	}

	gateway.mu.Lock()
	gateway.reachable = true
	gateway.favoritesErr = errors.New("remote exploded")
	gateway.mu.Unlock()

	if favorites.IsFavorited(context.Background(), "entry-book") {
		t.Error("IsFavorited = true on remote error, want false")
	}

	identity.setUser("")
	if favorites.IsFavorited(context.Background(), "entry-book") {
		t.Error("IsFavorited = true with no user, want false")
	}
}
