package qamus

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestClient(t *testing.T, deps Dependencies) *Client {
	t.Helper()
	client, err := New(Config{DBPath: filepath.Join(t.TempDir(), "test.db")}, deps)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{DBPath: "/tmp/q.db", RemoteURL: "https://api.example.com"}, Dependencies{})

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("New = %T, want *ValidationError", err)
	}
	if ve.Field != "APIKey" {
		t.Errorf("Field = %q, want %q", ve.Field, "APIKey")
	}
}

func TestNew_DefaultsToOfflineGateway(t *testing.T) {
	client := newTestClient(t, Dependencies{})

	if client.CheckAccess(context.Background()) {
		t.Error("CheckAccess = true with no gateway and no user")
	}
	_, err := client.Search(context.Background(), "book", Page{Number: 1, Size: 10})
	if !errors.Is(err, ErrOfflineUnavailable) {
		t.Errorf("Search = %v, want ErrOfflineUnavailable", err)
	}
}

// TestClient_PurchaseUnlocksOfflineFlow walks the full user journey:
// sign up, denied sync, purchase, entitled sync, offline search and
// favorites.
func TestClient_PurchaseUnlocksOfflineFlow(t *testing.T) {
	gateway := newFakeGateway()
	gateway.entries = fixtureEntries()
	billing := newFakeBilling()
	identity := &fakeIdentity{}
	client := newTestClient(t, Dependencies{
		Gateway:  gateway,
		Identity: identity,
		Billing:  billing,
	})
	ctx := context.Background()

	if err := client.SignUp(ctx, "user-1", "secret"); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	// Fresh account: no entitlement, sync denied.
	if client.CheckAccess(ctx) {
		t.Fatal("CheckAccess = true for a fresh account")
	}
	if err := client.SyncAll(ctx, nil, false); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("SyncAll = %v, want ErrAccessDenied", err)
	}
	if client.SyncState() != SyncDenied {
		t.Errorf("SyncState = %q, want %q", client.SyncState(), SyncDenied)
	}

	// Purchase lands: the bridge grants, downloads, consumes, completes.
	client.bridge.handleEvent(ctx, PurchaseEvent{
		ProductID:       DefaultProductID,
		Status:          PurchasePurchased,
		PurchaseToken:   "tok-1",
		PendingComplete: true,
	})

	if !client.CheckAccess(ctx) {
		t.Fatal("CheckAccess = false after purchase")
	}
	stats, err := client.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.EntryCount != 3 {
		t.Errorf("EntryCount = %d after purchase-triggered sync, want 3", stats.EntryCount)
	}

	// Remote goes away entirely; the entitled user keeps working.
	gateway.mu.Lock()
	gateway.reachable = false
	gateway.entitlementErr = errors.New("remote down")
	gateway.mu.Unlock()

	result, err := client.Search(ctx, "book", Page{Number: 1, Size: 10})
	if err != nil {
		t.Fatalf("offline Search failed: %v", err)
	}
	if result.Source != SourceLocal || result.Total != 1 {
		t.Errorf("result = %+v, want one locally-served entry", result)
	}

	if err := client.AddFavorite(ctx, "entry-book"); err != nil {
		t.Fatalf("offline AddFavorite failed: %v", err)
	}
	if !client.IsFavorited(ctx, "entry-book") {
		t.Error("IsFavorited = false after offline add")
	}
	favs, err := client.ListFavorites(ctx)
	if err != nil {
		t.Fatalf("ListFavorites failed: %v", err)
	}
	if len(favs) != 1 || favs[0].ID != "entry-book" {
		t.Errorf("favorites = %v, want the single book entry", favs)
	}
}

func TestClient_SignOutInvalidatesLightTierOnly(t *testing.T) {
	gateway := newFakeGateway()
	gateway.grantAccess("user-1")
	identity := &fakeIdentity{userID: "user-1"}
	client := newTestClient(t, Dependencies{Gateway: gateway, Identity: identity})
	ctx := context.Background()

	if !client.CheckAccess(ctx) {
		t.Fatal("setup: CheckAccess = false")
	}
	if err := client.SignOut(ctx); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}

	// Same account signs back in while offline: the profile tier still
	// answers.
	identity.setUser("user-1")
	gateway.mu.Lock()
	gateway.entitlementErr = errors.New("remote down")
	gateway.mu.Unlock()

	if !client.CheckAccess(ctx) {
		t.Error("CheckAccess = false after re-sign-in; profile tier should survive sign-out")
	}
}

func TestClient_DeleteAccountWipesEverything(t *testing.T) {
	gateway := newFakeGateway()
	gateway.entries = fixtureEntries()
	gateway.grantAccess("user-1")
	gateway.favorites["user-1"] = map[string]bool{"entry-book": true}
	identity := &fakeIdentity{userID: "user-1"}
	client := newTestClient(t, Dependencies{Gateway: gateway, Identity: identity})
	ctx := context.Background()

	if !client.CheckAccess(ctx) {
		t.Fatal("setup: CheckAccess = false")
	}

	if err := client.DeleteAccount(ctx); err != nil {
		t.Fatalf("DeleteAccount failed: %v", err)
	}

	if len(gateway.entitlements) != 0 || len(gateway.favorites) != 0 {
		t.Error("remote user data survived DeleteAccount")
	}

	// A different account on the same device inherits nothing.
	identity.setUser("user-2")
	if client.CheckAccess(ctx) {
		t.Error("CheckAccess = true for a different account after DeleteAccount")
	}
}

func TestClient_DeleteAccountNoUser(t *testing.T) {
	client := newTestClient(t, Dependencies{})
	if err := client.DeleteAccount(context.Background()); !errors.Is(err, ErrNoUser) {
		t.Errorf("DeleteAccount = %v, want ErrNoUser", err)
	}
}

func TestClient_PurchaseWithoutBilling(t *testing.T) {
	client := newTestClient(t, Dependencies{})
	ctx := context.Background()

	if err := client.StartPurchase(ctx); !errors.Is(err, ErrBillingUnavailable) {
		t.Errorf("StartPurchase = %v, want ErrBillingUnavailable", err)
	}
	if err := client.RestorePurchases(ctx); !errors.Is(err, ErrBillingUnavailable) {
		t.Errorf("RestorePurchases = %v, want ErrBillingUnavailable", err)
	}
	if client.PurchaseNotices() != nil {
		t.Error("PurchaseNotices != nil without a Billing dependency")
	}
}

func TestClient_RestorePurchases(t *testing.T) {
	gateway := newFakeGateway()
	billing := newFakeBilling()
	identity := &fakeIdentity{userID: "user-1"}
	client := newTestClient(t, Dependencies{Gateway: gateway, Identity: identity, Billing: billing})

	if err := client.RestorePurchases(context.Background()); err != nil {
		t.Fatalf("RestorePurchases failed: %v", err)
	}
	if !billing.restored {
		t.Error("platform restore not invoked")
	}
}
