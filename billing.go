package qamus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

// Billing is the opaque platform billing collaborator: product lookup,
// purchase flow launch, the push stream of purchase events, and the
// consumable lifecycle calls.
type Billing interface {
	Available(ctx context.Context) bool
	QueryProduct(ctx context.Context, productID string) (*Product, error)
	Purchase(ctx context.Context, productID string) error

	// Updates is the push stream of purchase status events.
	Updates() <-chan PurchaseEvent

	// Consume marks a consumable as used up so it can be bought again.
	Consume(ctx context.Context, purchaseToken string) error

	// CompletePurchase acknowledges an event the platform would
	// otherwise replay indefinitely.
	CompletePurchase(ctx context.Context, purchaseToken string) error

	RestorePurchases(ctx context.Context) error
}

// Verifier validates a purchase given the product id and the opaque
// platform verification payload.
type Verifier interface {
	Verify(ctx context.Context, productID string, payload []byte) (bool, error)
}

// StubVerifier accepts every purchase. A degenerate but contract-valid
// implementation for environments without a verification backend.
type StubVerifier struct{}

// Verify always reports the purchase as valid.
func (StubVerifier) Verify(context.Context, string, []byte) (bool, error) {
	return true, nil
}

// Bridge converts verified purchases of one fixed consumable product
// into the entitlement flag: remote first, then both local cache tiers,
// then a sync trigger, then consumption so the product can be bought
// again.
//
// Stages per attempt: idle → awaiting-store-response → verifying →
// (granting → consuming → done) | denied. No error escapes the event
// loop; every outcome becomes a PurchaseNotice.
type Bridge struct {
	billing  Billing
	verifier Verifier
	gateway  Gateway
	access   *AccessManager
	syncer   *Syncer
	identity Identity
	logger   *slog.Logger

	productID string
	notices   chan PurchaseNotice
}

// NewBridge wires the purchase-to-access path for one product id.
func NewBridge(billing Billing, verifier Verifier, gateway Gateway, access *AccessManager, syncer *Syncer, identity Identity, productID string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if verifier == nil {
		verifier = StubVerifier{}
	}
	return &Bridge{
		billing:   billing,
		verifier:  verifier,
		gateway:   gateway,
		access:    access,
		syncer:    syncer,
		identity:  identity,
		logger:    logger,
		productID: productID,
		notices:   make(chan PurchaseNotice, 16),
	}
}

// Notices is the stream of user-facing purchase outcomes.
func (b *Bridge) Notices() <-chan PurchaseNotice {
	return b.notices
}

// Run consumes the billing event stream until the context ends or the
// stream closes.
func (b *Bridge) Run(ctx context.Context) {
	updates := b.billing.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-updates:
			if !ok {
				return
			}
			b.handleEvent(ctx, event)
		}
	}
}

// Product looks up the configured product with a bounded wait.
func (b *Bridge) Product(ctx context.Context) (*Product, error) {
	ctx, cancel := context.WithTimeout(ctx, BillingQueryTimeout)
	defer cancel()

	product, err := b.billing.QueryProduct(ctx, b.productID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &TimeoutFault{Op: "query product", Timeout: BillingQueryTimeout.String()}
		}
		return nil, fmt.Errorf("billing: query product: %w", err)
	}
	if product == nil {
		return nil, ErrProductNotFound
	}
	return product, nil
}

// StartPurchase launches the platform purchase flow for the configured
// product. The outcome arrives later on the event stream.
func (b *Bridge) StartPurchase(ctx context.Context) error {
	if !b.billing.Available(ctx) {
		return ErrBillingUnavailable
	}
	if _, err := b.Product(ctx); err != nil {
		return err
	}
	if err := b.billing.Purchase(ctx, b.productID); err != nil {
		return fmt.Errorf("billing: launch purchase: %w", err)
	}
	return nil
}

// Restore asks the platform to replay owned purchases onto the event
// stream.
func (b *Bridge) Restore(ctx context.Context) error {
	if !b.billing.Available(ctx) {
		return ErrBillingUnavailable
	}
	return b.billing.RestorePurchases(ctx)
}

// handleEvent processes one purchase event. It never returns an error;
// failures become notices. Events the platform has not completed are
// completed exactly once, whatever the outcome, so they are not
// replayed forever.
func (b *Bridge) handleEvent(ctx context.Context, event PurchaseEvent) {
	if event.ProductID != b.productID {
		b.logger.Debug("billing: ignoring event for unknown product", "product", event.ProductID)
		b.complete(ctx, event)
		return
	}

	attemptID := ulid.Make().String()
	defer b.complete(ctx, event)

	switch event.Status {
	case PurchasePending:
		b.notify(PurchaseNotice{AttemptID: attemptID, ProductID: event.ProductID, Stage: GrantAwaiting})

	case PurchaseCanceled:
		b.notify(PurchaseNotice{AttemptID: attemptID, ProductID: event.ProductID, Stage: GrantDenied})

	case PurchaseError:
		b.notify(PurchaseNotice{
			AttemptID: attemptID,
			ProductID: event.ProductID,
			Stage:     GrantDenied,
			Err:       fmt.Errorf("billing: store error: %s", event.Err),
		})

	case PurchaseRestored:
		// A restored consumable is a platform artifact of an already
		// consumed purchase, not a new entitlement: consume it without
		// re-granting.
		if err := b.billing.Consume(ctx, event.PurchaseToken); err != nil {
			b.logger.Warn("billing: consume restored purchase failed", "error", err)
		}
		b.notify(PurchaseNotice{AttemptID: attemptID, ProductID: event.ProductID, Stage: GrantDone})

	case PurchasePurchased:
		b.notify(b.grant(ctx, attemptID, event))

	default:
		b.logger.Warn("billing: unknown purchase status", "status", event.Status)
	}
}

func (b *Bridge) grant(ctx context.Context, attemptID string, event PurchaseEvent) PurchaseNotice {
	notice := PurchaseNotice{AttemptID: attemptID, ProductID: event.ProductID, Stage: GrantVerifying}

	valid, err := b.verifier.Verify(ctx, event.ProductID, event.VerificationData)
	if err != nil || !valid {
		if err == nil {
			err = errors.New("verifier rejected purchase")
		}
		notice.Stage = GrantDenied
		notice.Err = &VerificationFault{ProductID: event.ProductID, Err: err}
		return notice
	}

	notice.Stage = GrantGranting
	userID := b.identity.CurrentUserID()
	if userID == "" {
		notice.Stage = GrantDenied
		notice.Err = fmt.Errorf("billing: grant: %w", ErrNoUser)
		return notice
	}

	rec := EntitlementRecord{
		UserID:     userID,
		HasAccess:  true,
		LastSynced: time.Now().UTC(),
	}
	if err := b.grantRemote(ctx, rec); err != nil {
		notice.Stage = GrantDenied
		notice.Err = err
		return notice
	}

	// Light cache first: shrink the window where the buyer is denied.
	b.access.CacheAccess(true)
	b.access.WriteThrough(rec)

	if err := b.syncer.SyncAll(ctx, nil, false); err != nil {
		// The grant already happened; a failed download is retryable
		// later from the UI.
		b.logger.Warn("billing: post-purchase sync failed", "error", err)
	}

	notice.Stage = GrantConsuming
	if err := b.billing.Consume(ctx, event.PurchaseToken); err != nil {
		b.logger.Warn("billing: consume failed, product may not be re-purchasable until replay", "error", err)
	}

	notice.Stage = GrantDone
	notice.Granted = true
	return notice
}

// grantRemote flips the remote flag, creating the profile row when an
// update affects zero rows. This is upsert-by-fallback, not an atomic
// upsert; an insert losing the race to a concurrent update reports
// "already exists" and is treated as success by the gateway contract.
func (b *Bridge) grantRemote(ctx context.Context, rec EntitlementRecord) error {
	rows, err := b.gateway.UpdateEntitlement(ctx, rec)
	if err != nil {
		return fmt.Errorf("billing: update entitlement: %w", err)
	}
	if rows > 0 {
		return nil
	}
	if err := b.gateway.InsertEntitlement(ctx, rec); err != nil {
		return fmt.Errorf("billing: create entitlement: %w", err)
	}
	return nil
}

func (b *Bridge) complete(ctx context.Context, event PurchaseEvent) {
	if !event.PendingComplete {
		return
	}
	if err := b.billing.CompletePurchase(ctx, event.PurchaseToken); err != nil {
		b.logger.Warn("billing: complete purchase failed", "token", event.PurchaseToken, "error", err)
	}
}

func (b *Bridge) notify(notice PurchaseNotice) {
	select {
	case b.notices <- notice:
	default:
		b.logger.Warn("billing: notice channel full, dropping", "stage", notice.Stage)
	}
}
