// Package remote implements the Remote Data Gateway over a
// PostgREST-style REST API. All query building lives here; the core
// consumes the narrow qamus.Gateway interface.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-playground/validator/v10"
	"resty.dev/v3"

	"github.com/qamuslabs/qamus"
)

const (
	entriesPath   = "/rest/v1/entries"
	favoritesPath = "/rest/v1/favorites"
	profilePath   = "/rest/v1/profile"

	// entrySelect embeds variants and their dialect tags in one read.
	entrySelect = "*,variants(*,dialects(*))"

	reachableTimeout = 3 * time.Second
)

// Options configures the REST gateway.
type Options struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	RetryAttempts uint
	Logger        *slog.Logger
	Debug         bool
}

// Gateway is the resty-backed implementation of qamus.Gateway.
type Gateway struct {
	httpClient    *resty.Client
	validate      *validator.Validate
	logger        *slog.Logger
	retryAttempts uint
	debug         bool
}

// NewGateway creates a REST gateway.
func NewGateway(opts Options) *Gateway {
	client := resty.New()
	client.SetBaseURL(opts.BaseURL)
	client.SetHeader("apikey", opts.APIKey)
	client.SetHeader("Authorization", "Bearer "+opts.APIKey)
	client.SetHeader("Content-Type", "application/json")
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Gateway{
		httpClient:    client,
		validate:      validator.New(),
		logger:        logger,
		retryAttempts: opts.RetryAttempts,
		debug:         opts.Debug,
	}
}

// Close releases the underlying HTTP client.
func (g *Gateway) Close() error {
	return g.httpClient.Close()
}

type entryDTO struct {
	ID         string       `json:"id" validate:"required"`
	Term       string       `json:"term" validate:"required"`
	Script     string       `json:"script" validate:"required"`
	Category   string       `json:"category" validate:"required"`
	Definition *string      `json:"definition"`
	Frequency  *string      `json:"frequency"`
	Variants   []variantDTO `json:"variants"`
}

type variantDTO struct {
	ID              string       `json:"id" validate:"required"`
	EntryID         string       `json:"entry_id" validate:"required"`
	ScriptVariant   *string      `json:"script_variant"`
	Transliteration string       `json:"transliteration" validate:"required"`
	Detail          string       `json:"detail" validate:"required"`
	AudioRef        *string      `json:"audio_ref"`
	Dialects        []dialectDTO `json:"dialects"`
}

type dialectDTO struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
}

type favoriteRowDTO struct {
	ID      string    `json:"id"`
	UserID  string    `json:"user_id"`
	EntryID string    `json:"entry_id"`
	Entry   *entryDTO `json:"entries,omitempty"`
}

type profileDTO struct {
	UserID     string  `json:"user_id" validate:"required"`
	HasAccess  bool    `json:"has_access"`
	ExpiresAt  *string `json:"expires_at,omitempty"`
	LastSynced string  `json:"last_synced"`
}

// Reachable probes the API root with a short bounded wait. Any HTTP
// response, success or not, counts as reachable; only a transport
// failure means offline.
func (g *Gateway) Reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, reachableTimeout)
	defer cancel()

	_, err := g.httpClient.R().SetContext(ctx).Head("/rest/v1/")
	if err != nil {
		g.logger.Debug("gateway: reachability probe failed", "error", err)
		return false
	}
	return true
}

// FetchAllEntries downloads the complete dictionary with nested
// variants and dialect tags.
func (g *Gateway) FetchAllEntries(ctx context.Context) ([]qamus.Entry, error) {
	var dtos []entryDTO
	err := g.withRetry(ctx, "fetch entries", func() error {
		resp, err := g.httpClient.R().
			SetContext(ctx).
			SetQueryParam("select", entrySelect).
			SetQueryParam("order", "term.asc").
			SetResult(&dtos).
			Get(entriesPath)
		return g.check("fetch entries", resp, err)
	})
	if err != nil {
		return nil, err
	}
	return g.toEntries(dtos)
}

// SearchEntries returns one page of matching entries plus the exact
// total computed by the remote store with the same filter.
func (g *Gateway) SearchEntries(ctx context.Context, term string, page qamus.Page) (*qamus.SearchResult, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return &qamus.SearchResult{Entries: []qamus.Entry{}, Page: 1, Size: page.Size, Source: qamus.SourceRemote}, nil
	}

	size := page.Size
	if size <= 0 {
		size = 20
	}
	number := page.Number
	if number < 1 {
		number = 1
	}

	pattern := quoteFilterValue("*" + term + "*")
	filter := fmt.Sprintf("(term.ilike.%s,script.ilike.%s)", pattern, pattern)

	var (
		dtos  []entryDTO
		total int
	)
	err := g.withRetry(ctx, "search entries", func() error {
		resp, err := g.httpClient.R().
			SetContext(ctx).
			SetHeader("Prefer", "count=exact").
			SetQueryParam("select", entrySelect).
			SetQueryParam("or", filter).
			SetQueryParam("order", "term.asc").
			SetQueryParam("limit", strconv.Itoa(size)).
			SetQueryParam("offset", strconv.Itoa((number-1)*size)).
			SetResult(&dtos).
			Get(entriesPath)
		if cerr := g.check("search entries", resp, err); cerr != nil {
			return cerr
		}
		total = parseTotal(resp.Header().Get("Content-Range"), len(dtos))
		return nil
	})
	if err != nil {
		return nil, err
	}

	entries, err := g.toEntries(dtos)
	if err != nil {
		return nil, err
	}
	return &qamus.SearchResult{
		Entries: entries,
		Page:    number,
		Size:    size,
		Total:   total,
		Source:  qamus.SourceRemote,
	}, nil
}

// GetEntry returns one entry with variants, or qamus.ErrNotFound.
func (g *Gateway) GetEntry(ctx context.Context, id string) (*qamus.Entry, error) {
	var dtos []entryDTO
	err := g.withRetry(ctx, "get entry", func() error {
		resp, err := g.httpClient.R().
			SetContext(ctx).
			SetQueryParam("select", entrySelect).
			SetQueryParam("id", "eq."+id).
			SetResult(&dtos).
			Get(entriesPath)
		return g.check("get entry", resp, err)
	})
	if err != nil {
		return nil, err
	}
	if len(dtos) == 0 {
		return nil, qamus.ErrNotFound
	}

	entry, err := g.toEntry(dtos[0])
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// FetchFavoriteIDs returns the entry ids the user has favorited.
func (g *Gateway) FetchFavoriteIDs(ctx context.Context, userID string) ([]string, error) {
	var rows []favoriteRowDTO
	err := g.withRetry(ctx, "fetch favorite ids", func() error {
		resp, err := g.httpClient.R().
			SetContext(ctx).
			SetQueryParam("select", "entry_id").
			SetQueryParam("user_id", "eq."+userID).
			SetResult(&rows).
			Get(favoritesPath)
		return g.check("fetch favorite ids", resp, err)
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.EntryID)
	}
	return ids, nil
}

// ListFavorites returns the user's favorited entries with variants.
func (g *Gateway) ListFavorites(ctx context.Context, userID string) ([]qamus.Entry, error) {
	var rows []favoriteRowDTO
	err := g.withRetry(ctx, "list favorites", func() error {
		resp, err := g.httpClient.R().
			SetContext(ctx).
			SetQueryParam("select", "entry_id,entries("+entrySelect+")").
			SetQueryParam("user_id", "eq."+userID).
			SetQueryParam("order", "entries(term).asc").
			SetResult(&rows).
			Get(favoritesPath)
		return g.check("list favorites", resp, err)
	})
	if err != nil {
		return nil, err
	}

	entries := make([]qamus.Entry, 0, len(rows))
	for _, row := range rows {
		if row.Entry == nil {
			continue
		}
		entry, err := g.toEntry(*row.Entry)
		if err != nil {
			return nil, err
		}
		entry.IsFavorite = true
		entries = append(entries, entry)
	}
	return entries, nil
}

// HasFavorite reports whether a (user, entry) link exists.
func (g *Gateway) HasFavorite(ctx context.Context, userID, entryID string) (bool, error) {
	var rows []favoriteRowDTO
	err := g.withRetry(ctx, "check favorite", func() error {
		resp, err := g.httpClient.R().
			SetContext(ctx).
			SetQueryParam("select", "entry_id").
			SetQueryParam("user_id", "eq."+userID).
			SetQueryParam("entry_id", "eq."+entryID).
			SetQueryParam("limit", "1").
			SetResult(&rows).
			Get(favoritesPath)
		return g.check("check favorite", resp, err)
	})
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// InsertFavorite creates a (user, entry) link. A duplicate-key conflict
// is reported as success: the link exists either way.
func (g *Gateway) InsertFavorite(ctx context.Context, link qamus.FavoriteLink) error {
	body := map[string]string{
		"id":         link.ID,
		"user_id":    link.UserID,
		"entry_id":   link.EntryID,
		"created_at": link.CreatedAt.Format(time.RFC3339),
	}

	resp, err := g.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		Post(favoritesPath)
	if err == nil && resp.StatusCode() == http.StatusConflict {
		return nil
	}
	return g.check("insert favorite", resp, err)
}

// DeleteFavorite removes a (user, entry) link; absent links are a
// no-op.
func (g *Gateway) DeleteFavorite(ctx context.Context, userID, entryID string) error {
	resp, err := g.httpClient.R().
		SetContext(ctx).
		SetQueryParam("user_id", "eq."+userID).
		SetQueryParam("entry_id", "eq."+entryID).
		Delete(favoritesPath)
	return g.check("delete favorite", resp, err)
}

// FetchEntitlement returns the user's entitlement record, or
// qamus.ErrNotFound when no profile row exists.
func (g *Gateway) FetchEntitlement(ctx context.Context, userID string) (*qamus.EntitlementRecord, error) {
	var dtos []profileDTO
	err := g.withRetry(ctx, "fetch entitlement", func() error {
		resp, err := g.httpClient.R().
			SetContext(ctx).
			SetQueryParam("user_id", "eq."+userID).
			SetResult(&dtos).
			Get(profilePath)
		return g.check("fetch entitlement", resp, err)
	})
	if err != nil {
		return nil, err
	}
	if len(dtos) == 0 {
		return nil, qamus.ErrNotFound
	}
	return g.toEntitlement(dtos[0])
}

// UpdateEntitlement patches the user's profile row and reports how many
// rows the update touched.
func (g *Gateway) UpdateEntitlement(ctx context.Context, rec qamus.EntitlementRecord) (int, error) {
	var updated []profileDTO
	resp, err := g.httpClient.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=representation").
		SetQueryParam("user_id", "eq."+rec.UserID).
		SetBody(entitlementBody(rec)).
		SetResult(&updated).
		Patch(profilePath)
	if cerr := g.check("update entitlement", resp, err); cerr != nil {
		return 0, cerr
	}
	return len(updated), nil
}

// InsertEntitlement creates the profile row. Losing the create race to
// a concurrent update reports a conflict, which is success here.
func (g *Gateway) InsertEntitlement(ctx context.Context, rec qamus.EntitlementRecord) error {
	body := entitlementBody(rec)
	body["user_id"] = rec.UserID

	resp, err := g.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		Post(profilePath)
	if err == nil && resp.StatusCode() == http.StatusConflict {
		return nil
	}
	return g.check("insert entitlement", resp, err)
}

// DeleteUserData removes the user's favorite links and profile row,
// used by account deletion before the identity record goes.
func (g *Gateway) DeleteUserData(ctx context.Context, userID string) error {
	resp, err := g.httpClient.R().
		SetContext(ctx).
		SetQueryParam("user_id", "eq."+userID).
		Delete(favoritesPath)
	if cerr := g.check("delete favorites", resp, err); cerr != nil {
		return cerr
	}

	resp, err = g.httpClient.R().
		SetContext(ctx).
		SetQueryParam("user_id", "eq."+userID).
		Delete(profilePath)
	return g.check("delete profile", resp, err)
}

func entitlementBody(rec qamus.EntitlementRecord) map[string]any {
	body := map[string]any{
		"has_access":  rec.HasAccess,
		"last_synced": rec.LastSynced.Format(time.RFC3339),
	}
	if rec.ExpiresAt != nil {
		body["expires_at"] = rec.ExpiresAt.Format(time.RFC3339)
	}
	return body
}

// withRetry runs a read with bounded backoff. Transport failures and
// 5xx/429 responses are retried; everything else is unrecoverable.
func (g *Gateway) withRetry(ctx context.Context, op string, fn func() error) error {
	return retry.Do(
		func() error {
			if err := fn(); err != nil {
				if !isRetryable(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(g.retryAttempts+1),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			return retry.BackOffDelay(n, err, config)
		}),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Debug("gateway: retrying", "op", op, "attempt", n+1, "error", err)
		}),
	)
}

func isRetryable(err error) bool {
	var fault *qamus.NetworkFault
	if errors.As(err, &fault) {
		return fault.StatusCode == 0 ||
			fault.StatusCode >= http.StatusInternalServerError ||
			fault.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// check converts a resty outcome into the fault taxonomy.
func (g *Gateway) check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return &qamus.NetworkFault{Op: op, Err: err}
	}
	if g.debug {
		g.logger.Debug("gateway: response", "op", op, "status", resp.StatusCode())
	}
	if resp.IsError() {
		return &qamus.NetworkFault{
			Op:         op,
			StatusCode: resp.StatusCode(),
			Err:        fmt.Errorf("remote responded %s", resp.Status()),
		}
	}
	return nil
}

// toEntries validates and converts remote rows, rejecting malformed
// ones instead of letting untyped data flow inward.
func (g *Gateway) toEntries(dtos []entryDTO) ([]qamus.Entry, error) {
	entries := make([]qamus.Entry, 0, len(dtos))
	for _, dto := range dtos {
		entry, err := g.toEntry(dto)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (g *Gateway) toEntry(dto entryDTO) (qamus.Entry, error) {
	if err := g.validate.Struct(dto); err != nil {
		return qamus.Entry{}, &qamus.NetworkFault{Op: "decode entry", Err: fmt.Errorf("entry %q: %w", dto.ID, err)}
	}

	category := qamus.Category(dto.Category)
	if !category.IsValid() {
		return qamus.Entry{}, &qamus.NetworkFault{Op: "decode entry", Err: fmt.Errorf("entry %q: unknown category %q", dto.ID, dto.Category)}
	}

	entry := qamus.Entry{
		ID:       dto.ID,
		Term:     dto.Term,
		Script:   dto.Script,
		Category: category,
	}
	if dto.Definition != nil {
		entry.Definition = *dto.Definition
	}
	if dto.Frequency != nil {
		freq := qamus.Frequency(*dto.Frequency)
		if !freq.IsValid() {
			// Coerce an unknown classification to unclassified rather
			// than failing the whole download.
			g.logger.Warn("gateway: unknown frequency, coercing", "entry", dto.ID, "frequency", *dto.Frequency)
			freq = ""
		}
		entry.Frequency = freq
	}

	for _, v := range dto.Variants {
		variant, err := g.toVariant(v)
		if err != nil {
			return qamus.Entry{}, err
		}
		entry.Variants = append(entry.Variants, variant)
	}
	return entry, nil
}

func (g *Gateway) toVariant(dto variantDTO) (qamus.Variant, error) {
	if err := g.validate.Struct(dto); err != nil {
		return qamus.Variant{}, &qamus.NetworkFault{Op: "decode variant", Err: fmt.Errorf("variant %q: %w", dto.ID, err)}
	}

	variant := qamus.Variant{
		ID:              dto.ID,
		EntryID:         dto.EntryID,
		Transliteration: dto.Transliteration,
		Detail:          dto.Detail,
	}
	if dto.ScriptVariant != nil {
		variant.ScriptVariant = *dto.ScriptVariant
	}
	if dto.AudioRef != nil {
		variant.AudioRef = *dto.AudioRef
	}
	for _, d := range dto.Dialects {
		variant.Dialects = append(variant.Dialects, qamus.Dialect{ID: d.ID, Name: d.Name})
	}
	return variant, nil
}

func (g *Gateway) toEntitlement(dto profileDTO) (*qamus.EntitlementRecord, error) {
	if err := g.validate.Struct(dto); err != nil {
		return nil, &qamus.NetworkFault{Op: "decode entitlement", Err: err}
	}

	rec := qamus.EntitlementRecord{
		UserID:    dto.UserID,
		HasAccess: dto.HasAccess,
	}
	if dto.ExpiresAt != nil {
		t, err := time.Parse(time.RFC3339, *dto.ExpiresAt)
		if err != nil {
			g.logger.Warn("gateway: malformed expires_at, dropping", "user", dto.UserID, "value", *dto.ExpiresAt)
		} else {
			rec.ExpiresAt = &t
		}
	}
	if dto.LastSynced != "" {
		t, err := time.Parse(time.RFC3339, dto.LastSynced)
		if err != nil {
			g.logger.Warn("gateway: malformed last_synced, coercing to zero", "user", dto.UserID, "value", dto.LastSynced)
		}
		rec.LastSynced = t
	}
	return &rec, nil
}

// quoteFilterValue double-quotes a filter operand so reserved
// characters (commas, parentheses) cannot alter the filter tree.
// Embedded quotes and backslashes are backslash-escaped per the
// PostgREST quoting rules.
func quoteFilterValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}

// parseTotal extracts the exact count from a Content-Range header like
// "0-19/42", falling back to the page length.
func parseTotal(contentRange string, fallback int) int {
	idx := strings.LastIndex(contentRange, "/")
	if idx < 0 {
		return fallback
	}
	total, err := strconv.Atoi(contentRange[idx+1:])
	if err != nil || total < 0 {
		return fallback
	}
	return total
}
