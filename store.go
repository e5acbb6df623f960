package qamus

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/qamuslabs/qamus/internal/store/migrations"
)

const schemaVersion = "2"

// entryColumns are the columns VerifySchema probes on the entries table.
var entryColumns = []string{"id", "term", "script", "category", "definition", "frequency", "is_favorite"}

// variantColumns are the columns VerifySchema probes on the variants table.
var variantColumns = []string{"id", "entry_id", "script_variant", "transliteration", "detail", "audio_ref", "dialects"}

// Store manages the local SQLite dictionary database. It holds the
// derived, eventually-consistent copy of the remote dictionary plus the
// structured profile tier of the entitlement cache; the remote store
// stays the source of truth and the local copy is rebuildable at any
// time by a full sync.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
	logger *slog.Logger
}

// NewStore opens or creates the local dictionary store. A failed open
// is retried once with a fresh handle; the second failure is surfaced
// as a StorageFault.
func NewStore(path string) (*Store, error) {
	db, err := openHandle(path)
	if err != nil {
		// One retry with a recreated handle. A transient lock or a
		// half-open file descriptor should not kill the app.
		db, err = openHandle(path)
		if err != nil {
			return nil, &StorageFault{Op: "open", Err: err}
		}
	}

	store := &Store{db: db, path: path, logger: slog.Default()}
	if err := store.EnsureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func openHandle(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL lets readers run concurrently with the sync engine's batch
	// transactions.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return db, nil
}

// EnsureSchema idempotently creates the schema and verifies it is
// well-formed. A first verification failure triggers a drop-and-recreate
// repair; a second failure is fatal and surfaced as a StorageFault.
func (s *Store) EnsureSchema() error {
	if err := s.migrate(); err != nil {
		return &StorageFault{Op: "migrate", Err: err}
	}
	if s.VerifySchema() {
		return nil
	}

	// Repair: drop everything, including the goose bookkeeping table so
	// migrations run again, then recreate from scratch.
	if err := s.dropAll(); err != nil {
		return &StorageFault{Op: "repair", Err: err}
	}
	if err := s.migrate(); err != nil {
		return &StorageFault{Op: "repair", Err: err}
	}
	if !s.VerifySchema() {
		return &StorageFault{Op: "repair", Err: fmt.Errorf("schema still malformed after recreate")}
	}
	return nil
}

func (s *Store) migrate() error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("store: set goose dialect: %w", err)
	}
	if err := goose.Up(s.db, "."); err != nil {
		return fmt.Errorf("store: run migrations: %w", err)
	}

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, schemaVersion)
	return err
}

func (s *Store) dropAll() error {
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS variants",
		"DROP TABLE IF EXISTS entries",
		"DROP TABLE IF EXISTS profile",
		"DROP TABLE IF EXISTS metadata",
		"DROP TABLE IF EXISTS goose_db_version",
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: %s: %w", strings.ToLower(stmt), err)
		}
	}
	return nil
}

// VerifySchema reports whether both dictionary tables exist and every
// expected column is queryable. Used defensively before every batch
// write and after every open.
func (s *Store) VerifySchema() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	return s.tableQueryable("entries", entryColumns) &&
		s.tableQueryable("variants", variantColumns)
}

func (s *Store) tableQueryable(table string, columns []string) bool {
	var name string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
	).Scan(&name)
	if err != nil {
		return false
	}

	query := fmt.Sprintf("SELECT %s FROM %s LIMIT 1", strings.Join(columns, ", "), table)
	rows, err := s.db.Query(query)
	if err != nil {
		return false
	}
	rows.Close()
	return rows.Err() == nil
}

// UpsertBatch inserts-or-replaces each entry and fully replaces its
// variant set inside one transaction. On any row failure the whole
// batch rolls back and a StorageFault identifying the offending entry
// is returned; rows from previously committed batches stay valid.
// Re-running with the same entries is idempotent.
func (s *Store) UpsertBatch(entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return &StorageFault{Op: "begin batch", Err: err}
	}
	defer tx.Rollback() // no-op if committed

	for _, entry := range entries {
		if err := upsertEntryTx(tx, entry); err != nil {
			return &StorageFault{Op: "upsert", EntryID: entry.ID, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &StorageFault{Op: "commit batch", Err: err}
	}
	return nil
}

func upsertEntryTx(tx *sql.Tx, entry Entry) error {
	_, err := tx.Exec(`
		INSERT OR REPLACE INTO entries (id, term, script, category, definition, frequency, is_favorite)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		entry.Term,
		entry.Script,
		string(entry.Category),
		nullString(entry.Definition),
		nullString(string(entry.Frequency)),
		boolToInt(entry.IsFavorite),
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}

	// Full replace of the variant set, not a diff. The dictionary is
	// small and centrally curated; delete-then-insert keeps the write
	// path trivially idempotent.
	if _, err := tx.Exec("DELETE FROM variants WHERE entry_id = ?", entry.ID); err != nil {
		return fmt.Errorf("clear variants: %w", err)
	}

	for _, v := range entry.Variants {
		var dialects *string
		if len(v.Dialects) > 0 {
			encoded, err := json.Marshal(v.Dialects)
			if err != nil {
				return fmt.Errorf("encode dialects for variant %s: %w", v.ID, err)
			}
			joined := string(encoded)
			dialects = &joined
		}

		_, err := tx.Exec(`
			INSERT INTO variants (id, entry_id, script_variant, transliteration, detail, audio_ref, dialects)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			v.ID,
			entry.ID,
			nullString(v.ScriptVariant),
			v.Transliteration,
			v.Detail,
			nullString(v.AudioRef),
			dialects,
		)
		if err != nil {
			return fmt.Errorf("insert variant %s: %w", v.ID, err)
		}
	}

	return nil
}

// Search returns entries whose term or script contains the given text,
// case-insensitive, ordered by term ascending. An empty or whitespace
// term yields an empty result, never the full table.
func (s *Store) Search(term string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	term = strings.TrimSpace(term)
	if term == "" {
		return []Entry{}, nil
	}

	pattern := "%" + term + "%"
	rows, err := s.db.Query(`
		SELECT id, term, script, category, definition, frequency, is_favorite
		FROM entries
		WHERE term LIKE ? COLLATE NOCASE OR script LIKE ? COLLATE NOCASE
		ORDER BY term ASC
	`, pattern, pattern)
	if err != nil {
		return nil, &StorageFault{Op: "search", Err: err}
	}
	defer rows.Close()

	entries, err := s.collectEntries(rows)
	if err != nil {
		return nil, &StorageFault{Op: "search", Err: err}
	}
	return entries, nil
}

// GetByID returns the entry with its variants, or ErrNotFound. A
// missing entry is a state the caller reacts to, not a failure.
func (s *Store) GetByID(id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRow(`
		SELECT id, term, script, category, definition, frequency, is_favorite
		FROM entries WHERE id = ?
	`, id)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageFault{Op: "get", EntryID: id, Err: err}
	}

	variants, err := s.loadVariants(entry.ID)
	if err != nil {
		return nil, &StorageFault{Op: "get", EntryID: id, Err: err}
	}
	entry.Variants = variants
	return entry, nil
}

// SetFavorite flips the favorite flag on a single entry. A no-op, not
// an error, when the entry is not present locally.
func (s *Store) SetFavorite(id string, isFavorite bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(
		"UPDATE entries SET is_favorite = ? WHERE id = ?",
		boolToInt(isFavorite), id,
	)
	if err != nil {
		return &StorageFault{Op: "set favorite", EntryID: id, Err: err}
	}
	return nil
}

// ListFavorites returns entries with the favorite flag set, ordered by
// term ascending.
func (s *Store) ListFavorites() ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT id, term, script, category, definition, frequency, is_favorite
		FROM entries WHERE is_favorite = 1
		ORDER BY term ASC
	`)
	if err != nil {
		return nil, &StorageFault{Op: "list favorites", Err: err}
	}
	defer rows.Close()

	entries, err := s.collectEntries(rows)
	if err != nil {
		return nil, &StorageFault{Op: "list favorites", Err: err}
	}
	return entries, nil
}

// RowCount returns the exact number of entry rows. The sync engine
// compares it against the fetched total after the final batch.
func (s *Store) RowCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&count); err != nil {
		return 0, &StorageFault{Op: "count", Err: err}
	}
	return count, nil
}

// PruneEntries deletes entries whose id is not in keep, cascading to
// their variants, and reports how many rows were removed. The sync
// engine runs it after the final batch so a dictionary that shrank
// remotely does not leave stale rows behind.
func (s *Store) PruneEntries(keep map[string]bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	rows, err := s.db.Query("SELECT id FROM entries")
	if err != nil {
		return 0, &StorageFault{Op: "prune", Err: err}
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, &StorageFault{Op: "prune", Err: err}
		}
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, &StorageFault{Op: "prune", Err: err}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, &StorageFault{Op: "prune", Err: err}
	}
	defer tx.Rollback() // no-op if committed

	for _, id := range stale {
		if _, err := tx.Exec("DELETE FROM entries WHERE id = ?", id); err != nil {
			return 0, &StorageFault{Op: "prune", EntryID: id, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, &StorageFault{Op: "prune", Err: err}
	}
	return len(stale), nil
}

// GetProfile reads the structured entitlement copy for a user, or
// ErrNotFound when the tier has never been populated.
func (s *Store) GetProfile(userID string) (*EntitlementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var (
		rec        EntitlementRecord
		hasAccess  int
		expiresAt  sql.NullString
		lastSynced string
	)
	err := s.db.QueryRow(`
		SELECT user_id, has_access, expires_at, last_synced
		FROM profile WHERE user_id = ?
	`, userID).Scan(&rec.UserID, &hasAccess, &expiresAt, &lastSynced)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageFault{Op: "get profile", Err: err}
	}

	rec.HasAccess = hasAccess != 0
	if expiresAt.Valid {
		t, err := time.Parse(time.RFC3339, expiresAt.String)
		if err != nil {
			s.logger.Warn("store: malformed expires_at, dropping", "user", rec.UserID, "value", expiresAt.String)
		} else {
			rec.ExpiresAt = &t
		}
	}
	rec.LastSynced, err = time.Parse(time.RFC3339, lastSynced)
	if err != nil {
		s.logger.Warn("store: malformed last_synced, coercing to zero", "user", rec.UserID, "value", lastSynced)
	}
	return &rec, nil
}

// PutProfile writes the structured entitlement copy for a user.
func (s *Store) PutProfile(rec EntitlementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	var expiresAt *string
	if rec.ExpiresAt != nil {
		ts := rec.ExpiresAt.Format(time.RFC3339)
		expiresAt = &ts
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO profile (user_id, has_access, expires_at, last_synced)
		VALUES (?, ?, ?, ?)
	`, rec.UserID, boolToInt(rec.HasAccess), expiresAt, rec.LastSynced.Format(time.RFC3339))
	if err != nil {
		return &StorageFault{Op: "put profile", Err: err}
	}
	return nil
}

// DeleteProfile wipes the structured entitlement copy for a user, so
// residual premium status cannot leak to a different account on the
// same device.
func (s *Store) DeleteProfile(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.Exec("DELETE FROM profile WHERE user_id = ?", userID); err != nil {
		return &StorageFault{Op: "delete profile", Err: err}
	}
	return nil
}

// GetMetadata reads a metadata value; empty string when unset.
func (s *Store) GetMetadata(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", ErrStoreClosed
	}

	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", &StorageFault{Op: "get metadata", Err: err}
	}
	return value, nil
}

// SetMetadata writes a metadata key.
func (s *Store) SetMetadata(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)
	`, key, value)
	if err != nil {
		return &StorageFault{Op: "set metadata", Err: err}
	}
	return nil
}

// Stats returns store statistics.
func (s *Store) Stats() (*StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var entryCount int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&entryCount); err != nil {
		return nil, &StorageFault{Op: "stats", Err: err}
	}

	var favoriteCount int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM entries WHERE is_favorite = 1").Scan(&favoriteCount); err != nil {
		return nil, &StorageFault{Op: "stats", Err: err}
	}

	var lastSyncStr sql.NullString
	s.db.QueryRow("SELECT value FROM metadata WHERE key = 'last_sync'").Scan(&lastSyncStr)

	var lastSync time.Time
	if lastSyncStr.Valid {
		t, err := time.Parse(time.RFC3339, lastSyncStr.String)
		if err != nil {
			s.logger.Warn("store: malformed last_sync metadata, coercing to zero", "value", lastSyncStr.String)
		}
		lastSync = t
	}

	return &StoreStats{
		EntryCount:    entryCount,
		FavoriteCount: favoriteCount,
		LastSync:      lastSync,
		SchemaVersion: schemaVersion,
	}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// collectEntries scans entry rows and attaches their variants.
func (s *Store) collectEntries(rows *sql.Rows) ([]Entry, error) {
	entries := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range entries {
		variants, err := s.loadVariants(entries[i].ID)
		if err != nil {
			return nil, err
		}
		entries[i].Variants = variants
	}
	return entries, nil
}

func (s *Store) loadVariants(entryID string) ([]Variant, error) {
	rows, err := s.db.Query(`
		SELECT id, entry_id, script_variant, transliteration, detail, audio_ref, dialects
		FROM variants WHERE entry_id = ?
		ORDER BY id ASC
	`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var variants []Variant
	for rows.Next() {
		var (
			v             Variant
			scriptVariant sql.NullString
			audioRef      sql.NullString
			dialects      sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.EntryID, &scriptVariant, &v.Transliteration, &v.Detail, &audioRef, &dialects); err != nil {
			return nil, err
		}
		if scriptVariant.Valid {
			v.ScriptVariant = scriptVariant.String
		}
		if audioRef.Valid {
			v.AudioRef = audioRef.String
		}
		if dialects.Valid && dialects.String != "" {
			if err := json.Unmarshal([]byte(dialects.String), &v.Dialects); err != nil {
				return nil, fmt.Errorf("decode dialects for variant %s: %w", v.ID, err)
			}
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

// scanner abstracts the Scan method shared by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*Entry, error) {
	var (
		entry      Entry
		category   string
		definition sql.NullString
		frequency  sql.NullString
		favorite   int
	)
	err := sc.Scan(&entry.ID, &entry.Term, &entry.Script, &category, &definition, &frequency, &favorite)
	if err != nil {
		return nil, err
	}

	entry.Category = Category(category)
	if definition.Valid {
		entry.Definition = definition.String
	}
	if frequency.Valid {
		entry.Frequency = Frequency(frequency.String)
	}
	entry.IsFavorite = favorite != 0
	return &entry, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
