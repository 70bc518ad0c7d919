// Package catalog caches MCP tool catalogs in SQLite so hosts can offer
// tool choices (for example when editing a selection list) without
// opening a session to the server.
package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/mcpbridge/internal/mcp"
)

// Entry is one cached tool.
type Entry struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// FromDescriptors converts a live catalog to cache entries.
func FromDescriptors(tds []mcp.ToolDescriptor) []Entry {
	out := make([]Entry, len(tds))
	for i, td := range tds {
		out[i] = Entry{Name: td.Name, Description: td.Description, InputSchema: td.InputSchema}
	}
	return out
}

// Descriptors converts cache entries back to catalog form so they can be
// run through mcp.Select.
func Descriptors(entries []Entry) []mcp.ToolDescriptor {
	out := make([]mcp.ToolDescriptor, len(entries))
	for i, e := range entries {
		out[i] = mcp.ToolDescriptor{Name: e.Name, Description: e.Description, InputSchema: e.InputSchema}
	}
	return out
}

// Option is a selectable tool choice for configuration UIs. Name is what
// the agent sees; Value is the server's own tool name, the form include
// and exclude lists expect.
type Option struct {
	Name        string `json:"name"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// Options turns entries into choices, one per tool. With a non-empty
// prefix, Name is the bridged tool name from mcp.ToolName.
func Options(entries []Entry, prefix string) []Option {
	out := make([]Option, len(entries))
	for i, e := range entries {
		name := e.Name
		if prefix != "" {
			name = mcp.ToolName(prefix, e.Name)
		}
		out[i] = Option{Name: name, Value: e.Name, Description: e.Description}
	}
	return out
}

// Key normalizes an endpoint URL into a cache key. Credentials, query
// and fragment are dropped so secrets never land in the cache file.
func Key(endpoint string) string {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(endpoint)
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

// Store is a tool catalog cache backed by SQLite. All public methods
// are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db    *sql.DB
	owned bool
}

// NewStore opens or creates a catalog cache at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, owned: true}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// New creates a catalog cache inside an existing database, for hosts
// that keep all their state in one SQLite file. The caller keeps
// ownership of db.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	return s, nil
}

// Close closes the database connection if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS catalog_tools (
		endpoint     TEXT    NOT NULL,
		position     INTEGER NOT NULL,
		name         TEXT    NOT NULL,
		description  TEXT    NOT NULL,
		input_schema TEXT,
		fetched_at   TEXT    NOT NULL,
		PRIMARY KEY (endpoint, position)
	);
	CREATE TABLE IF NOT EXISTS catalog_fetches (
		endpoint   TEXT PRIMARY KEY,
		fetched_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Put replaces the cached catalog for endpoint. Catalog order is kept.
func (s *Store) Put(endpoint string, entries []Entry) error {
	key := Key(endpoint)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM catalog_tools WHERE endpoint = ?`, key); err != nil {
		return fmt.Errorf("put %s: clear: %w", key, err)
	}

	for i, e := range entries {
		var schema sql.NullString
		if e.InputSchema != nil {
			data, err := json.Marshal(e.InputSchema)
			if err != nil {
				return fmt.Errorf("put %s: encode schema for %s: %w", key, e.Name, err)
			}
			schema = sql.NullString{String: string(data), Valid: true}
		}
		if _, err := tx.Exec(
			`INSERT INTO catalog_tools (endpoint, position, name, description, input_schema, fetched_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			key, i, e.Name, e.Description, schema, now,
		); err != nil {
			return fmt.Errorf("put %s: insert %s: %w", key, e.Name, err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO catalog_fetches (endpoint, fetched_at) VALUES (?, ?)
		 ON CONFLICT (endpoint) DO UPDATE SET fetched_at = excluded.fetched_at`,
		key, now,
	); err != nil {
		return fmt.Errorf("put %s: stamp: %w", key, err)
	}

	return tx.Commit()
}

// Get returns the cached catalog for endpoint and when it was fetched.
// A catalog that was never cached yields nil entries, a zero time and
// no error. A cached empty catalog yields an empty non-nil slice.
func (s *Store) Get(endpoint string) ([]Entry, time.Time, error) {
	key := Key(endpoint)

	var stamp string
	err := s.db.QueryRow(`SELECT fetched_at FROM catalog_fetches WHERE endpoint = ?`, key).Scan(&stamp)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("get %s: %w", key, err)
	}
	fetched, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("get %s: bad timestamp %q: %w", key, stamp, err)
	}

	rows, err := s.db.Query(
		`SELECT name, description, input_schema FROM catalog_tools WHERE endpoint = ? ORDER BY position`,
		key,
	)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("get %s: %w", key, err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var schema sql.NullString
		if err := rows.Scan(&e.Name, &e.Description, &schema); err != nil {
			return nil, time.Time{}, fmt.Errorf("scan %s: %w", key, err)
		}
		if schema.Valid {
			if err := json.Unmarshal([]byte(schema.String), &e.InputSchema); err != nil {
				return nil, time.Time{}, fmt.Errorf("decode schema for %s: %w", e.Name, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, err
	}
	return entries, fetched, nil
}

// Delete drops the cached catalog for endpoint. No error is returned if
// nothing was cached.
func (s *Store) Delete(endpoint string) error {
	key := Key(endpoint)
	if _, err := s.db.Exec(`DELETE FROM catalog_tools WHERE endpoint = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if _, err := s.db.Exec(`DELETE FROM catalog_fetches WHERE endpoint = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
