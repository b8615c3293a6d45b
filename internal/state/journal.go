package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/hive/internal/memory"
)

// MemoryJournal implements memory.Journal over the memory_entries table.
// Each (namespace, key) row keeps only its highest version; the store's
// in-process history is not replayed write by write.
type MemoryJournal struct {
	db *DB
}

// NewMemoryJournal creates a journal over an opened, migrated database.
func NewMemoryJournal(db *DB) *MemoryJournal {
	return &MemoryJournal{db: db}
}

// Load returns every persisted entry for replay into a fresh store.
func (j *MemoryJournal) Load() ([]memory.Entry, error) {
	rows, err := j.db.Query(`
		SELECT namespace, key, value, version, COALESCE(owner, ''),
			tombstone, updated_at, expires_at
		FROM memory_entries`)
	if err != nil {
		return nil, fmt.Errorf("load memory entries: %w", err)
	}
	defer rows.Close()

	var out []memory.Entry
	for rows.Next() {
		var e memory.Entry
		var tombstone int
		var updatedAt string
		var expiresAt sql.NullString
		if err := rows.Scan(&e.Namespace, &e.Key, &e.Value, &e.Version,
			&e.Owner, &tombstone, &updatedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan memory entry: %w", err)
		}
		e.Tombstone = tombstone != 0
		if t, err := parseTime(updatedAt); err == nil {
			e.UpdatedAt = t
		}
		if t := parseNullableTime(expiresAt); t != nil {
			e.ExpiresAt = *t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Apply upserts one entry, keeping the row only when the incoming version is
// not lower than the stored one.
func (j *MemoryJournal) Apply(e memory.Entry) error {
	tombstone := 0
	if e.Tombstone {
		tombstone = 1
	}
	var expiresAt any
	if !e.ExpiresAt.IsZero() {
		expiresAt = formatTime(e.ExpiresAt)
	}
	updatedAt := e.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := j.db.Exec(`
		INSERT INTO memory_entries (namespace, key, value, version, owner, tombstone, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value,
			version = excluded.version,
			owner = excluded.owner,
			tombstone = excluded.tombstone,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at
		WHERE excluded.version >= memory_entries.version
	`, e.Namespace, e.Key, e.Value, e.Version, e.Owner, tombstone,
		formatTime(updatedAt), expiresAt)
	if err != nil {
		return fmt.Errorf("journal %s/%s: %w", e.Namespace, e.Key, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (j *MemoryJournal) Close() error {
	return j.db.Close()
}
