package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sitewire/sitewire/internal/platform"
)

// Storage is a platform.Storage scoped to one origin, like a browser's
// localStorage.
type Storage struct {
	store  *Store
	origin string
}

var _ platform.Storage = (*Storage)(nil)

// Storage returns the key-value view for origin.
func (s *Store) Storage(origin string) *Storage {
	return &Storage{store: s, origin: strings.TrimSpace(origin)}
}

// Origin returns the storage scope.
func (st *Storage) Origin() string {
	return st.origin
}

// Get returns the value for key and whether it was present.
func (st *Storage) Get(ctx context.Context, key string) (string, bool, error) {
	if err := st.check(key); err != nil {
		return "", false, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var value string
	row := st.store.DB.QueryRowContext(ctx, `
		SELECT value FROM local_storage
		WHERE origin = ? AND key = ?
	`, st.origin, key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("fetch %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (st *Storage) Set(ctx context.Context, key, value string) error {
	if err := st.check(key); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	_, err := st.store.DB.ExecContext(ctx, `
		INSERT INTO local_storage (origin, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(origin, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, st.origin, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (st *Storage) Delete(ctx context.Context, key string) error {
	if err := st.check(key); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := st.store.DB.ExecContext(ctx, `
		DELETE FROM local_storage WHERE origin = ? AND key = ?
	`, st.origin, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Keys lists the stored keys in lexical order.
func (st *Storage) Keys(ctx context.Context) ([]string, error) {
	if err := st.check("-"); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := st.store.DB.QueryContext(ctx, `
		SELECT key FROM local_storage WHERE origin = ? ORDER BY key
	`, st.origin)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("list keys: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Clear removes every key of the origin.
func (st *Storage) Clear(ctx context.Context) error {
	if err := st.check("-"); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := st.store.DB.ExecContext(ctx, `DELETE FROM local_storage WHERE origin = ?`, st.origin); err != nil {
		return fmt.Errorf("clear storage: %w", err)
	}
	return nil
}

func (st *Storage) check(key string) error {
	if st == nil || st.store == nil || st.store.DB == nil {
		return errors.New("store is not initialized")
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("storage key is required")
	}
	return nil
}

// OriginOf derives the storage origin (scheme://host[:port]) from a URL.
func OriginOf(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Host == "" {
		return strings.TrimSpace(rawURL)
	}
	return parsed.Scheme + "://" + parsed.Host
}
