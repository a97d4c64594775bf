package infra

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/netgate/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const (
	metaSelectionRevision = "selection_revision"
	metaCallState         = "call_state"
	metaCallRevision      = "call_revision"
	metaLegacySelection   = "selected_apps"
	metaMigrated          = "selection_migrated"
)

// EncryptedStore persists the selection set and the telephony hook state in a
// SQLCipher encrypted SQLite database. The CLI writes; the daemon reads.
type EncryptedStore struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedStore opens (or creates) an encrypted store at dbPath.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedStore(dbPath string, key []byte) (*EncryptedStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	keyHex := hex.EncodeToString(key)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096&_busy_timeout=5000", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &EncryptedStore{db: db, dbPath: dbPath}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate selection: %w", err)
	}
	return s, nil
}

func (s *EncryptedStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS selection (
		package TEXT PRIMARY KEY,
		added_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO meta (key, value) VALUES ('selection_revision', '0');
	INSERT OR IGNORE INTO meta (key, value) VALUES ('call_revision', '0');
	INSERT OR IGNORE INTO meta (key, value) VALUES ('call_state', 'idle');
	`
	_, err := s.db.Exec(schema)
	return err
}

// migrate moves a legacy JSON selection list into the selection table once.
// An existing selection always wins over the legacy list.
func (s *EncryptedStore) migrate() error {
	var done string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, metaMigrated).Scan(&done)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	var legacy string
	err = s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, metaLegacySelection).Scan(&legacy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	var ids []string
	if err := json.Unmarshal([]byte(legacy), &ids); err != nil {
		return fmt.Errorf("failed to parse legacy selection: %w", err)
	}

	return s.tx(func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM selection`).Scan(&n); err != nil {
			return err
		}
		if n == 0 && len(ids) > 0 {
			now := time.Now().Unix()
			for _, id := range domain.NewAppSet(ids...).Sorted() {
				if _, err := tx.Exec(`INSERT OR IGNORE INTO selection (package, added_at) VALUES (?, ?)`, id, now); err != nil {
					return err
				}
			}
			if err := bump(tx, metaSelectionRevision); err != nil {
				return err
			}
		}
		_, err := tx.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES (?, '1')`, metaMigrated)
		return err
	})
}

// --- domain.SelectionStore implementation ---

// Selection returns a snapshot of the selected identifiers.
func (s *EncryptedStore) Selection() (domain.AppSet, error) {
	rows, err := s.db.Query(`SELECT package FROM selection`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := domain.NewAppSet()
	for rows.Next() {
		var pkg string
		if err := rows.Scan(&pkg); err != nil {
			return nil, err
		}
		set.Add(pkg)
	}
	return set, rows.Err()
}

// Revision returns the selection revision, bumped on every change.
func (s *EncryptedStore) Revision() (int64, error) {
	return s.counter(metaSelectionRevision)
}

// --- domain.SelectionWriter implementation ---

// AddSelected adds an identifier. Adding a present identifier is a no-op.
func (s *EncryptedStore) AddSelected(packageName string) error {
	if packageName == "" {
		return fmt.Errorf("empty package name")
	}
	return s.tx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`INSERT OR IGNORE INTO selection (package, added_at) VALUES (?, ?)`,
			packageName, time.Now().Unix())
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		return bump(tx, metaSelectionRevision)
	})
}

// RemoveSelected removes an identifier. Removing an absent identifier is a no-op.
func (s *EncryptedStore) RemoveSelected(packageName string) error {
	return s.tx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM selection WHERE package = ?`, packageName)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		return bump(tx, metaSelectionRevision)
	})
}

// ReplaceSelection atomically replaces the whole selection.
func (s *EncryptedStore) ReplaceSelection(set domain.AppSet) error {
	return s.tx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM selection`); err != nil {
			return err
		}
		now := time.Now().Unix()
		for _, id := range set.Sorted() {
			if _, err := tx.Exec(`INSERT INTO selection (package, added_at) VALUES (?, ?)`, id, now); err != nil {
				return err
			}
		}
		return bump(tx, metaSelectionRevision)
	})
}

// --- telephony hook state ---

// SetCallState records a raw telephony state and bumps the call revision,
// so repeated identical states are still delivered.
func (s *EncryptedStore) SetCallState(state domain.TelephonyState) error {
	return s.tx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
			metaCallState, state.String()); err != nil {
			return err
		}
		return bump(tx, metaCallRevision)
	})
}

// CallState returns the last recorded telephony state and its revision.
func (s *EncryptedStore) CallState() (domain.TelephonyState, int64, error) {
	var value string
	var rev int64
	err := s.db.QueryRow(`
		SELECT s.value, CAST(r.value AS INTEGER)
		FROM meta s, meta r
		WHERE s.key = ? AND r.key = ?`, metaCallState, metaCallRevision).Scan(&value, &rev)
	if err != nil {
		return domain.TelephonyIdle, 0, err
	}
	return domain.ParseTelephonyState(value), rev, nil
}

// GetStorePath returns the database file path.
func (s *EncryptedStore) GetStorePath() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *EncryptedStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *EncryptedStore) counter(key string) (int64, error) {
	var v int64
	err := s.db.QueryRow(`SELECT CAST(value AS INTEGER) FROM meta WHERE key = ?`, key).Scan(&v)
	return v, err
}

func (s *EncryptedStore) tx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func bump(tx *sql.Tx, key string) error {
	_, err := tx.Exec(`UPDATE meta SET value = CAST(value AS INTEGER) + 1 WHERE key = ?`, key)
	return err
}

var (
	_ domain.SelectionStore  = (*EncryptedStore)(nil)
	_ domain.SelectionWriter = (*EncryptedStore)(nil)
)
