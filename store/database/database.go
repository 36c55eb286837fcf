// Package database implements the store on an embedded sqlite database
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/micro/go-kv/codec"
	"github.com/micro/go-kv/store"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

var (
	// DefaultDir holds the database file when neither nodes nor a dir are set
	DefaultDir = filepath.Join(os.TempDir(), "go-kv")
	// DefaultTable is used when no namespace is provided
	DefaultTable = "kv"
	// FileName of the database in the directory
	FileName = "kv.sqlite"

	ErrNoConnection = errors.New("database connection not initialised")
)

var (
	re = regexp.MustCompile("[^a-zA-Z0-9]+")

	// the sql statements we prepare and use
	statements = map[string]string{
		"create":        "CREATE TABLE IF NOT EXISTS %s (key TEXT PRIMARY KEY, value BLOB NOT NULL, expires INTEGER, updated INTEGER NOT NULL);",
		"index":         "CREATE INDEX IF NOT EXISTS %s_expires ON %s (expires);",
		"read":          "SELECT value FROM %s WHERE key = ?;",
		"write":         "INSERT INTO %s (key, value, expires, updated) VALUES (?, ?, ?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires = excluded.expires, updated = excluded.updated;",
		"delete":        "DELETE FROM %s WHERE key = ?;",
		"list":          "SELECT key FROM %s ORDER BY key ASC;",
		"listPrefix":    "SELECT key FROM %s WHERE instr(key, ?) = 1 ORDER BY key ASC;",
		"deleteAll":     "DELETE FROM %s;",
		"deletePrefix":  "DELETE FROM %s WHERE instr(key, ?) = 1;",
		"deleteExpired": "DELETE FROM %s WHERE expires IS NOT NULL AND expires < ?;",
	}
)

type sqlStore struct {
	sync.RWMutex
	options store.Options
	dbConn  *sql.DB
	source  string
	table   string
}

// NewStore returns a sqlite store. The first node is the database path,
// ":memory:" keeps it in memory.
func NewStore(opts ...store.Option) store.Store {
	s := &sqlStore{}
	s.Init(opts...)
	return s
}

func (s *sqlStore) Init(opts ...store.Option) error {
	s.Lock()
	defer s.Unlock()

	for _, o := range opts {
		o(&s.options)
	}
	return s.configure()
}

func (s *sqlStore) getSource() (string, error) {
	if len(s.options.Nodes) > 0 {
		return s.options.Nodes[0], nil
	}
	dir := s.options.Dir
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", errors.Wrap(err, "database dir")
	}
	return filepath.Join(dir, FileName), nil
}

func (s *sqlStore) getTable() string {
	if len(s.options.Namespace) == 0 {
		return DefaultTable
	}
	// table names must only contain letters, numbers and underscores
	return DefaultTable + "_" + re.ReplaceAllString(s.options.Namespace, "_")
}

func (s *sqlStore) configure() error {
	source, err := s.getSource()
	if err != nil {
		return err
	}
	table := s.getTable()

	if s.dbConn == nil || source != s.source {
		if s.dbConn != nil {
			s.dbConn.Close()
			s.dbConn = nil
		}
		db, err := sql.Open("sqlite", source)
		if err != nil {
			return errors.Wrapf(err, "open sqlite %q", source)
		}
		// sqlite serialises writers, and every connection to
		// :memory: would be a separate database
		db.SetMaxOpenConns(1)
		if err := db.Ping(); err != nil {
			db.Close()
			return errors.Wrapf(err, "open sqlite %q", source)
		}
		s.dbConn = db
		s.source = source
	}

	if _, err := s.dbConn.Exec(fmt.Sprintf(statements["create"], table)); err != nil {
		return errors.Wrap(err, "create table")
	}
	if _, err := s.dbConn.Exec(fmt.Sprintf(statements["index"], table, table)); err != nil {
		return errors.Wrap(err, "create index")
	}
	s.table = table
	return nil
}

func (s *sqlStore) db() (*sql.DB, string, error) {
	s.RLock()
	defer s.RUnlock()
	if s.dbConn == nil {
		return nil, "", ErrNoConnection
	}
	return s.dbConn, s.table, nil
}

func (s *sqlStore) Options() store.Options {
	s.RLock()
	defer s.RUnlock()
	return s.options
}

func (s *sqlStore) Get(ctx context.Context, key string) (*store.Record, error) {
	if len(key) == 0 {
		return nil, store.ErrMissingKey
	}
	db, table, err := s.db()
	if err != nil {
		return nil, err
	}

	var value []byte
	err = db.QueryRowContext(ctx, fmt.Sprintf(statements["read"], table), key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, errors.Wrapf(err, "get %q", key)
	}
	return codec.DecodeRecord(value)
}

func (s *sqlStore) Set(ctx context.Context, key string, r *store.Record) error {
	if len(key) == 0 {
		return store.ErrMissingKey
	}
	if r == nil {
		return errors.New("nil record")
	}
	db, table, err := s.db()
	if err != nil {
		return err
	}

	value, err := codec.EncodeRecord(r)
	if err != nil {
		return errors.Wrapf(err, "set %q", key)
	}

	var expires sql.NullInt64
	if !r.Expires.IsZero() {
		expires = sql.NullInt64{Int64: r.Expires.UnixMilli(), Valid: true}
	}

	_, err = db.ExecContext(ctx, fmt.Sprintf(statements["write"], table), key, value, expires, r.Updated.UnixMilli())
	if err != nil {
		return errors.Wrapf(err, "set %q", key)
	}
	return nil
}

func (s *sqlStore) Remove(ctx context.Context, key string) error {
	if len(key) == 0 {
		return store.ErrMissingKey
	}
	db, table, err := s.db()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(statements["delete"], table), key); err != nil {
		return errors.Wrapf(err, "remove %q", key)
	}
	return nil
}

func (s *sqlStore) Keys(ctx context.Context, opts ...store.KeysOption) ([]string, error) {
	o := store.NewKeysOptions(opts...)
	db, table, err := s.db()
	if err != nil {
		return nil, err
	}

	var rows *sql.Rows
	if len(o.Prefix) > 0 {
		rows, err = db.QueryContext(ctx, fmt.Sprintf(statements["listPrefix"], table), o.Prefix)
	} else {
		rows, err = db.QueryContext(ctx, fmt.Sprintf(statements["list"], table))
	}
	if err != nil {
		return nil, errors.Wrap(err, "keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		if o.MatchKey(key) {
			keys = append(keys, key)
		}
	}
	return keys, rows.Err()
}

// Clear runs a single statement when the filter maps onto one and falls
// back to removing key by key otherwise.
func (s *sqlStore) Clear(ctx context.Context, opts ...store.ClearOption) error {
	o := store.NewClearOptions(opts...)
	db, table, err := s.db()
	if err != nil {
		return err
	}

	keysOnly := len(o.Pattern) == 0 && o.Match == nil && len(o.Tags) == 0

	switch {
	case o.All():
		_, err = db.ExecContext(ctx, fmt.Sprintf(statements["deleteAll"], table))
	case keysOnly && !o.ExpiredOnly:
		_, err = db.ExecContext(ctx, fmt.Sprintf(statements["deletePrefix"], table), o.Prefix)
	case keysOnly && len(o.Prefix) == 0:
		_, err = db.ExecContext(ctx, fmt.Sprintf(statements["deleteExpired"], table), o.Now.UnixMilli())
	default:
		return store.ClearEach(ctx, s, o)
	}
	if err != nil {
		return errors.Wrap(err, "clear")
	}
	return nil
}

func (s *sqlStore) Close() error {
	s.Lock()
	defer s.Unlock()
	if s.dbConn == nil {
		return nil
	}
	err := s.dbConn.Close()
	s.dbConn = nil
	return err
}

func (s *sqlStore) String() string {
	return "database"
}
