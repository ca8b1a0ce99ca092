package store

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

func New(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{db: db, log: logger}
}

// Open opens the SQLite database at path with WAL mode, a busy timeout and
// foreign key enforcement applied to every pooled connection.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// Tx is a unit of work. ETL stages stage all of their writes on a Tx and
// commit once at the end of the batch.
type Tx struct {
	tx *sql.Tx
}

func (s *Store) Begin() (*Tx, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

func (t *Tx) Commit() error {
	return t.tx.Commit()
}

func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}
