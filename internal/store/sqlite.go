// Package store is the SQLite persistence layer: the observation
// mirror of the warehouse, the model registry, assignments, forecast
// rows, and ingest-run bookkeeping.
package store

import (
	"database/sql"
	"errors"
)

// Sentinel errors for the registry operations. Callers match with
// errors.Is.
var (
	// ErrModelNotFound: promotion or assignment referenced an unknown
	// (model_name, version) pair or model id.
	ErrModelNotFound = errors.New("model not found")
	// ErrAlreadyPromoted: the target model is already prod.
	ErrAlreadyPromoted = errors.New("model already promoted")
	// ErrConflict: a concurrent promotion or assignment won the race;
	// the caller should re-read and retry.
	ErrConflict = errors.New("concurrent update conflict")
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the handle for tests that need raw access.
func (s *Store) DB() *sql.DB {
	return s.db
}
