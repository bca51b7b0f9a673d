// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package database opens and manages the leader's sqlite store and the small
// worker-local stores, and provides the retrying transaction runner used by
// all state code.
package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	_ "github.com/mattn/go-sqlite3"
)

var logger = loggo.GetLogger("pioreactor.database")

// Open opens (creating if necessary) the sqlite database at path, configured
// for a single writer with concurrent readers.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?%s", path, openParams())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Annotatef(err, "opening database at %q", path)
	}
	// A single connection sidesteps SQLITE_BUSY between writers inside
	// this process; readers go through WAL snapshots regardless.
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// OpenInMemory opens a fresh private in-memory database. Used by tests and
// by worker agents that have not been given a data directory.
func OpenInMemory() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file::memory:?"+openParams())
	if err != nil {
		return nil, errors.Trace(err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func openParams() string {
	q := url.Values{}
	q.Set("_fk", "1")
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_synchronous", "NORMAL")
	return q.Encode()
}
