// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package state persists the history of cluster configuration files.
package state

import (
	"context"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	coredatabase "github.com/pioreactor/pioreactor/core/database"
	"github.com/pioreactor/pioreactor/domain"
)

// ConfigFile is one historical revision of a configuration file.
type ConfigFile struct {
	Filename  string `db:"filename"`
	Data      string `db:"data"`
	Timestamp string `db:"timestamp"`
}

// State provides persistence for configuration history.
type State struct {
	*domain.StateBase
}

// NewState returns a new state reference.
func NewState(factory coredatabase.TxnRunnerFactory) *State {
	return &State{StateBase: domain.NewStateBase(factory)}
}

// Append records a new revision of the file.
func (s *State) Append(ctx context.Context, cf ConfigFile) error {
	db, err := s.DB()
	if err != nil {
		return errors.Trace(err)
	}

	stmt, err := s.Prepare(`
INSERT INTO config_files_history (filename, data, timestamp)
VALUES ($ConfigFile.filename, $ConfigFile.data, $ConfigFile.timestamp)`, ConfigFile{})
	if err != nil {
		return errors.Trace(err)
	}

	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return errors.Trace(tx.Query(ctx, stmt, cf).Run())
	})
	return errors.Trace(err)
}

// Latest returns the most recent revision of the file.
func (s *State) Latest(ctx context.Context, filename string) (ConfigFile, error) {
	db, err := s.DB()
	if err != nil {
		return ConfigFile{}, errors.Trace(err)
	}

	cf := ConfigFile{Filename: filename}
	stmt, err := s.Prepare(`
SELECT   &ConfigFile.*
FROM     config_files_history
WHERE    filename = $ConfigFile.filename
ORDER BY id DESC
LIMIT    1`, cf)
	if err != nil {
		return ConfigFile{}, errors.Trace(err)
	}

	err = db.ReadTxn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, cf).Get(&cf)
		if errors.Is(err, sqlair.ErrNoRows) {
			return errors.NotFoundf("config file %q", filename)
		}
		return errors.Trace(err)
	})
	return cf, errors.Trace(err)
}

// Filenames returns the distinct configuration filenames seen, sorted.
func (s *State) Filenames(ctx context.Context) ([]string, error) {
	db, err := s.DB()
	if err != nil {
		return nil, errors.Trace(err)
	}

	stmt, err := s.Prepare(`
SELECT   DISTINCT filename AS &ConfigFile.filename
FROM     config_files_history
ORDER BY filename`, ConfigFile{})
	if err != nil {
		return nil, errors.Trace(err)
	}

	var rows []ConfigFile
	err = db.ReadTxn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	names := make([]string, len(rows))
	for i, row := range rows {
		names[i] = row.Filename
	}
	return names, nil
}
