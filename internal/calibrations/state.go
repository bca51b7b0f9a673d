// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package calibrations

import (
	"context"
	"fmt"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	coredatabase "github.com/pioreactor/pioreactor/core/database"
	"github.com/pioreactor/pioreactor/domain"
)

// activeRecord is the database representation of one device's active
// selection.
type activeRecord struct {
	Device string `db:"device"`
	Name   string `db:"name"`
}

// activeState persists the per-device active map. The table name comes
// from the store's kind, a closed set, so interpolating it is safe.
type activeState struct {
	*domain.StateBase
	table string
}

func newActiveState(factory coredatabase.TxnRunnerFactory, kind Kind) *activeState {
	return &activeState{
		StateBase: domain.NewStateBase(factory),
		table:     "active_" + string(kind),
	}
}

func (s *activeState) set(ctx context.Context, device, name string) error {
	db, err := s.DB()
	if err != nil {
		return errors.Trace(err)
	}

	stmt, err := s.Prepare(fmt.Sprintf(`
INSERT INTO %s (device, name)
VALUES ($activeRecord.device, $activeRecord.name)
ON CONFLICT(device) DO UPDATE SET name = excluded.name`, s.table), activeRecord{})
	if err != nil {
		return errors.Trace(err)
	}

	rec := activeRecord{Device: device, Name: name}
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return errors.Trace(tx.Query(ctx, stmt, rec).Run())
	})
	return errors.Trace(err)
}

func (s *activeState) get(ctx context.Context, device string) (string, error) {
	db, err := s.DB()
	if err != nil {
		return "", errors.Trace(err)
	}

	rec := activeRecord{Device: device}
	stmt, err := s.Prepare(fmt.Sprintf(`
SELECT &activeRecord.*
FROM   %s
WHERE  device = $activeRecord.device`, s.table), rec)
	if err != nil {
		return "", errors.Trace(err)
	}

	err = db.ReadTxn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, rec).Get(&rec)
		if errors.Is(err, sqlair.ErrNoRows) {
			return errors.NotFoundf("active %s for device %q", s.table, device)
		}
		return errors.Trace(err)
	})
	if err != nil {
		return "", errors.Trace(err)
	}
	return rec.Name, nil
}

func (s *activeState) clear(ctx context.Context, device string) error {
	db, err := s.DB()
	if err != nil {
		return errors.Trace(err)
	}

	stmt, err := s.Prepare(fmt.Sprintf(`
DELETE FROM %s
WHERE device = $activeRecord.device`, s.table), activeRecord{})
	if err != nil {
		return errors.Trace(err)
	}

	rec := activeRecord{Device: device}
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return errors.Trace(tx.Query(ctx, stmt, rec).Run())
	})
	return errors.Trace(err)
}

func (s *activeState) all(ctx context.Context) (map[string]string, error) {
	db, err := s.DB()
	if err != nil {
		return nil, errors.Trace(err)
	}

	stmt, err := s.Prepare(fmt.Sprintf(`
SELECT &activeRecord.*
FROM   %s`, s.table), activeRecord{})
	if err != nil {
		return nil, errors.Trace(err)
	}

	var rows []activeRecord
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
	active := make(map[string]string, len(rows))
	for _, row := range rows {
		active[row.Device] = row.Name
	}
	return active, nil
}
