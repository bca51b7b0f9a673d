// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package jobs

import (
	"context"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	coredatabase "github.com/pioreactor/pioreactor/core/database"
	"github.com/pioreactor/pioreactor/domain"
)

// publishedSetting is the database representation of the last value
// seen on the bus for a job's setting.
type publishedSetting struct {
	JobName string `db:"job_name"`
	Setting string `db:"setting"`
	Value   string `db:"value"`
}

// SettingsStore caches the latest bus-published setting values on a
// worker.
type SettingsStore struct {
	*domain.StateBase
}

// NewSettingsStore returns a settings cache over the worker-local
// database.
func NewSettingsStore(factory coredatabase.TxnRunnerFactory) *SettingsStore {
	return &SettingsStore{StateBase: domain.NewStateBase(factory)}
}

// Set records the latest value for a job's setting.
func (s *SettingsStore) Set(ctx context.Context, job, setting, value string) error {
	db, err := s.DB()
	if err != nil {
		return errors.Trace(err)
	}

	stmt, err := s.Prepare(`
INSERT INTO published_settings (job_name, setting, value)
VALUES ($publishedSetting.job_name, $publishedSetting.setting, $publishedSetting.value)
ON CONFLICT(job_name, setting) DO UPDATE SET value = excluded.value`, publishedSetting{})
	if err != nil {
		return errors.Trace(err)
	}

	rec := publishedSetting{JobName: job, Setting: setting, Value: value}
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return errors.Trace(tx.Query(ctx, stmt, rec).Run())
	})
	return errors.Trace(err)
}

// Get returns the last published value of a job's setting.
func (s *SettingsStore) Get(ctx context.Context, job, setting string) (string, error) {
	db, err := s.DB()
	if err != nil {
		return "", errors.Trace(err)
	}

	rec := publishedSetting{JobName: job, Setting: setting}
	stmt, err := s.Prepare(`
SELECT &publishedSetting.*
FROM   published_settings
WHERE  job_name = $publishedSetting.job_name
AND    setting = $publishedSetting.setting`, rec)
	if err != nil {
		return "", errors.Trace(err)
	}

	err = db.ReadTxn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, rec).Get(&rec)
		if errors.Is(err, sqlair.ErrNoRows) {
			return errors.NotFoundf("setting %q of job %q", setting, job)
		}
		return errors.Trace(err)
	})
	if err != nil {
		return "", errors.Trace(err)
	}
	return rec.Value, nil
}

// All returns every cached setting of a job.
func (s *SettingsStore) All(ctx context.Context, job string) (map[string]string, error) {
	db, err := s.DB()
	if err != nil {
		return nil, errors.Trace(err)
	}

	rec := publishedSetting{JobName: job}
	stmt, err := s.Prepare(`
SELECT &publishedSetting.*
FROM   published_settings
WHERE  job_name = $publishedSetting.job_name`, rec)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var rows []publishedSetting
	err = db.ReadTxn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, rec).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	settings := make(map[string]string, len(rows))
	for _, row := range rows {
		settings[row.Setting] = row.Value
	}
	return settings, nil
}
