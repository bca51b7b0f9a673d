// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package database

import (
	"context"
	"database/sql"

	"github.com/juju/errors"
)

// leaderDDL is the schema of the central store on the leader. Timestamps are
// stored as RFC3339 UTC text, the natural sqlite representation.
var leaderDDL = []string{
	`CREATE TABLE IF NOT EXISTS experiments (
    experiment     TEXT NOT NULL PRIMARY KEY,
    created_at     TEXT NOT NULL,
    description    TEXT,
    media_used     TEXT,
    organism_used  TEXT
)`,
	`CREATE TABLE IF NOT EXISTS workers (
    pioreactor_unit TEXT NOT NULL PRIMARY KEY,
    added_at        TEXT NOT NULL,
    is_active       INTEGER NOT NULL DEFAULT 1,
    model_name      TEXT,
    model_version   TEXT
)`,
	`CREATE TABLE IF NOT EXISTS experiment_worker_assignments (
    pioreactor_unit TEXT NOT NULL PRIMARY KEY
        REFERENCES workers (pioreactor_unit) ON DELETE CASCADE,
    experiment      TEXT NOT NULL
        REFERENCES experiments (experiment) ON DELETE CASCADE,
    assigned_at     TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS experiment_worker_assignments_history (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    pioreactor_unit TEXT NOT NULL,
    experiment      TEXT NOT NULL,
    assigned_at     TEXT NOT NULL,
    unassigned_at   TEXT
)`,
	`CREATE TABLE IF NOT EXISTS logs (
    timestamp       TEXT NOT NULL,
    level           TEXT NOT NULL,
    pioreactor_unit TEXT NOT NULL,
    experiment      TEXT NOT NULL,
    task            TEXT,
    source          TEXT,
    message         TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_experiment_ts ON logs (experiment, timestamp)`,
	`CREATE TABLE IF NOT EXISTS growth_rates (
    experiment      TEXT NOT NULL,
    pioreactor_unit TEXT NOT NULL,
    timestamp       TEXT NOT NULL,
    rate            REAL NOT NULL,
    PRIMARY KEY (experiment, pioreactor_unit, timestamp)
)`,
	`CREATE TABLE IF NOT EXISTS od_readings (
    experiment      TEXT NOT NULL,
    pioreactor_unit TEXT NOT NULL,
    channel         TEXT NOT NULL,
    timestamp       TEXT NOT NULL,
    od_reading      REAL NOT NULL,
    PRIMARY KEY (experiment, pioreactor_unit, channel, timestamp)
)`,
	`CREATE TABLE IF NOT EXISTS od_readings_filtered (
    experiment      TEXT NOT NULL,
    pioreactor_unit TEXT NOT NULL,
    timestamp       TEXT NOT NULL,
    normalized_od_reading REAL NOT NULL,
    PRIMARY KEY (experiment, pioreactor_unit, timestamp)
)`,
	`CREATE TABLE IF NOT EXISTS od_readings_fused (
    experiment      TEXT NOT NULL,
    pioreactor_unit TEXT NOT NULL,
    timestamp       TEXT NOT NULL,
    od_reading      REAL NOT NULL,
    PRIMARY KEY (experiment, pioreactor_unit, timestamp)
)`,
	`CREATE TABLE IF NOT EXISTS raw_od_readings (
    experiment      TEXT NOT NULL,
    pioreactor_unit TEXT NOT NULL,
    channel         TEXT NOT NULL,
    timestamp       TEXT NOT NULL,
    voltage         REAL NOT NULL,
    PRIMARY KEY (experiment, pioreactor_unit, channel, timestamp)
)`,
	`CREATE TABLE IF NOT EXISTS temperature_readings (
    experiment      TEXT NOT NULL,
    pioreactor_unit TEXT NOT NULL,
    timestamp       TEXT NOT NULL,
    temperature_c   REAL NOT NULL,
    PRIMARY KEY (experiment, pioreactor_unit, timestamp)
)`,
	`CREATE TABLE IF NOT EXISTS config_files_history (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    filename  TEXT NOT NULL,
    data      TEXT NOT NULL,
    timestamp TEXT NOT NULL
)`,
}

// workerDDL is the schema of the small worker-local store: the active
// calibration/estimator maps and the last bus-published job settings.
var workerDDL = []string{
	`CREATE TABLE IF NOT EXISTS active_calibrations (
    device TEXT NOT NULL PRIMARY KEY,
    name   TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS active_estimators (
    device TEXT NOT NULL PRIMARY KEY,
    name   TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS published_settings (
    job_name TEXT NOT NULL,
    setting  TEXT NOT NULL,
    value    TEXT NOT NULL,
    PRIMARY KEY (job_name, setting)
)`,
}

// EnsureLeaderSchema applies the leader DDL.
func EnsureLeaderSchema(ctx context.Context, runner *TxnRunner) error {
	return errors.Annotate(applyDDL(ctx, runner, leaderDDL), "ensuring leader schema")
}

// EnsureWorkerSchema applies the worker-local DDL.
func EnsureWorkerSchema(ctx context.Context, runner *TxnRunner) error {
	return errors.Annotate(applyDDL(ctx, runner, workerDDL), "ensuring worker schema")
}

func applyDDL(ctx context.Context, runner *TxnRunner, ddl []string) error {
	return runner.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, stmt := range ddl {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return errors.Annotatef(err, "applying %.40q", stmt)
			}
		}
		return nil
	})
}

// Vacuum reclaims free pages. It is invoked after experiment deletion and
// is best effort; callers log rather than propagate a failure.
func Vacuum(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, "VACUUM")
	return errors.Trace(err)
}
