// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package state

// Worker is the database representation of a worker inventory row.
type Worker struct {
	Unit         string `db:"pioreactor_unit"`
	AddedAt      string `db:"added_at"`
	IsActive     bool   `db:"is_active"`
	ModelName    string `db:"model_name"`
	ModelVersion string `db:"model_version"`
}

// Assignment is the database representation of a current assignment row.
type Assignment struct {
	Unit       string `db:"pioreactor_unit"`
	Experiment string `db:"experiment"`
	AssignedAt string `db:"assigned_at"`
}

// historyClose carries the parameters for closing open history rows.
type historyClose struct {
	Unit         string `db:"pioreactor_unit"`
	UnassignedAt string `db:"unassigned_at"`
}

// attributionQuery carries the parameters of a log attribution lookup.
type attributionQuery struct {
	Unit      string `db:"pioreactor_unit"`
	Timestamp string `db:"timestamp"`
	Grace     string `db:"grace"`
}

// attributedExperiment receives the attribution result.
type attributedExperiment struct {
	Experiment string `db:"experiment"`
}
