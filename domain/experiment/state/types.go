// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package state

// Experiment is the database representation of an experiment row.
type Experiment struct {
	Name         string `db:"experiment"`
	CreatedAt    string `db:"created_at"`
	Description  string `db:"description"`
	MediaUsed    string `db:"media_used"`
	OrganismUsed string `db:"organism_used"`
}

// Count carries a scalar count result.
type Count struct {
	Num int `db:"num"`
}
