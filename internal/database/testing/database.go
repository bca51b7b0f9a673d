// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package testing

import (
	"database/sql"
	"fmt"
	"os"
	"text/tabwriter"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
)

// DumpTable dumps the contents of the given tables to stdout. Handy
// when debugging state tests; not used by production code.
func DumpTable(c *gc.C, db *sql.DB, table string, extraTables ...string) {
	for _, t := range append([]string{table}, extraTables...) {
		rows, err := db.Query(fmt.Sprintf("SELECT * FROM %q", t))
		c.Assert(err, jc.ErrorIsNil)
		defer func() { _ = rows.Close() }()

		cols, err := rows.Columns()
		c.Assert(err, jc.ErrorIsNil)

		writer := tabwriter.NewWriter(os.Stdout, 0, 8, 4, ' ', 0)
		fmt.Fprintf(writer, "Table %s:\n", t)
		for _, col := range cols {
			fmt.Fprintf(writer, "%s\t", col)
		}
		fmt.Fprintln(writer)

		vals := make([]any, len(cols))
		for i := range vals {
			vals[i] = new(any)
		}
		for rows.Next() {
			c.Assert(rows.Scan(vals...), jc.ErrorIsNil)
			for _, val := range vals {
				fmt.Fprintf(writer, "%v\t", *val.(*any))
			}
			fmt.Fprintln(writer)
		}
		c.Assert(rows.Err(), jc.ErrorIsNil)
		c.Assert(writer.Flush(), jc.ErrorIsNil)
	}
}
