package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/atomicdeploy/dbf-export/pkg/converter"
	"github.com/atomicdeploy/dbf-export/pkg/dbase"
)

var debugDumper = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

func runDump(cmd *cobra.Command, args []string) {
	tableFile := args[0]
	limit, _ := cmd.Flags().GetInt("limit")
	debug, _ := cmd.Flags().GetBool("debug")

	opts := sourceOptions()
	// Deleted records are only shown, with a marker, under --deleted
	opts.Table.SkipDeleted = !includeDeleted

	tbl, done, _, err := openTable(tableFile, opts)
	if err != nil {
		errorColor.Printf("❌ Failed to open table: %v\n", err)
		os.Exit(1)
	}
	defer done()

	if debug {
		successColor.Printf("🧩 Header of %s\n", filepath.Base(tableFile))
		debugDumper.Dump(tbl.Header())
		if mh, ok := tbl.MemoHeader(); ok {
			successColor.Println("🧩 Memo header")
			debugDumper.Dump(mh)
		}
	}

	rows, err := tbl.Rows()
	if err != nil {
		errorColor.Printf("❌ Failed to read records: %v\n", err)
		os.Exit(1)
	}

	printed, err := dumpRows(os.Stdout, rows, limit, debug)
	fmt.Println()
	if err != nil {
		errorColor.Printf("❌ Stopped after %d records: %v\n", printed, err)
		os.Exit(1)
	}
	successColor.Printf("✅ Printed %d of %d records\n", printed, tbl.NumRecords())
}

// dumpRows prints up to limit records (all when limit is 0). Records with
// field errors are reported and skipped; a terminal error stops the dump.
func dumpRows(w io.Writer, rows *dbase.Rows, limit int, debug bool) (int, error) {
	printed := 0
	for rec, err := range rows.All() {
		if err != nil {
			if rows.Err() != nil {
				return printed, err
			}
			warningColor.Fprintf(w, "⚠️  %v\n", err)
			continue
		}
		printRecord(w, rec, debug)
		printed++
		if limit > 0 && printed >= limit {
			break
		}
	}
	return printed, nil
}

func printRecord(w io.Writer, rec *dbase.Record, debug bool) {
	marker := ""
	if rec.Deleted() {
		marker = " 🗑️  deleted"
	}
	infoColor.Fprintf(w, "── #%d%s\n", rec.Index(), marker)

	for i := 0; i < rec.Len(); i++ {
		field := rec.Field(i)
		value := rec.Value(i)
		if debug {
			fmt.Fprintf(w, "%-12s %s ", field.Name, string(rune(field.Type)))
			debugDumper.Fdump(w, value)
			continue
		}
		fmt.Fprintf(w, "%-12s %s\n", field.Name, converter.FormatValue(value))
	}
	if verbose {
		for _, err := range rec.Errors() {
			warningColor.Fprintf(w, "⚠️  %v\n", err)
		}
	}
}
