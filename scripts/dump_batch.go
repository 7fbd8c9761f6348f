//go:build ignore

// Maintenance tool: dump the contents of a batch data file for
// debugging. Run with: go run scripts/dump_batch.go <Batch_data.db>
package main

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: dump_batch.go <batch-file>")
		os.Exit(1)
	}

	db, err := sql.Open("sqlite3", "file:"+os.Args[1]+"?mode=ro")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
	defer db.Close()

	if err := dumpExperiment(db); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := dumpImages(db); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := dumpFileList(db); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dumpExperiment(db *sql.DB) error {
	rows, err := db.Query(`SELECT feature, value FROM experiment_measurements ORDER BY feature`)
	if err != nil {
		return fmt.Errorf("failed to read experiment measurements: %w", err)
	}
	defer rows.Close()

	fmt.Println("== experiment ==")
	for rows.Next() {
		var feature, value string
		if err := rows.Scan(&feature, &value); err != nil {
			return err
		}
		if len(value) > 60 {
			value = value[:60] + "..."
		}
		fmt.Printf("  %s = %s\n", feature, value)
	}
	return rows.Err()
}

func dumpImages(db *sql.DB) error {
	rows, err := db.Query(`SELECT image_number, feature, value FROM image_measurements ORDER BY image_number, feature`)
	if err != nil {
		return fmt.Errorf("failed to read image measurements: %w", err)
	}
	defer rows.Close()

	fmt.Println("== image sets ==")
	last := -1
	for rows.Next() {
		var number int
		var feature, value string
		if err := rows.Scan(&number, &feature, &value); err != nil {
			return err
		}
		if number != last {
			fmt.Printf("  [%d]\n", number)
			last = number
		}
		fmt.Printf("    %s = %s\n", feature, value)
	}
	return rows.Err()
}

func dumpFileList(db *sql.DB) error {
	rows, err := db.Query(`SELECT position, path FROM file_list ORDER BY position`)
	if err != nil {
		return fmt.Errorf("failed to read file list: %w", err)
	}
	defer rows.Close()

	fmt.Println("== file list ==")
	for rows.Next() {
		var position int
		var path string
		if err := rows.Scan(&position, &path); err != nil {
			return err
		}
		fmt.Printf("  %4d %s\n", position, path)
	}
	return rows.Err()
}
