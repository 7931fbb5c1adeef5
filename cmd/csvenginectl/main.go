// Command csvenginectl is the CLI entrypoint for the engine, grounded
// on cmd/benchmark/main.go's flag-to-config wiring but using
// github.com/spf13/pflag in place of raw os.Args indexing, matching
// calvinalkan-agent-task's CLI surface.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/elmissouri16/quickrows/internal/applog"
	"github.com/elmissouri16/quickrows/internal/dialect"
	"github.com/elmissouri16/quickrows/internal/engine"
	"github.com/elmissouri16/quickrows/internal/engine/daemon"
)

type stderrEvents struct {
	log *applog.Logger
}

func (e stderrEvents) ParseProgress(rows int64) { e.log.Verbosef("parse-progress: %d rows", rows) }
func (e stderrEvents) RowCount(total int64)      { e.log.Verbosef("row-count: %d", total) }
func (e stderrEvents) IndexReady(ready bool)     { e.log.Verbosef("index-ready: %v", ready) }
func (e stderrEvents) SearchChunk(requestID string, matches []uint32) {
	e.log.Verbosef("search-chunk %s: %d matches", requestID, len(matches))
}
func (e stderrEvents) SearchComplete(requestID string, total int) {
	e.log.Verbosef("search-complete %s: %d total", requestID, total)
}
func (e stderrEvents) DuplicatesChunk(requestID string, matches []uint32) {
	e.log.Verbosef("duplicates-chunk %s: %d matches", requestID, len(matches))
}
func (e stderrEvents) DuplicatesComplete(requestID string, total int) {
	e.log.Verbosef("duplicates-complete %s: %d total", requestID, total)
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "benchmark" {
		runBenchmark(os.Args[2:])
		return
	}

	var (
		path        = pflag.StringP("file", "f", "", "CSV file to open")
		socketPath  = pflag.String("socket", "", "run as a UDS daemon on this socket path instead of a one-shot operation")
		tempDir     = pflag.String("temp-dir", "", "temp directory for external-sort spills (default: OS temp dir)")
		verbose     = pflag.BoolP("verbose", "v", false, "enable verbose diagnostics")
		op          = pflag.String("op", "read_chunk", "operation: read_chunk|search|sort|find_duplicates|row_count")
		start       = pflag.Int64("start", 0, "start row for read_chunk")
		count       = pflag.Int64("count", 20, "row count for read_chunk")
		column      = pflag.Int("column", -1, "column index, -1 for whole-record operations")
		query       = pflag.String("query", "", "search query")
		matchCase   = pflag.Bool("match-case", false, "case-sensitive search")
		wholeWord   = pflag.Bool("whole-word", false, "whole-cell match instead of substring")
		ascending   = pflag.Bool("ascending", true, "sort direction")
		delimiter   = pflag.String("delimiter", "", "override delimiter (comma, tab, pipe, semicolon)")
		hasHeaders  = pflag.String("has-headers", "", "override header detection (true/false)")
		malformed   = pflag.String("malformed", "", "override malformed-row mode (strict/skip/repair)")
	)
	pflag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "csvenginectl: -f/--file is required")
		os.Exit(2)
	}
	if *tempDir == "" {
		*tempDir = os.TempDir()
	}

	log := applog.New(*verbose)
	eng := engine.New(stderrEvents{log: log}, *tempDir, *verbose)

	ov := dialect.Overrides{}
	if *delimiter != "" {
		ov.Delimiter = delimiter
	}
	if *hasHeaders != "" {
		v := *hasHeaders == "true"
		ov.HasHeaders = &v
	}
	if *malformed != "" {
		ov.Malformed = malformed
	}

	if _, err := eng.Open(*path, ov); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	if *socketPath != "" {
		d := daemon.New(daemon.Config{SocketPath: *socketPath}, eng)
		if err := d.Start(); err != nil {
			fmt.Fprintln(os.Stderr, "daemon:", err)
			os.Exit(1)
		}
		return
	}

	var result any
	var err error
	switch *op {
	case "read_chunk":
		result, err = eng.ReadChunk(*start, *count)
	case "search":
		result, err = eng.Search(*column, *query, *matchCase, *wholeWord)
	case "sort":
		result, err = eng.Sort(*column, *ascending)
	case "find_duplicates":
		result, err = eng.FindDuplicates(*column)
	case "row_count":
		result, err = eng.RowCount()
	default:
		fmt.Fprintln(os.Stderr, "csvenginectl: unknown -op", *op)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, *op+":", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
}
