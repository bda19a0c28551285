package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/brojonat/splindex/service/indexer"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

const dateLayout = "2006-01-02"

// jqFlag, jsonFlag and the window flags are shared by every command that
// prints transfer records.
func jqFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:    "must-jq",
		Aliases: []string{"jq"},
		Usage:   "jq filter that each printed transfer must satisfy (repeatable, all must match)",
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "json",
		Aliases: []string{"j"},
		Usage:   "Output transfers as JSON",
	}
}

func windowFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "start",
			Usage:    "Window start, RFC3339 or YYYY-MM-DD (inclusive)",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "end",
			Usage:    "Window end, RFC3339 or YYYY-MM-DD (inclusive, a bare date means end of that day)",
			Required: true,
		},
		&cli.StringFlag{
			Name:    "mint",
			Aliases: []string{"m"},
			Usage:   "Token mint address",
			EnvVars: []string{"TOKEN_MINT_ADDRESS"},
		},
	}
}

// parseWindow reads --start and --end.
func parseWindow(c *cli.Context) (time.Time, time.Time, error) {
	start, err := parseTime(c.String("start"), false)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --start: %w", err)
	}
	end, err := parseTime(c.String("end"), true)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --end: %w", err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--end %s is before --start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return start, end, nil
}

// parseTime accepts RFC3339 or a bare UTC date. With endOfDay a bare date
// resolves to its last second.
func parseTime(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC3339 nor YYYY-MM-DD", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return t, nil
}

// compileJQFilters parses and compiles every filter expression.
func compileJQFilters(filters []string) ([]*gojq.Code, error) {
	codes := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		codes[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return codes, nil
}

// filterTransfers keeps the records for which every filter yields a truthy
// first result. Records are matched against their JSON form.
func filterTransfers(records []indexer.TransferRecord, codes []*gojq.Code, logger *slog.Logger) ([]indexer.TransferRecord, error) {
	if len(codes) == 0 {
		return records, nil
	}

	out := make([]indexer.TransferRecord, 0, len(records))
	for _, rec := range records {
		doc, err := toJQValue(rec)
		if err != nil {
			return nil, err
		}
		if matchesAll(doc, codes, logger) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func toJQValue(rec indexer.TransferRecord) (interface{}, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transfer %s: %w", rec.Signature, err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode transfer %s: %w", rec.Signature, err)
	}
	return doc, nil
}

func matchesAll(doc interface{}, codes []*gojq.Code, logger *slog.Logger) bool {
	for _, code := range codes {
		iter := code.Run(doc)
		v, ok := iter.Next()
		if !ok {
			return false
		}
		if err, isErr := v.(error); isErr {
			logger.Debug("jq filter error", "error", err)
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

// printTransfers writes records as indented JSON or an aligned table.
func printTransfers(w io.Writer, records []indexer.TransferRecord, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"transfers": records,
			"count":     len(records),
		})
	}

	if len(records) == 0 {
		fmt.Fprintln(w, "No transfers found")
		return nil
	}

	fmt.Fprintf(w, "%-20s  %-8s  %20s  %-44s  %s\n", "TIME", "DIR", "AMOUNT", "COUNTERPARTY", "SIGNATURE")
	fmt.Fprintln(w, strings.Repeat("─", 140))
	for _, rec := range records {
		counterparty := "-"
		if rec.Counterparty != nil {
			counterparty = *rec.Counterparty
		}
		fmt.Fprintf(w, "%-20s  %-8s  %20s  %-44s  %s\n",
			rec.Timestamp.UTC().Format(time.RFC3339),
			rec.Direction,
			rec.Amount.String(),
			counterparty,
			rec.Signature,
		)
	}
	fmt.Fprintf(w, "\nTotal: %d transfer(s)\n", len(records))
	return nil
}

// newLogger creates a stderr logger so stdout stays clean for output.
func newLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
