// Command seed imports the message calendar from a CSV file and makes sure
// the default extension rules exist. Safe to re-run: without -update the
// calendar is only imported into an empty table.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"presencebot/internal/config"
	"presencebot/internal/storage"
	"presencebot/pkg/logx"
)

type csvRow struct {
	DayIndex int64
	SendDate time.Time
	Type     string
	Body     string
}

var defaultRules = []struct {
	Key   string
	Title string
	Days  int
}{
	{"smile", "Sent a smile", 30},
	{"circle", "Recorded a video note", 30},
	{"kiss", "Sent a kiss", 30},
	{"task", "Completed the task", 30},
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		cfgPath string
		csvPath string
		update  bool
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.StringVar(&csvPath, "csv", "./messages_365.csv", "path to the calendar CSV")
	flag.BoolVar(&update, "update", false, "upsert calendar rows by day index instead of import-if-empty")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Parse(cfgPath)
	if err != nil {
		return err
	}
	log := logx.NewConsole(cfg.Logging.Level).With(logx.String("svc", "seed"))

	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.BusyTimeout(),
	}, log)
	if err != nil {
		return err
	}
	defer store.Close()

	rows, err := readCalendarCSV(csvPath)
	if err != nil {
		return err
	}

	imported := 0
	err = store.WithTx(ctx, func(q *storage.Queries) error {
		if !update {
			n, err := q.CountScheduleMessages(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				log.Info("calendar already populated, skipping import", logx.Int("rows", n))
				return ensureRules(ctx, q)
			}
		}
		for _, r := range rows {
			if err := q.UpsertScheduleDay(ctx, r.DayIndex, r.SendDate, r.Type, r.Body); err != nil {
				return fmt.Errorf("day %d: %w", r.DayIndex, err)
			}
			imported++
		}
		return ensureRules(ctx, q)
	})
	if err != nil {
		return err
	}

	log.Info("seed complete", logx.Int("imported", imported), logx.Int("rules", len(defaultRules)))
	return nil
}

func ensureRules(ctx context.Context, q *storage.Queries) error {
	for _, r := range defaultRules {
		if err := q.UpsertRule(ctx, r.Key, r.Title, r.Days); err != nil {
			return fmt.Errorf("rule %s: %w", r.Key, err)
		}
	}
	return nil
}

// readCalendarCSV parses a header-keyed CSV with the columns
// day_index, date, type, text. Column order does not matter.
func readCalendarCSV(path string) ([]csvRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: reading header: %w", path, err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[name] = i
	}
	for _, want := range []string{"day_index", "date", "type", "text"} {
		if _, ok := col[want]; !ok {
			return nil, fmt.Errorf("%s: missing column %q", path, want)
		}
	}

	var out []csvRow
	line := 1
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: %w", path, line+1, err)
		}
		line++

		dayIndex, err := strconv.ParseInt(rec[col["day_index"]], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: day_index: %w", path, line, err)
		}
		date, err := time.Parse("2006-01-02", rec[col["date"]])
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: date: %w", path, line, err)
		}
		out = append(out, csvRow{
			DayIndex: dayIndex,
			SendDate: date,
			Type:     rec[col["type"]],
			Body:     rec[col["text"]],
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: no calendar rows", path)
	}
	return out, nil
}
