// Command rip-history queries the audit database rip writes when
// history_db is configured.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"

	"rip-sage/internal/config"
	"rip-sage/internal/database"
	"rip-sage/internal/exitcodes"
)

type options struct {
	dbPath      string
	configPath  string
	recent      int
	stats       bool
	days        int
	action      string
	pathPattern string
	largest     int
	top         int
	pruneDays   int
	jsonOutput  bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	var o options
	fs := flag.NewFlagSet("rip-history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.dbPath, "db", "", "path to the history database (default: history_db from the config)")
	fs.StringVar(&o.configPath, "config", "", "path to the configuration file")
	fs.IntVarP(&o.recent, "recent", "n", 0, "show the N most recent events")
	fs.BoolVar(&o.stats, "stats", false, "show statistics")
	fs.IntVar(&o.days, "days", 30, "number of days covered by --stats")
	fs.StringVar(&o.action, "action", "", "filter by action (BURY, EXHUME, PRUNE, UNLINK, REAP, DECOMPOSE, ERROR)")
	fs.StringVar(&o.pathPattern, "path", "", "filter by original path (SQL LIKE syntax)")
	fs.IntVar(&o.largest, "largest", 0, "show the N largest buries")
	fs.IntVar(&o.top, "top", 0, "show the N most often buried paths")
	fs.IntVar(&o.pruneDays, "delete-older-than", 0, "delete events older than N days and vacuum")
	fs.BoolVar(&o.jsonOutput, "json", false, "output JSON")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: rip-history [flags]\n\n")
		fs.PrintDefaults()
		fmt.Fprintln(stderr, "\nExamples:")
		fmt.Fprintln(stderr, "  rip-history --recent 10            # 10 most recent events")
		fmt.Fprintln(stderr, "  rip-history --stats --days 7       # statistics for the last week")
		fmt.Fprintln(stderr, "  rip-history --action EXHUME        # only restores")
		fmt.Fprintln(stderr, "  rip-history --path '/home/me/%'    # events below /home/me")
		fmt.Fprintln(stderr, "  rip-history --largest 5            # 5 largest buries")
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitcodes.Success
		}
		return exitcodes.InvalidConfig
	}

	dbPath, err := resolveDB(o)
	if err != nil {
		fmt.Fprintf(stderr, "rip-history: %v\n", err)
		return exitcodes.InvalidConfig
	}

	db, err := database.NewHistoryDB(dbPath)
	if err != nil {
		fmt.Fprintf(stderr, "rip-history: open %s: %v\n", dbPath, err)
		return exitcodes.RuntimeError
	}
	defer func() {
		if err := db.Close(); err != nil {
			fmt.Fprintf(stderr, "rip-history: close database: %v\n", err)
		}
	}()

	q := query{db: db, out: stdout, json: o.jsonOutput}
	switch {
	case o.pruneDays > 0:
		err = q.deleteOlderThan(o.pruneDays)
	case o.stats:
		err = q.stats(o.days)
	case o.recent > 0:
		err = q.recent(o.recent)
	case o.action != "":
		err = q.byAction(o.action)
	case o.pathPattern != "":
		err = q.byPath(o.pathPattern)
	case o.largest > 0:
		err = q.largest(o.largest)
	case o.top > 0:
		err = q.topPaths(o.top)
	default:
		fs.Usage()
		return exitcodes.InvalidConfig
	}
	if err != nil {
		fmt.Fprintf(stderr, "rip-history: %v\n", err)
		return exitcodes.RuntimeError
	}
	return exitcodes.Success
}

// resolveDB picks the database from --db, falling back to the config file.
func resolveDB(o options) (string, error) {
	if o.dbPath != "" {
		return o.dbPath, nil
	}
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.Load(o.configPath)
	} else {
		cfg, err = config.LoadOptional(config.DefaultPath())
	}
	if err != nil {
		return "", err
	}
	if cfg.HistoryDB == "" {
		return "", fmt.Errorf("no history database: pass --db or set history_db in the config")
	}
	return cfg.HistoryDB, nil
}

type query struct {
	db   *database.HistoryDB
	out  io.Writer
	json bool
}

func (q query) emitJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(q.out, string(data))
	return err
}

func (q query) stats(days int) error {
	stats, err := q.db.GetHistoryStats(days)
	if err != nil {
		return fmt.Errorf("get statistics: %w", err)
	}
	if q.json {
		return q.emitJSON(stats)
	}

	fmt.Fprintf(q.out, "Graveyard History (last %d days)\n", days)
	fmt.Fprintf(q.out, "Period: %s to %s\n\n", stats.StartDate.Format("2006-01-02"), stats.EndDate.Format("2006-01-02"))
	fmt.Fprintf(q.out, "Buried:    %d\n", stats.TotalBuried)
	fmt.Fprintf(q.out, "Exhumed:   %d\n", stats.TotalExhumed)
	fmt.Fprintf(q.out, "Pruned:    %d\n", stats.TotalPruned)
	fmt.Fprintf(q.out, "Unlinked:  %d\n", stats.TotalUnlinked)
	fmt.Fprintf(q.out, "Reaped:    %d\n", stats.TotalReaped)
	fmt.Fprintf(q.out, "Errors:    %d\n", stats.TotalErrors)
	fmt.Fprintf(q.out, "Bytes in:  %s\n", humanize.IBytes(uint64(stats.BytesBuried)))

	if len(stats.ByAction) > 0 {
		fmt.Fprintln(q.out, "\nBy Action:")
		actions := make([]string, 0, len(stats.ByAction))
		for a := range stats.ByAction {
			actions = append(actions, a)
		}
		sort.Strings(actions)
		for _, a := range actions {
			fmt.Fprintf(q.out, "  %-10s %d\n", a, stats.ByAction[a])
		}
	}
	return nil
}

func (q query) recent(limit int) error {
	events, err := q.db.GetRecentEvents(limit)
	if err != nil {
		return fmt.Errorf("get recent events: %w", err)
	}
	return q.print(events)
}

func (q query) byAction(action string) error {
	events, err := q.db.GetEventsByAction(action)
	if err != nil {
		return fmt.Errorf("query by action: %w", err)
	}
	return q.print(events)
}

func (q query) byPath(pattern string) error {
	events, err := q.db.GetEventsByPath(pattern)
	if err != nil {
		return fmt.Errorf("query by path: %w", err)
	}
	return q.print(events)
}

func (q query) largest(limit int) error {
	events, err := q.db.GetLargestBuries(limit)
	if err != nil {
		return fmt.Errorf("get largest buries: %w", err)
	}
	return q.print(events)
}

func (q query) topPaths(limit int) error {
	counts, err := q.db.GetTopBuriedPaths(limit)
	if err != nil {
		return fmt.Errorf("get top paths: %w", err)
	}
	if q.json {
		return q.emitJSON(counts)
	}
	paths := make([]string, 0, len(counts))
	for p := range counts {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		if counts[paths[i]] != counts[paths[j]] {
			return counts[paths[i]] > counts[paths[j]]
		}
		return paths[i] < paths[j]
	})

	w := tabwriter.NewWriter(q.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "Buries\tPath")
	for _, p := range paths {
		_, _ = fmt.Fprintf(w, "%d\t%s\n", counts[p], p)
	}
	return w.Flush()
}

func (q query) deleteOlderThan(days int) error {
	n, err := q.db.DeleteOldEvents(days)
	if err != nil {
		return fmt.Errorf("delete old events: %w", err)
	}
	if err := q.db.Vacuum(); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	fmt.Fprintf(q.out, "Deleted %d events older than %d days\n", n, days)
	return nil
}

func (q query) print(events []database.Event) error {
	if q.json {
		return q.emitJSON(events)
	}
	if len(events) == 0 {
		fmt.Fprintln(q.out, "No events found")
		return nil
	}

	w := tabwriter.NewWriter(q.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "Timestamp\tAction\tType\tSize\tOriginal\tGrave")
	_, _ = fmt.Fprintln(w, "---------\t------\t----\t----\t--------\t-----")
	for _, e := range events {
		size := "-"
		if e.Size > 0 {
			size = humanize.IBytes(uint64(e.Size))
		}
		grave := e.Grave
		if e.ErrorMessage != "" {
			grave = e.ErrorMessage
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Action, e.ObjectType, size, e.Original, grave)
	}
	return w.Flush()
}
