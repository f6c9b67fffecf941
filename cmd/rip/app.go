package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"rip-sage/internal/config"
	"rip-sage/internal/database"
	"rip-sage/internal/graveyard"
	"rip-sage/internal/logging"
	"rip-sage/internal/metrics"
)

// app holds what every subcommand shares: parsed flags, the loaded
// configuration and the open graveyard.
type app struct {
	configPath    string
	graveyardFlag string
	verbose       bool

	// per command flags
	force   bool
	inspect bool
	seance  bool
	all     bool

	stdin  *bufio.Reader
	stdout io.Writer
	stderr io.Writer

	cfg     *config.Config
	logger  *log.Logger
	log     *logging.Leveled
	g       *graveyard.Graveyard
	history *database.HistoryDB
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{stdin: bufio.NewReader(stdin), stdout: stdout, stderr: stderr}
}

// open loads the configuration and opens the graveyard. A history database
// that cannot be opened is reported and skipped.
func (a *app) open() error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.Load(a.configPath)
	} else {
		cfg, err = config.LoadOptional(config.DefaultPath())
	}
	if err != nil {
		return fmt.Errorf("%w: %w", errInvalidUsage, err)
	}
	if a.verbose {
		cfg.Logging.Verbose = true
	}
	a.cfg = cfg
	a.logger = logging.New(cfg.Logging)
	a.log = logging.NewLeveled(a.logger)

	opts := graveyard.Options{
		Root:           cfg.ResolveGraveyard(a.graveyardFlag, os.Getenv),
		LockTimeout:    cfg.LockTimeout(),
		RenameAttempts: cfg.RenameAttempts,
		ProtectedPaths: cfg.ProtectedPaths,
		Logger:         a.logger,
	}
	if cfg.HistoryDB != "" {
		db, err := database.NewHistoryDB(cfg.HistoryDB)
		if err != nil {
			a.log.Warn("history database unavailable", "path", cfg.HistoryDB, "error", err)
		} else {
			a.history = db
			opts.History = db
		}
	}

	g, err := graveyard.Open(opts)
	if err != nil {
		return err
	}
	a.g = g
	return nil
}

// close releases everything open and flushes metrics to the textfile
// collector, if one is configured.
func (a *app) close() {
	if a.g != nil {
		if err := a.g.Close(); err != nil {
			a.log.Warn("failed to close graveyard", "error", err)
		}
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.log.Warn("failed to close history database", "error", err)
		}
	}
	if a.cfg != nil && a.cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
			a.log.Warn("failed to write metrics", "path", a.cfg.Metrics.Textfile, "error", err)
		}
	}
}

// confirm asks a yes/no question on stdout; anything but yes is no.
func (a *app) confirm(question string) bool {
	fmt.Fprintf(a.stdout, "%s [y/N] ", question)
	line, _ := a.stdin.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
