// Command rip-web serves a graveyard and its history over HTTP.
package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"rip-sage/internal/config"
	"rip-sage/internal/database"
	"rip-sage/internal/exitcodes"
	"rip-sage/internal/graveyard"
	"rip-sage/internal/logging"
	"rip-sage/internal/metrics"
	"rip-sage/internal/scheduler"
	"rip-sage/internal/web/api"
	"rip-sage/internal/web/auth"
	"rip-sage/internal/web/websocket"
)

// EnvJWTSecret supplies the token signing secret when web.jwt_secret_file
// is not set.
const EnvJWTSecret = "RIP_WEB_JWT_SECRET"

const (
	ReadHeaderTimeout = 5 * time.Second
	ReadTimeout       = 15 * time.Second
	WriteTimeout      = 15 * time.Second
	IdleTimeout       = 60 * time.Second
	ShutdownTimeout   = 10 * time.Second
)

var errNoSecret = fmt.Errorf("no jwt secret: set web.jwt_secret_file or %s", EnvJWTSecret)

type options struct {
	configPath    string
	graveyardFlag string
	addr          string
	hashPassword  bool
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr, os.Getenv, nil))
}

// run starts the server and blocks until ctx is cancelled or a signal
// arrives. When ready is not nil it receives the listening address.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, getenv func(string) string, ready chan<- string) int {
	var o options
	fs := flag.NewFlagSet("rip-web", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "path to the configuration file (default "+config.DefaultPath()+")")
	fs.StringVar(&o.graveyardFlag, "graveyard", "", "graveyard directory")
	fs.StringVar(&o.addr, "addr", "", "listen address (default: web.addr from the config)")
	fs.BoolVar(&o.hashPassword, "hash-password", false, "read a password from stdin, print its bcrypt hash and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitcodes.Success
		}
		return exitcodes.InvalidConfig
	}

	if o.hashPassword {
		return hashPassword(stdin, stdout, stderr)
	}

	cfg, err := loadConfig(o.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "rip-web: %v\n", err)
		return exitcodes.InvalidConfig
	}
	if o.addr != "" {
		cfg.Web.Addr = o.addr
	}

	secret, err := loadSecret(cfg.Web, getenv)
	if err != nil {
		fmt.Fprintf(stderr, "rip-web: %v\n", err)
		return exitcodes.InvalidConfig
	}
	jwtManager, err := auth.NewJWTManager(secret, cfg.Web.TokenTTL())
	if err != nil {
		fmt.Fprintf(stderr, "rip-web: %v\n", err)
		return exitcodes.InvalidConfig
	}
	if len(cfg.Web.Users) == 0 {
		fmt.Fprintln(stderr, "rip-web: no users configured under web.users")
		return exitcodes.InvalidConfig
	}

	// a service always logs to stderr as well
	cfg.Logging.Verbose = true
	logger := logging.New(cfg.Logging)
	lv := logging.NewLeveled(logger)

	metrics.Init()
	metrics.InitAPI()

	var history *database.HistoryDB
	if cfg.HistoryDB != "" {
		history, err = database.NewHistoryDB(cfg.HistoryDB)
		if err != nil {
			lv.Warn("history database unavailable", "path", cfg.HistoryDB, "error", err)
		} else {
			defer history.Close()
		}
	}

	gopts := graveyard.Options{
		Root:           cfg.ResolveGraveyard(o.graveyardFlag, getenv),
		LockTimeout:    cfg.LockTimeout(),
		RenameAttempts: cfg.RenameAttempts,
		ProtectedPaths: cfg.ProtectedPaths,
		Logger:         logger,
	}
	if history != nil {
		gopts.History = history
	}
	g, err := graveyard.Open(gopts)
	if err != nil {
		lv.Error("open graveyard", "error", err)
		fmt.Fprintf(stderr, "rip-web: %v\n", err)
		return exitcodes.RuntimeError
	}
	defer g.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var source websocket.EventSource
	if history != nil {
		source = history
	}
	hub := websocket.NewHub(source, websocket.DefaultPollInterval, lv)
	go hub.Run(ctx)

	apiOpts := api.Options{
		Graveyard: g,
		Hub:       hub,
		JWT:       jwtManager,
		Users:     auth.NewUsers(cfg.Web.Users),
		Log:       lv,
	}
	if history != nil {
		apiOpts.History = history
	}
	server := api.NewServer(apiOpts)
	go server.RunLimiterCleanup(ctx)

	reaped := make(chan struct{})
	if cfg.Retention.Enabled() {
		policy := graveyard.ReapPolicy{
			MaxAge:         cfg.Retention.MaxAge(),
			MaxUsedPercent: cfg.Retention.MaxUsedPercent,
		}
		lv.Info("retention enabled", "max_age_days", cfg.Retention.MaxAgeDays,
			"max_used_percent", cfg.Retention.MaxUsedPercent, "interval", cfg.Retention.Interval())
		go func() {
			defer close(reaped)
			_ = scheduler.Run(ctx, g, policy, cfg.Retention.Interval(), lv)
		}()
	} else {
		close(reaped)
	}
	// the graveyard stays open until a running pass has finished
	defer func() {
		stop()
		<-reaped
	}()

	srv := &http.Server{
		Handler:           server.Router(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
		ErrorLog:          logger,
	}
	useTLS := cfg.Web.TLSCert != ""
	if useTLS {
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS13}
	}

	ln, err := net.Listen("tcp", cfg.Web.Addr)
	if err != nil {
		lv.Error("listen", "addr", cfg.Web.Addr, "error", err)
		fmt.Fprintf(stderr, "rip-web: %v\n", err)
		return exitcodes.RuntimeError
	}
	lv.Info("rip-web listening", "addr", ln.Addr().String(), "graveyard", g.Root(), "tls", useTLS,
		"history", history != nil, "users", len(cfg.Web.Users))
	if ready != nil {
		ready <- ln.Addr().String()
	}

	errCh := make(chan error, 1)
	go func() {
		if useTLS {
			errCh <- srv.ServeTLS(ln, cfg.Web.TLSCert, cfg.Web.TLSKey)
		} else {
			errCh <- srv.Serve(ln)
		}
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			lv.Error("server failed", "error", err)
			fmt.Fprintf(stderr, "rip-web: %v\n", err)
			return exitcodes.RuntimeError
		}
	case <-ctx.Done():
		lv.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lv.Warn("graceful shutdown incomplete", "error", err)
	}
	return exitcodes.Success
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadOptional(config.DefaultPath())
}

// loadSecret reads the signing secret from web.jwt_secret_file, falling
// back to the environment.
func loadSecret(cfg config.WebCfg, getenv func(string) string) (string, error) {
	if cfg.JWTSecretFile != "" {
		data, err := os.ReadFile(cfg.JWTSecretFile)
		if err != nil {
			return "", fmt.Errorf("read jwt secret: %w", err)
		}
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("jwt secret file %s is empty", cfg.JWTSecretFile)
		}
		return secret, nil
	}
	if secret := strings.TrimSpace(getenv(EnvJWTSecret)); secret != "" {
		return secret, nil
	}
	return "", errNoSecret
}

func hashPassword(stdin io.Reader, stdout, stderr io.Writer) int {
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		fmt.Fprintf(stderr, "rip-web: read password: %v\n", err)
		return exitcodes.RuntimeError
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		fmt.Fprintln(stderr, "rip-web: empty password")
		return exitcodes.InvalidConfig
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Fprintf(stderr, "rip-web: %v\n", err)
		return exitcodes.RuntimeError
	}
	fmt.Fprintln(stdout, hash)
	return exitcodes.Success
}
