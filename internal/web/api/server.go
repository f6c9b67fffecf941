// Package api serves one graveyard and its history over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"rip-sage/internal/database"
	"rip-sage/internal/graveyard"
	"rip-sage/internal/logging"
	"rip-sage/internal/record"
	"rip-sage/internal/web/auth"
	"rip-sage/internal/web/middleware"
	"rip-sage/internal/web/websocket"
)

const (
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes = 1 << 20

	rateIdle = 10 * time.Minute
)

// Graveyard is the part of *graveyard.Graveyard the API drives.
type Graveyard interface {
	List(ctx context.Context, pred graveyard.Predicate) ([]graveyard.Grave, error)
	Exhume(ctx context.Context, pred graveyard.Predicate) (graveyard.RestoredInfo, error)
	ExhumeAll(ctx context.Context, pred graveyard.Predicate) ([]graveyard.RestoredInfo, error)
	Prune(ctx context.Context, pred graveyard.Predicate) ([]record.Entry, error)
	Decompose(ctx context.Context) error
}

// History is the part of *database.HistoryDB the API reads.
type History interface {
	GetRecentEventsPaginated(limit, offset int) ([]database.Event, int, error)
	GetEventsByAction(action string) ([]database.Event, error)
	GetEventsByPath(pathPattern string) ([]database.Event, error)
	GetHistoryStats(days int) (*database.HistoryStats, error)
}

// Options configures a Server. History and Hub may be nil, in which case
// the history endpoints answer 503.
type Options struct {
	Graveyard Graveyard
	History   History
	Hub       *websocket.Hub
	JWT       *auth.JWTManager
	Users     *auth.Users
	Log       *logging.Leveled

	// Requests per second and burst per client, globally and on login.
	// Zero values take the defaults.
	Rate       rate.Limit
	Burst      int
	LoginRate  rate.Limit
	LoginBurst int
}

// Server holds what the handlers share.
type Server struct {
	g       Graveyard
	history History
	hub     *websocket.Hub
	jwt     *auth.JWTManager
	users   *auth.Users
	log     *logging.Leveled

	limiter      *middleware.RateLimiter
	loginLimiter *middleware.RateLimiter
}

func NewServer(opts Options) *Server {
	if opts.Rate == 0 {
		opts.Rate, opts.Burst = 100, 200
	}
	if opts.LoginRate == 0 {
		opts.LoginRate, opts.LoginBurst = 5, 10
	}
	return &Server{
		g:            opts.Graveyard,
		history:      opts.History,
		hub:          opts.Hub,
		jwt:          opts.JWT,
		users:        opts.Users,
		log:          opts.Log,
		limiter:      middleware.NewRateLimiter(opts.Rate, opts.Burst, rateIdle),
		loginLimiter: middleware.NewRateLimiter(opts.LoginRate, opts.LoginBurst, rateIdle),
	}
}

// RunLimiterCleanup forgets idle rate limit buckets until ctx is done.
func (s *Server) RunLimiterCleanup(ctx context.Context) {
	go s.loginLimiter.Run(ctx)
	s.limiter.Run(ctx)
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()

	router.Use(middleware.RecoveryMiddleware(s.log))
	router.Use(middleware.LoggingMiddleware(s.log))
	router.Use(middleware.MetricsMiddleware)
	router.Use(middleware.SecurityHeadersMiddleware)
	router.Use(middleware.RequestBodySizeLimitMiddleware(MaxBodyBytes))
	router.Use(s.limiter.Middleware())

	metricsAuth := middleware.AuthMiddleware(s.jwt)(middleware.RequirePermission(auth.PermissionViewMetrics)(promhttp.Handler()))
	router.Handle("/metrics", metricsAuth).Methods(http.MethodGet)

	// Public routes
	router.HandleFunc("/api/v1/health", s.HealthHandler).Methods(http.MethodGet, http.MethodHead)

	loginRouter := router.PathPrefix("/api/v1/auth").Subrouter()
	loginRouter.Use(s.loginLimiter.Middleware())
	loginRouter.HandleFunc("/login", s.LoginHandler).Methods(http.MethodPost)

	// Protected routes, one subrouter per permission
	protected := router.PathPrefix("/api/v1").Subrouter()
	protected.Use(middleware.AuthMiddleware(s.jwt))

	allow := func(permission string) *mux.Router {
		sub := protected.NewRoute().Subrouter()
		sub.Use(middleware.RequirePermission(permission))
		return sub
	}

	readGraves := allow(auth.PermissionReadGraves)
	readGraves.HandleFunc("/graves", s.ListGravesHandler).Methods(http.MethodGet)

	restore := allow(auth.PermissionRestoreGraves)
	restore.HandleFunc("/graves/exhume", s.ExhumeHandler).Methods(http.MethodPost)

	prune := allow(auth.PermissionPruneGraves)
	prune.HandleFunc("/graves/prune", s.PruneHandler).Methods(http.MethodPost)

	decompose := allow(auth.PermissionDecompose)
	decompose.HandleFunc("/graveyard/decompose", s.DecomposeHandler).Methods(http.MethodPost)

	readHistory := allow(auth.PermissionReadHistory)
	readHistory.HandleFunc("/history", s.HistoryHandler).Methods(http.MethodGet)
	readHistory.HandleFunc("/history/stats", s.HistoryStatsHandler).Methods(http.MethodGet)
	readHistory.HandleFunc("/ws/events", s.EventsHandler).Methods(http.MethodGet)

	return router
}

// EventsHandler upgrades to the live event feed.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil || s.history == nil {
		respondError(w, "no history database configured", http.StatusServiceUnavailable)
		return
	}
	websocket.HandleEvents(s.hub)(w, r)
}
