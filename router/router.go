package router

import (
	"database/sql"
	"net/http"

	"github.com/didip/tollbooth"
	"github.com/golang/glog"
	"github.com/julienschmidt/httprouter"
	_ "github.com/lib/pq"
	"github.com/rs/cors"

	"github.com/fledge/fledge-server/adselection"
	"github.com/fledge/fledge-server/config"
	"github.com/fledge/fledge-server/endpoints"
	"github.com/fledge/fledge-server/filters"
	"github.com/fledge/fledge-server/jsengine"
	metricsConf "github.com/fledge/fledge-server/metrics/config"
	"github.com/fledge/fledge-server/signals"
	"github.com/fledge/fledge-server/storage"
	"github.com/fledge/fledge-server/storage/memory"
	"github.com/fledge/fledge-server/storage/postgres"
)

// Endpoint names registered with the metrics engine.
var coreEndpoints = []string{"select_ads", "report_impression", "update_histogram"}

// Stores groups the persistence interfaces one backend must satisfy.
type Stores struct {
	Selections storage.AdSelectionStore
	Histograms storage.HistogramStore
	Overrides  storage.OverrideStore
}

// Router wires the ad selection pipeline behind HTTP routes.
type Router struct {
	*httprouter.Router
	MetricsEngine *metricsConf.DetailedMetricsEngine
	Shutdown      func()
}

// New builds the full object graph: stores, logic source, script engine,
// caller filter, the pipeline components and their endpoints.
func New(cfg *config.Configuration) (*Router, error) {
	stores, shutdown, err := newStores(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithDependencies(cfg, stores, jsengine.NewGojaExecutor(), filters.AllowAll{}, filters.AllowAll{}, shutdown)
}

// NewWithDependencies is New with injectable collaborators, for tests and
// for hosts that supply real consent/foreground checkers.
func NewWithDependencies(cfg *config.Configuration, stores Stores, executor jsengine.Executor, consent filters.ConsentChecker, foreground filters.ForegroundChecker, shutdown func()) (*Router, error) {
	r := &Router{
		Router:   httprouter.New(),
		Shutdown: shutdown,
	}
	r.MetricsEngine = metricsConf.NewMetricsEngine(cfg, coreEndpoints)

	logicSource := signals.NewLogicSource(
		signals.DefaultHTTPClient(cfg.Timeouts.Fetch()),
		stores.Overrides,
		cfg.Overrides.Enabled,
		cfg.Scoring.JSCacheSizeBytes,
		cfg.Scoring.JSCacheTTLSeconds,
	)

	var throttler *filters.Throttler
	if cfg.RateLimits.Enabled {
		throttler = filters.NewThrottler(cfg.RateLimits.PerCallerPerSecond, cfg.RateLimits.PerCallerBurst)
	}
	callerFilter := filters.NewCallerFilter(
		filters.NewEnrollment(cfg.Enrollment.EnrolledDomains),
		consent,
		foreground,
		throttler,
	)

	frequencyFilter := adselection.NewFrequencyCapFilter(stores.Histograms, r.MetricsEngine)
	scorer := adselection.NewAdsScoreGenerator(logicSource, executor, cfg, r.MetricsEngine)
	runner := adselection.NewRunner(frequencyFilter, scorer, stores.Selections, callerFilter)
	reporter := adselection.NewImpressionReporter(stores.Selections, logicSource, executor, callerFilter, cfg, r.MetricsEngine)
	updater := adselection.NewHistogramUpdater(stores.Selections, stores.Histograms, cfg.FrequencyCap, r.MetricsEngine)

	r.POST("/fledge/select", endpoints.NewSelectAdsEndpoint(runner, cfg.MaxRequestSize, r.MetricsEngine))
	r.POST("/fledge/impression", endpoints.NewReportImpressionEndpoint(reporter, cfg.MaxRequestSize, r.MetricsEngine))
	r.POST("/fledge/interaction", endpoints.NewInteractionEndpoint(updater, callerFilter, cfg.MaxRequestSize, r.MetricsEngine))
	r.GET("/status", endpoints.NewStatusEndpoint(""))

	return r, nil
}

func newStores(cfg *config.Configuration) (Stores, func(), error) {
	switch cfg.Storage.Type {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Storage.Postgres.ConnString())
		if err != nil {
			return Stores{}, nil, err
		}
		if err := db.Ping(); err != nil {
			glog.Errorf("failed to connect to ad selection db: %v", err)
		}
		store := postgres.NewStore(db)
		shutdown := func() {
			if err := db.Close(); err != nil {
				glog.Errorf("error closing DB connection: %v", err)
			}
		}
		return Stores{Selections: store, Histograms: store, Overrides: store}, shutdown, nil
	default:
		store := memory.NewStore()
		return Stores{Selections: store, Histograms: store, Overrides: store}, func() {}, nil
	}
}

// SupportCORS wraps the router with the CORS policy browser callers need.
func SupportCORS(handler http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowCredentials: true,
		AllowOriginFunc: func(string) bool {
			return true
		},
		AllowedHeaders: []string{"Origin", "X-Requested-With", "Content-Type", "Accept"},
	})
	return c.Handler(handler)
}

// LimitRequests wraps the handler with a process-wide request rate limit.
func LimitRequests(cfg *config.Configuration, handler http.Handler) http.Handler {
	if !cfg.RateLimits.Enabled {
		return handler
	}
	lmt := tollbooth.NewLimiter(cfg.RateLimits.RequestsPerSecond, nil)
	lmt.SetBurst(cfg.RateLimits.Burst)
	return tollbooth.LimitHandler(lmt, handler)
}

// NoCache sets the response headers which keep intermediaries from caching
// auction responses.
type NoCache struct {
	Handler http.Handler
}

func (m NoCache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Add("Pragma", "no-cache")
	w.Header().Add("Expires", "0")
	m.Handler.ServeHTTP(w, r)
}
