package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/sgajbi/advisor-experience-api/internal/app/httpapi"
	"github.com/sgajbi/advisor-experience-api/internal/app/metrics"
	"github.com/sgajbi/advisor-experience-api/internal/config"
	"github.com/sgajbi/advisor-experience-api/internal/httputil"
	"github.com/sgajbi/advisor-experience-api/internal/logging"
	"github.com/sgajbi/advisor-experience-api/internal/middleware"
	"github.com/sgajbi/advisor-experience-api/internal/services/capabilities"
	"github.com/sgajbi/advisor-experience-api/internal/services/lookups"
	"github.com/sgajbi/advisor-experience-api/internal/services/proposals"
	"github.com/sgajbi/advisor-experience-api/internal/services/reporting"
	"github.com/sgajbi/advisor-experience-api/internal/services/workbench"
	"github.com/sgajbi/advisor-experience-api/internal/upstream"
)

// Application ties the upstream adapters, the gateway services and the HTTP
// surface together and manages their lifecycle.
type Application struct {
	cfg       *config.Config
	log       *logging.Logger
	transport *http.Transport
	scheduler *cron.Cron
	limiter   *middleware.RateLimiter
	handler   http.Handler
	draining  atomic.Bool

	Capabilities *capabilities.Service
	Workbench    *workbench.Service
	Proposals    *proposals.Service
	Reporting    *reporting.Service
	Lookups      *lookups.Service
}

// New builds a fully initialised application from cfg.
func New(cfg *config.Config, log *logging.Logger) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	if log == nil {
		log = logging.NewDefault(cfg.ServiceName)
	}

	transport := newTransport()
	httpClient := &http.Client{Transport: transport}
	recorder := metrics.NewRecorder()

	executor := func(name string) *httputil.Executor {
		retry := cfg.RetryFor(name)
		return httputil.NewExecutor(httputil.ExecutorConfig{
			Service: name,
			Client:  httpClient,
			Policy: httputil.RetryPolicy{
				Timeout:          retry.Timeout,
				MaxRetries:       retry.MaxRetries,
				Backoff:          retry.Backoff,
				RetryStatusCodes: retry.RetryStatusCodes,
			},
			Breaker: httputil.NewBreaker(httputil.BreakerConfig{
				FailureThreshold: cfg.Breaker.FailureThreshold,
				Cooldown:         cfg.Breaker.Cooldown,
				OnStateChange:    recorder.BreakerObserver(name),
			}),
			Observer: recorder,
			Logger:   log,
		})
	}
	adapter := func(name string) upstream.Config {
		baseURL := ""
		if settings, ok := cfg.Upstream(name); ok {
			baseURL = settings.BaseURL
		}
		return upstream.Config{BaseURL: baseURL, Executor: executor(name)}
	}

	pas := upstream.NewPASClient(adapter(config.UpstreamPAS))
	pa := upstream.NewPAClient(adapter(config.UpstreamPA))
	dpm := upstream.NewDPMClient(adapter(config.UpstreamDPM))
	ras := upstream.NewRASClient(adapter(config.UpstreamRAS))
	decisioning := dpm
	if name := cfg.DecisioningUpstream(); name != config.UpstreamDPM {
		decisioning = upstream.NewDPMClient(adapter(name))
	}

	fetchers := map[string]capabilities.Fetcher{
		config.UpstreamPAS: pas,
		config.UpstreamPA:  pa,
		config.UpstreamDPM: dpm,
		config.UpstreamRAS: ras,
	}
	if decisioning != dpm {
		fetchers[config.UpstreamManage] = decisioning
	}
	sources := make([]capabilities.Source, 0, len(cfg.Services.CapabilitySources))
	for _, name := range cfg.Services.CapabilitySources {
		src := capabilities.Source{Name: name}
		if settings, ok := cfg.Upstream(name); ok && settings.Enabled {
			src.Fetcher = fetchers[name]
		}
		if src.Fetcher == nil {
			log.WithField("source", name).Warn("capability source disabled")
		}
		sources = append(sources, src)
	}

	var policy capabilities.PolicyFetcher
	if settings, ok := cfg.Upstream(cfg.Services.PolicySource); ok && settings.Enabled && cfg.Services.PolicySource == config.UpstreamPAS {
		policy = pas
	}

	rules, err := capabilities.RulesFromConfig(cfg.Services.Navigation, cfg.Services.Workflows)
	if err != nil {
		return nil, fmt.Errorf("capability rules: %w", err)
	}

	a := &Application{
		cfg:       cfg,
		log:       log,
		transport: transport,
		scheduler: cron.New(),
		Capabilities: capabilities.New(capabilities.Config{
			Sources:         sources,
			Policy:          policy,
			Rules:           rules,
			ContractVersion: cfg.ContractVersion,
			Logger:          log,
			Recorder:        recorder,
		}),
		Workbench: workbench.New(workbench.Config{
			PAS:             pas,
			PA:              pa,
			DPM:             decisioning,
			ContractVersion: cfg.ContractVersion,
			Logger:          log,
			Recorder:        recorder,
		}),
		Proposals: proposals.New(decisioning, cfg.ContractVersion, log),
		Reporting: reporting.New(ras, cfg.ContractVersion, log),
		Lookups:   lookups.New(pas, cfg.ContractVersion, log),
	}

	a.limiter = middleware.NewRateLimiter(float64(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst, log)
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.CleanupSchedule != "" {
		if err := a.limiter.ScheduleCleanup(a.scheduler, cfg.RateLimit.CleanupSchedule); err != nil {
			return nil, fmt.Errorf("schedule rate limiter cleanup: %w", err)
		}
	}

	router := httpapi.NewHandler(httpapi.Config{
		Capabilities: a.Capabilities,
		Workbench:    a.Workbench,
		Proposals:    a.Proposals,
		Reporting:    a.Reporting,
		Lookups:      a.Lookups,
		Draining:     a.Draining,
		Logger:       log,
	})

	a.handler = chi.Chain(
		chimiddleware.RealIP,
		middleware.NewCorrelationMiddleware(log).Handler,
		chimiddleware.Recoverer,
		middleware.NewCORSMiddleware(cfg.CORSAllowedOrigins).Handler,
		a.limiter.Handler,
		middleware.NewWriteAuthzMiddleware(middleware.WriteAuthzConfig{
			Enforce:      cfg.EnforceWriteAuthz,
			Capabilities: cfg.Services.WriteCapabilities,
			Logger:       log,
		}).Handler,
	).Handler(router)

	log.WithFields(logrus.Fields{
		"contract_version": cfg.ContractVersion,
		"decisioning":      cfg.DecisioningUpstream(),
		"sources":          len(sources),
	}).Info("application initialised")

	return a, nil
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (a *Application) Handler() http.Handler {
	return a.handler
}

// Draining reports whether Stop has been called.
func (a *Application) Draining() bool {
	return a.draining.Load()
}

// Start begins the background jobs.
func (a *Application) Start(_ context.Context) error {
	a.draining.Store(false)
	a.scheduler.Start()
	return nil
}

// Stop marks the application as draining, waits for running jobs and
// releases pooled connections.
func (a *Application) Stop(ctx context.Context) error {
	a.draining.Store(true)
	done := a.scheduler.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	a.transport.CloseIdleConnections()
	return nil
}
