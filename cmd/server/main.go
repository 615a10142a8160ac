// Tripguard raises, tracks and fans out in-trip emergency alerts for a ride-sharing platform.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/prof"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/linnemanlabs/go-core/health"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/tripguard/internal/alert"
	"github.com/linnemanlabs/tripguard/internal/alert/memstore"
	"github.com/linnemanlabs/tripguard/internal/alert/pgstore"
	"github.com/linnemanlabs/tripguard/internal/alertapi"
	"github.com/linnemanlabs/tripguard/internal/alertquery"
	"github.com/linnemanlabs/tripguard/internal/authmw"
	tc "github.com/linnemanlabs/tripguard/internal/cfg"
	"github.com/linnemanlabs/tripguard/internal/dispatch"
	"github.com/linnemanlabs/tripguard/internal/events"
	"github.com/linnemanlabs/tripguard/internal/geo"
	"github.com/linnemanlabs/tripguard/internal/geocode"
	"github.com/linnemanlabs/tripguard/internal/notify/slack"
	"github.com/linnemanlabs/tripguard/internal/notify/sms"
	"github.com/linnemanlabs/tripguard/internal/postgres"
)

const appName = "tripguard"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component

	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    tc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// env vars are applied after parsing and never override cmdline flags
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	cfg.FillFromEnv(flag.CommandLine, "TRIPGUARD_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// cross-cutting checks that only main can validate
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"trace_sample", traceCfg.TraceSample,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"database", appCfg.DatabaseURL != "",
		"geocoder", appCfg.GeocoderURL != "",
		"kafka", appCfg.KafkaBrokers != "",
		"slack", appCfg.SlackWebhookURL != "",
		"dispatch_concurrency", appCfg.DispatchConcurrency,
		"dispatch_retries", appCfg.DispatchRetries,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
	)

	// Setup pyroscope profiling early so we get profiles from the entire app lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	// link spans to profiles so a slow trigger can be opened as a flame graph
	if profErr == nil && profCfg.EnablePyroscope {
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(otel.GetTracerProvider()))
	}

	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	region := geo.DefaultRegion
	if appCfg.RegionFile != "" {
		region, err = geo.LoadRegion(appCfg.RegionFile)
		if err != nil {
			return fmt.Errorf("load region: %w", err)
		}
	}
	L.Info(ctx, "operating region", "name", region.Name)

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tripguard_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	var store alert.Store
	if appCfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL,
			postgres.WithMaxConns(int32(appCfg.DBMaxConns)), //nolint:gosec // G115: bounded 1..200 by Validate
			postgres.WithSlowQueryLog(appCfg.SlowQuery),
			postgres.WithQueryArgs(appCfg.DBLogQueryArgs),
			postgres.WithQueryObserver(postgres.QueryObserverFunc(
				func(_ context.Context, method, route, outcome string, dur time.Duration) {
					dbQueryDuration.WithLabelValues(method, route, outcome).Observe(dur.Seconds())
				},
			)),
		)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()
		pgStore, err := pgstore.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("pgstore init: %w", err)
		}
		store = pgStore
		L.Info(ctx, "using postgres store")
	} else {
		store = memstore.New()
		L.Info(ctx, "using in-memory store (no database-url configured)")
	}

	// Notification dispatcher: SMS to contacts, Slack to the emergency desk.
	sender := sms.New(appCfg.SMSGatewayURL, appCfg.SMSGatewayToken, sms.WithSenderID(appCfg.SMSSenderID))
	dispatchOpts := []dispatch.Option{dispatch.WithMetrics(dispatch.NewMetrics(m.Registry()))}
	if appCfg.SlackWebhookURL != "" {
		dispatchOpts = append(dispatchOpts, dispatch.WithEmergencyNotifier(slack.New(appCfg.SlackWebhookURL)))
		L.Info(ctx, "emergency notifier enabled", "type", "slack")
	}
	dispatcher := dispatch.New(store, sender, L, dispatch.Config{
		MaxConcurrency: int64(appCfg.DispatchConcurrency),
		MaxRetries:     appCfg.DispatchRetries,
		BaseDelay:      appCfg.DispatchBaseDelay,
		MaxDelay:       appCfg.DispatchMaxDelay,
		AttemptTimeout: appCfg.DispatchAttemptTimeout,
	}, dispatchOpts...)

	svcOpts := []alert.Option{
		alert.WithMetrics(alert.NewMetrics(m.Registry())),
		alert.WithRegion(region),
	}
	if appCfg.GeocoderURL != "" {
		gc := geocode.New(appCfg.GeocoderURL,
			geocode.WithCache(appCfg.GeocoderCacheSize, 24*time.Hour),
			geocode.WithLanguage(appCfg.GeocoderLanguage),
		)
		svcOpts = append(svcOpts, alert.WithGeocoder(gc, appCfg.GeocoderTimeout))
		L.Info(ctx, "reverse geocoding enabled", "url", appCfg.GeocoderURL)
	}
	var publisher *events.Publisher
	if brokers := appCfg.KafkaBrokerList(); len(brokers) > 0 {
		publisher = events.NewPublisher(brokers, appCfg.KafkaTopic, L)
		svcOpts = append(svcOpts, alert.WithPublisher(publisher))
		L.Info(ctx, "lifecycle events enabled", "brokers", brokers, "topic", appCfg.KafkaTopic)
	}

	alertSvc := alert.NewService(store, dispatcher, L, svcOpts...)
	querySvc := alertquery.New(store, L, alertquery.WithStaleThreshold(appCfg.StaleMinutes))

	// flipped on shutdown so readiness fails and the load balancer drains us
	var shutdownGate health.ShutdownGate

	readiness := health.All(
		shutdownGate.Probe(),
	)
	liveness := health.Fixed(true, "")

	// ops listener: metrics, health, pprof
	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	// internal only; opshttp rejects public source addresses and forwarded requests
	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		err := opsHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	r := chi.NewRouter()

	r.Use(middleware.Compress(5, "application/json"))

	// http.route on logger and span from the chi pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// method label for the db query histogram
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(postgres.WithHTTPMethod(req.Context(), req.Method)))
		})
	})

	r.Use(httpmw.AccessLog())

	// trigger payloads are small; 20 contacts and 8 occupants fit well under 32KB
	r.Use(httpmw.MaxBody(1024 * 32))

	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	alertapiHTTP := alertapi.New(L, alertSvc, querySvc, alertapi.WithMiddleware(
		authmw.BearerToken(appCfg.APIToken),
		authmw.Actor(appCfg.ActorHeader),
	))
	alertapiHTTP.RegisterRoutes(r)

	// wrappers below are applied inside-out: the last one added sees the raw request first
	var h http.Handler = r

	h = httpmw.WithLogger(L)(h)

	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// renamed to the route pattern by AnnotateHTTPRoute
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)

	h = m.Middleware(h)

	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)

	h = httpmw.RequestID("X-Request-Id")(h)

	h = httpmw.Recover(L, nil)(h)

	h = httpmw.SecurityHeaders(h)

	alertapiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	alertapiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, alertapiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start alertapi http listener")
		return err
	}
	defer func() {
		err := alertapiHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop alertapi http listener")
		}
	}()

	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// each component gets an equal slice of the budget; the dispatcher stops
	// after the API so no new notices arrive while it drains
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"alertapi http server", alertapiHTTPStop},
		{"dispatcher", dispatcher.Shutdown},
		{"ops http server", opsHTTPStop},
	}
	if publisher != nil {
		stopFns = append(stopFns, stopFn{"kafka publisher", func(context.Context) error { return publisher.Close() }})
	}
	if shutdownOtelx != nil {
		stopFns = append(stopFns, stopFn{"otel", shutdownOtelx})
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	L.Info(context.Background(), "shutdown complete")
	return nil
}

func notifySystemd() error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
