package cli

import (
	"context"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/pkg/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

// DirMode is the directory mode for output directories.
const DirMode = 0o700

const metricsShutdownTimeout = 5 * time.Second

type observabilityFlags struct {
	enablePProf       bool
	metricsListenAddr string
	metricsPushAddr   string
	metricsJob        string
	cpuProfileDir     string
	enableOTLP        bool

	server        *http.Server
	profiler      interface{ Stop() }
	traceProvider *trace.TracerProvider
}

func (c *observabilityFlags) setup(svc appServices, app *kingpin.Application) {
	app.Flag("metrics-listen-addr", "Expose Prometheus metrics on a given host:port").StringVar(&c.metricsListenAddr)
	app.Flag("enable-pprof", "Expose pprof handlers").Hidden().BoolVar(&c.enablePProf)
	app.Flag("metrics-push-addr", "Address of push gateway, metrics are pushed when the command finishes").Envar(svc.EnvName("MIMESPOOL_METRICS_PUSH_ADDR")).Hidden().StringVar(&c.metricsPushAddr)
	app.Flag("metrics-push-job", "Job ID for push gateway").Envar(svc.EnvName("MIMESPOOL_METRICS_JOB")).Hidden().Default("mimespool").StringVar(&c.metricsJob)
	app.Flag("cpu-profile-dir", "Directory to write CPU profile of the command to").Hidden().StringVar(&c.cpuProfileDir)
	app.Flag("enable-otlp-trace", "Emit OpenTelemetry traces to the OTLP collector configured by OTEL_EXPORTER_OTLP_* environment variables").Hidden().Envar(svc.EnvName("MIMESPOOL_ENABLE_OTLP_TRACE")).BoolVar(&c.enableOTLP)
}

func (c *observabilityFlags) startMetrics(ctx context.Context) error {
	if err := c.maybeStartListener(ctx); err != nil {
		return err
	}

	if c.cpuProfileDir != "" {
		if err := os.MkdirAll(c.cpuProfileDir, DirMode); err != nil {
			return errors.Wrapf(err, "could not create profile output directory: %s", c.cpuProfileDir)
		}

		c.profiler = profile.Start(profile.CPUProfile, profile.ProfilePath(c.cpuProfileDir), profile.NoShutdownHook, profile.Quiet)
	}

	return c.maybeStartTraceExporter(ctx)
}

func (c *observabilityFlags) maybeStartListener(ctx context.Context) error {
	if c.metricsListenAddr == "" {
		return nil
	}

	m := mux.NewRouter()
	m.Handle("/metrics", promhttp.Handler())

	if c.enablePProf {
		m.HandleFunc("/debug/pprof/", pprof.Index)
		m.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		m.HandleFunc("/debug/pprof/profile", pprof.Profile)
		m.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		m.HandleFunc("/debug/pprof/trace", pprof.Trace)
		m.HandleFunc("/debug/pprof/{cmd}", pprof.Index)
	}

	l, err := net.Listen("tcp", c.metricsListenAddr)
	if err != nil {
		return errors.Wrapf(err, "unable to listen on %v", c.metricsListenAddr)
	}

	c.server = &http.Server{Handler: m, ReadHeaderTimeout: metricsShutdownTimeout}

	log(ctx).Infof("starting prometheus metrics on %v", l.Addr())

	go c.server.Serve(l) //nolint:errcheck

	return nil
}

func (c *observabilityFlags) maybeStartTraceExporter(ctx context.Context) error {
	if !c.enableOTLP {
		return nil
	}

	se, err := otlptracegrpc.New(ctx)
	if err != nil {
		return errors.Wrap(err, "unable to create OTLP exporter")
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(se),
		trace.WithResource(resource.NewSchemaless(attribute.String("service.name", "mimespool"))),
	)

	otel.SetTracerProvider(tp)

	c.traceProvider = tp

	return nil
}

func (c *observabilityFlags) stopMetrics(ctx context.Context) {
	if c.metricsPushAddr != "" {
		if err := push.New(c.metricsPushAddr, c.metricsJob).Gatherer(prometheus.DefaultGatherer).Push(); err != nil {
			log(ctx).Warnf("unable to push metrics: %v", err)
		}
	}

	if c.server != nil {
		sctx, cancel := context.WithTimeout(ctx, metricsShutdownTimeout)
		defer cancel()

		if err := c.server.Shutdown(sctx); err != nil {
			log(ctx).Warnf("unable to shut down metrics listener: %v", err)
		}

		c.server = nil
	}

	if c.profiler != nil {
		c.profiler.Stop()
		c.profiler = nil
	}

	if c.traceProvider != nil {
		if err := c.traceProvider.Shutdown(ctx); err != nil {
			log(ctx).Warnf("unable to shutdown trace provider: %v", err)
		}
	}
}
