// Package cli implements command-line commands of the spooler.
package cli

import (
	"context"
	"io"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"

	"github.com/kopia/mimespool/config"
	"github.com/kopia/mimespool/internal/metrics"
	"github.com/kopia/mimespool/internal/tempstore"
	"github.com/kopia/mimespool/logging"
)

var log = logging.Module("mimespool/cli")

const logFileMode = 0o600

// appServices are the services provided by App to commands.
type appServices interface {
	baseAction(act func(ctx context.Context) error) func(ctx *kingpin.ParseContext) error
	spoolAction(act func(ctx context.Context, st *tempstore.Storage) error) func(ctx *kingpin.ParseContext) error
	openSpool(customize func(o *tempstore.Options)) (*tempstore.Storage, error)

	config() *config.Config
	configFileName() string
	EnvName(n string) string

	stdin() io.Reader
	stdout() io.Writer
	stderr() io.Writer
}

// App contains per-invocation flags and state of the command-line application.
type App struct {
	configFile string
	tmpDir     string
	logLevel   string
	logFile    string
	noColor    bool

	logFileHandle *os.File

	obs observabilityFlags

	cfg     *config.Config
	metrics *metrics.Registry

	spool     commandSpool
	cat       commandCat
	sweep     commandSweep
	info      commandInfo
	offload   commandOffload
	fetch     commandFetch
	configCmd commandConfig

	envNamePrefix string
	colored       bool

	stdinReader  io.Reader
	stdoutWriter io.Writer
	stderrWriter io.Writer

	// rootctx is the context for all commands, may be nil.
	rootctx context.Context //nolint:containedctx
}

// NewApp creates a new instance of App.
func NewApp() *App {
	return &App{
		stdinReader:  os.Stdin,
		stdoutWriter: colorable.NewColorableStdout(),
		stderrWriter: colorable.NewColorableStderr(),
		colored:      isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()),
		metrics:      metrics.NewRegistry(),
	}
}

// SetStdio replaces the standard streams, used by tests.
func (c *App) SetStdio(stdin io.Reader, stdout, stderr io.Writer) {
	c.stdinReader = stdin
	c.stdoutWriter = stdout
	c.stderrWriter = stderr
	c.colored = false
}

// SetEnvNamePrefix sets the prefix of environment variables consulted by flags, used by tests.
func (c *App) SetEnvNamePrefix(p string) {
	c.envNamePrefix = p
}

// EnvName returns the name of the environment variable overriding a flag.
func (c *App) EnvName(n string) string {
	return c.envNamePrefix + n
}

// Metrics returns the metrics registry of the application.
func (c *App) Metrics() *metrics.Registry {
	return c.metrics
}

func (c *App) stdin() io.Reader  { return c.stdinReader }
func (c *App) stdout() io.Writer { return c.stdoutWriter }
func (c *App) stderr() io.Writer { return c.stderrWriter }

func (c *App) config() *config.Config {
	return c.cfg
}

func (c *App) configFileName() string {
	return c.configFile
}

// Attach attaches the CLI parser to the application.
func (c *App) Attach(app *kingpin.Application) {
	app.Flag("config-file", "Specify the config file to use").
		Default(config.DefaultConfigFile()).Envar(c.EnvName("MIMESPOOL_CONFIG_PATH")).StringVar(&c.configFile)
	app.Flag("tmpdir", "Spool directory, overrides the config file").
		Envar(c.EnvName(config.TempDirEnvVar)).StringVar(&c.tmpDir)
	app.Flag("log-level", "Console log level").
		Default("info").EnumVar(&c.logLevel, "debug", "info", "warn", "error")
	app.Flag("log-file", "Append debug logs in JSON format to the given file").Envar(c.EnvName("MIMESPOOL_LOG_FILE")).StringVar(&c.logFile)
	app.Flag("no-color", "Disable colored output").BoolVar(&c.noColor)

	c.obs.setup(c, app)

	c.spool.setup(c, app)
	c.cat.setup(c, app)
	c.sweep.setup(c, app)
	c.info.setup(c, app)
	c.offload.setup(c, app)
	c.fetch.setup(c, app)
	c.configCmd.setup(c, app)
}

func (c *App) rootContext() context.Context {
	if c.rootctx != nil {
		return c.rootctx
	}

	return context.Background()
}

// SetRootContext sets the context used by all commands.
func (c *App) SetRootContext(ctx context.Context) {
	c.rootctx = ctx
}

func (c *App) loggingContext(ctx context.Context) (context.Context, error) {
	level, err := zapcore.ParseLevel(c.logLevel)
	if err != nil {
		return nil, errors.Wrap(err, "invalid log level")
	}

	color.NoColor = c.noColor || !c.colored

	if color.NoColor {
		ctx = logging.WithLogger(ctx, logging.Console(c.stderrWriter, level))
	} else {
		ctx = logging.WithLogger(ctx, logging.ColorConsole(c.stderrWriter, level))
	}

	if c.logFile != "" {
		f, err := os.OpenFile(c.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, logFileMode) //nolint:gosec
		if err != nil {
			return nil, errors.Wrap(err, "unable to open log file")
		}

		c.logFileHandle = f
		ctx = logging.WithAdditionalLogger(ctx, logging.JSON(f, zapcore.DebugLevel))
	}

	return ctx, nil
}

func (c *App) closeLogFile() {
	if c.logFileHandle != nil {
		c.logFileHandle.Close() //nolint:errcheck
		c.logFileHandle = nil
	}
}

func (c *App) loadConfig() error {
	cfg, err := config.Load(c.configFile)
	if err != nil {
		return err //nolint:wrapcheck
	}

	if c.tmpDir != "" {
		cfg.Spool.Dir = c.tmpDir
	}

	c.cfg = cfg

	return nil
}

func (c *App) baseAction(act func(ctx context.Context) error) func(ctx *kingpin.ParseContext) error {
	return func(_ *kingpin.ParseContext) error {
		ctx, err := c.loggingContext(c.rootContext())
		if err != nil {
			return err
		}

		defer c.closeLogFile()

		if err := c.loadConfig(); err != nil {
			return err
		}

		if err := c.obs.startMetrics(ctx); err != nil {
			return errors.Wrap(err, "unable to start metrics")
		}

		err = act(ctx)

		c.obs.stopMetrics(ctx)

		return err
	}
}

func (c *App) openSpool(customize func(o *tempstore.Options)) (*tempstore.Storage, error) {
	opts := c.cfg.TempStoreOptions()
	if c.tmpDir != "" {
		opts.Dir = c.tmpDir
	}

	opts.Metrics = c.metrics

	if customize != nil {
		customize(&opts)
	}

	st, err := tempstore.NewStorage(opts)
	if err != nil {
		return nil, errors.Wrap(err, "unable to initialize spool storage")
	}

	return st, nil
}

func (c *App) spoolAction(act func(ctx context.Context, st *tempstore.Storage) error) func(ctx *kingpin.ParseContext) error {
	return c.baseAction(func(ctx context.Context) error {
		st, err := c.openSpool(nil)
		if err != nil {
			return err
		}

		return act(ctx, st)
	})
}
