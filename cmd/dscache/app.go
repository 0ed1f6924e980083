package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-datastore-cache/cache"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Version is set at build time.
var Version = "dev"

// App is the dscache command line.
type App struct {
	root   *cobra.Command
	stdout io.Writer
	stderr io.Writer

	configPath string
	redisAddr  string
	verbose    bool
}

// NewApp builds the command tree.
func NewApp() *App {
	app := &App{stdout: os.Stdout, stderr: os.Stderr}

	app.root = &cobra.Command{
		Use:   "dscache",
		Short: "Cache-aside layer for datastore reads",
		Long: `dscache runs the datastore cache against an in-memory datastore.

Entities are cached by key and queries by their serialized form. With a
redis store mounted every cached query is indexed under the entity kinds it
reads, and a write to a kind clears them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := app.root.PersistentFlags()
	flags.StringVarP(&app.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&app.redisAddr, "redis-addr", "", "mount a redis store at this address")
	flags.BoolVarP(&app.verbose, "verbose", "v", false, "log cache activity")

	app.root.AddCommand(
		app.newVersionCmd(),
		app.newConfigCmd(),
		app.newDemoCmd(),
	)
	return app
}

// WithOutput sets the output writers.
func (a *App) WithOutput(stdout, stderr io.Writer) *App {
	a.stdout = stdout
	a.stderr = stderr
	a.root.SetOut(stdout)
	a.root.SetErr(stderr)
	return a
}

// Execute runs the command line until it finishes or is interrupted.
func (a *App) Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return a.root.ExecuteContext(ctx)
}

// ExecuteWithArgs runs the command line with args.
func (a *App) ExecuteWithArgs(ctx context.Context, args []string) error {
	a.root.SetArgs(args)
	return a.Execute(ctx)
}

func (a *App) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "dscache version %s\n", Version)
		},
	}
}

func (a *App) newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			overlay, err := a.loadConfig()
			if err != nil {
				return err
			}
			cfg, err := cache.Resolve(overlay)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(a.stdout)
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return errors.Wrap(err, "encode config")
			}
			return enc.Close()
		},
	}
}

func (a *App) loadConfig() (*cache.Config, error) {
	if a.configPath == "" {
		return nil, nil
	}
	f, err := os.Open(a.configPath)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()
	return cache.LoadConfig(f)
}

func (a *App) logger() (*zap.Logger, error) {
	if !a.verbose {
		return zap.NewNop(), nil
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// stores mounts a memory store, followed by redis when an address is set.
func (a *App) stores(ctx context.Context) ([]cache.Store, func(), error) {
	memory, err := cache.NewMemoryStore(cache.DefaultMemoryConfig())
	if err != nil {
		return nil, nil, err
	}
	if a.redisAddr == "" {
		return []cache.Store{memory}, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: a.redisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, errors.Wrapf(err, "connect redis %s", a.redisAddr)
	}
	return []cache.Store{memory, cache.NewRedisStore(client)}, func() { client.Close() }, nil
}
