package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/weave/pkg/artifacts"
	"github.com/Mindburn-Labs/weave/pkg/config"
	"github.com/Mindburn-Labs/weave/pkg/executor"
	"github.com/Mindburn-Labs/weave/pkg/fetchcache"
	"github.com/Mindburn-Labs/weave/pkg/kv"
	"github.com/Mindburn-Labs/weave/pkg/loader"
	"github.com/Mindburn-Labs/weave/pkg/lock"
	"github.com/Mindburn-Labs/weave/pkg/metering"
	"github.com/Mindburn-Labs/weave/pkg/observability"
	"github.com/Mindburn-Labs/weave/pkg/store"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	Fixtures  string
	Profile   string
	LogFormat string
	stdout    io.Writer
	stderr    io.Writer
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}

	cmd := &cobra.Command{
		Use:           "weave",
		Short:         "Deterministic smart contract evaluator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.PersistentFlags().StringVar(&opts.Fixtures, "fixtures", "", "fixture file or directory holding contracts and interactions")
	cmd.PersistentFlags().StringVar(&opts.Profile, "profile", "", "engine profile YAML file")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (text|json), overrides LOG_FORMAT")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newSimulateCommand(opts))
	cmd.AddCommand(newVerifyCommand(opts))
	cmd.AddCommand(newVersionCommand(opts))
	return cmd
}

// engine is an executor plus everything it holds open.
type engine struct {
	exec    *executor.Executor
	meter   metering.Meter
	logger  *slog.Logger
	closers []func(context.Context) error
}

func (e *engine) Close(ctx context.Context) {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](ctx); err != nil {
			e.logger.Warn("shutdown", "error", err)
		}
	}
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	var profile *config.Profile
	if o.Profile != "" {
		p, err := config.LoadProfile(o.Profile)
		if err != nil {
			return nil, err
		}
		profile = p
	}
	cfg, err := config.LoadWithProfile(profile)
	if err != nil {
		return nil, err
	}
	if o.LogFormat != "" {
		cfg.LogFormat = o.LogFormat
	}
	return cfg, nil
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// openEngine wires the executor from cfg. Every backend that is not
// configured falls back to an in-process one.
func (o *rootOptions) openEngine(ctx context.Context, cfg *config.Config) (_ *engine, err error) {
	logger := newLogger(o.stderr, cfg)
	slog.SetDefault(logger)
	eng := &engine{logger: logger}
	defer func() {
		if err != nil {
			eng.Close(context.Background())
		}
	}()

	if o.Fixtures == "" {
		return nil, errors.New("--fixtures is required")
	}
	fixtures, err := loader.NewFixtures()
	if err != nil {
		return nil, err
	}
	if info, statErr := os.Stat(o.Fixtures); statErr == nil && info.IsDir() {
		err = fixtures.LoadDir(o.Fixtures)
	} else {
		err = fixtures.LoadFile(o.Fixtures)
	}
	if err != nil {
		return nil, err
	}

	results, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	eng.closers = append(eng.closers, func(context.Context) error { return results.Close() })

	var meter metering.Meter = metering.NewMemoryMeter()
	if results.Dialect() == store.Postgres {
		pm := metering.NewPostgresMeter(results.DB())
		if err := pm.Init(ctx); err != nil {
			return nil, fmt.Errorf("init usage meter: %w", err)
		}
		meter = pm
	}
	eng.meter = meter

	blobs, err := artifacts.New(ctx, cfg.Artifacts)
	if err != nil {
		return nil, err
	}

	kvs, err := kv.OpenLevelDBSnapshots(cfg.KVDir)
	if err != nil {
		return nil, err
	}
	eng.closers = append(eng.closers, func(context.Context) error { return kvs.Close() })

	var locker lock.Locker
	if cfg.RedisAddr != "" {
		rl := lock.NewRedis(lock.RedisConfig{Addr: cfg.RedisAddr})
		if err := rl.Ping(ctx); err != nil {
			_ = rl.Close()
			return nil, fmt.Errorf("redis lock: %w", err)
		}
		eng.closers = append(eng.closers, func(context.Context) error { return rl.Close() })
		locker = rl
	}

	telemetry := observability.Disabled()
	if cfg.OTelEndpoint != "" {
		ocfg := observability.DefaultConfig()
		ocfg.OTLPEndpoint = cfg.OTelEndpoint
		ocfg.ServiceVersion = version
		ocfg.Enabled = true
		ocfg.Insecure = true
		telemetry, err = observability.New(ctx, ocfg)
		if err != nil {
			return nil, err
		}
		eng.closers = append(eng.closers, telemetry.Shutdown)
	}

	fetcher := fetchcache.NewGuardedFetcher(
		fetchcache.NewHTTPFetcher(&http.Client{Timeout: 30 * time.Second}, cfg.Fetch.RPS, cfg.Fetch.Burst),
		cfg.Fetch,
	)

	eng.exec, err = executor.New(executor.Options{
		Loader:      fixtures,
		Settings:    cfg.Settings,
		Limits:      cfg.Limits,
		MaxFCPDepth: cfg.FCPMaxDepth,
		Fetcher:     fetcher,
		Locker:      locker,
		Results:     results,
		Snapshots:   artifacts.NewSnapshots(blobs),
		KV:          kvs,
		Meter:       meter,
		Telemetry:   telemetry,
		Logger:      logger.With("component", "executor"),
	})
	if err != nil {
		return nil, err
	}
	return eng, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
