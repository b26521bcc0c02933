package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/roach88/todosync/internal/config"
	"github.com/roach88/todosync/internal/engine"
	"github.com/roach88/todosync/internal/filestore"
	"github.com/roach88/todosync/internal/kvstore"
	"github.com/roach88/todosync/internal/persist"
	"github.com/roach88/todosync/internal/redisstore"
	"github.com/roach88/todosync/internal/store"
)

// shutdownTimeout bounds the final drain of pending writes.
const shutdownTimeout = 10 * time.Second

// backendOpener builds the durable backend selected by cfg. The closer
// releases it after the engine has shut down.
type backendOpener func(ctx context.Context, cfg config.Config, logger *slog.Logger) (persist.Backend, io.Closer, error)

// openBackend is the production backendOpener.
func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (persist.Backend, io.Closer, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		st, err := store.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil

	case config.BackendBadger:
		kvCfg := kvstore.DefaultConfig(cfg.Path)
		kvCfg.Logger = logger
		kv, err := kvstore.Open(kvCfg)
		if err != nil {
			return nil, nil, err
		}
		return kv, kv, nil

	case config.BackendFile:
		fs, err := filestore.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return fs, fs, nil

	case config.BackendRedis:
		client, err := redisstore.NewClient(&redis.Options{Addr: cfg.Redis.Addr}, cfg.Redis.Instance)
		if err != nil {
			return nil, nil, err
		}
		if err := client.Ping(ctx); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis %s unreachable: %w", cfg.Redis.Addr, err)
		}
		return client, client, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// app is one command's running engine.
type app struct {
	cfg      config.Config
	engine   *engine.Engine
	closer   io.Closer
	logger   *slog.Logger
	out      *OutputFormatter
	failures atomic.Int64
}

// openApp loads configuration, opens the backend and starts the engine.
func openApp(cmd *cobra.Command, opts *RootOptions, out *OutputFormatter) (*app, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	opener := opts.openBackend
	if opener == nil {
		opener = openBackend
	}

	ctx := commandContext(cmd)
	logger.Debug("opening backend", "backend", cfg.Backend, "path", cfg.Path)
	backend, closer, err := opener(ctx, cfg, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open backend", err)
	}

	a := &app{cfg: cfg, closer: closer, logger: logger, out: out}
	coord := persist.New(backend,
		persist.WithWorkers(cfg.Workers),
		persist.WithRetryPolicy(cfg.RetryPolicy()),
		persist.WithLogger(logger),
		persist.WithFailureSink(a.recordFailure),
	)
	a.engine = engine.New(coord, engine.WithLogger(logger))

	if err := a.engine.Start(ctx); err != nil {
		if cerr := closer.Close(); cerr != nil {
			logger.Error("error closing backend", "error", cerr)
		}
		return nil, WrapExitError(ExitCommandError, "failed to start engine", err)
	}
	return a, nil
}

func (a *app) recordFailure(f *persist.PersistenceFailure) {
	a.failures.Add(1)
	a.logger.Error("write failed", "op", f.Op, "ids", f.IDs, "attempts", f.Attempts, "error", f.Err)
}

// close drains pending writes, stops the engine and releases the backend.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := a.engine.Shutdown(ctx)
	if cerr := a.closer.Close(); cerr != nil {
		a.logger.Error("error closing backend", "error", cerr)
		if err == nil {
			err = cerr
		}
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to persist changes", err)
	}
	if n := a.failures.Load(); n > 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("%d writes failed to persist", n))
	}
	return nil
}

// fail reports a command error in the configured format and returns it
// with the matching exit code.
func (a *app) fail(op string, err error) error {
	if a.out.Format == "json" {
		_ = a.out.Error(errorCode(err), err.Error(), nil)
	}
	return WrapExitError(ExitFailure, op+" failed", err)
}

// withApp runs fn against a started engine and always shuts it down.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(a *app) error) (err error) {
	out := newFormatter(cmd, opts)

	a, err := openApp(cmd, opts, out)
	if err != nil {
		if out.Format == "json" {
			code := CodeBackend
			if GetExitCode(err) == ExitCommandError && isConfigError(err) {
				code = CodeConfig
			}
			_ = out.Error(code, err.Error(), nil)
		}
		return err
	}

	defer func() {
		if cerr := a.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

func isConfigError(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr) && exitErr.Message == "invalid configuration"
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
		NoColor:   opts.NoColor,
	}
}

// commandContext returns the command's context, or Background when the
// command runs outside ExecuteContext.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
