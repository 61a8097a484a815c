package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/emanuelegissi/flowbuttons/config"
	"github.com/emanuelegissi/flowbuttons/events"
	"github.com/emanuelegissi/flowbuttons/storage"
	"github.com/emanuelegissi/flowbuttons/tracing"
	"github.com/emanuelegissi/flowbuttons/widget"
	"github.com/emanuelegissi/flowbuttons/workflow"
)

// Version is reported in traces.
var Version = "dev"

// session is everything a command needs: config, store, engine and widget.
type session struct {
	cfg    config.Config
	store  storage.Seeder
	engine *workflow.Engine
	widget *widget.Widget
	host   *promptHost
	logger *slog.Logger
	bus    *events.EventBus
	close  func() error
}

// openSession loads config, opens the store, applies --seed and wires the engine.
func openSession(cmd *cobra.Command, opts *RootOptions, autoConfirm bool) (*session, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	level, _ := cfg.Log.SlogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	if err := tracing.Init("flowbuttons", Version, cfg.Trace.Output); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to init tracing", err)
	}

	store, closeStore, err := cfg.Storage.OpenStore()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.SeedPath != "" {
		if err := seedFile(ctx, store, opts.SeedPath); err != nil {
			closeStore()
			return nil, WrapExitError(ExitCommandError, "failed to seed store", err)
		}
	}

	bus := events.NewEventBus(events.WithLogger(logger))
	bus.SubscribeAll(events.AllTypes, logEvents(logger))

	host := &promptHost{
		in:          bufio.NewReader(cmd.InOrStdin()),
		out:         cmd.ErrOrStderr(),
		autoConfirm: autoConfirm,
		logger:      logger,
	}
	engine, err := workflow.New(store, cfg.Engine(),
		workflow.WithHost(host),
		workflow.WithEventBus(bus),
		workflow.WithLogger(logger),
	)
	if err != nil {
		bus.Stop()
		closeStore()
		return nil, WrapExitError(ExitCommandError, "failed to create engine", err)
	}

	return &session{
		cfg:    cfg,
		store:  store,
		engine: engine,
		widget: widget.New(engine),
		host:   host,
		logger: logger,
		bus:    bus,
		close: func() error {
			bus.Stop()
			if err := tracing.Shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("trace shutdown failed", "err", err)
			}
			return closeStore()
		},
	}, nil
}

func seedFile(ctx context.Context, store storage.Seeder, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return storage.Seed(ctx, store, f)
}

// logEvents logs every engine event at debug level.
func logEvents(logger *slog.Logger) events.EventHandler {
	return events.EventHandlerFunc(func(_ context.Context, ev events.Event) error {
		attrs := []any{"event", ev.Type, "seq", ev.Seq, "table", ev.TableID, "row", ev.RowID}
		for k, v := range ev.Data {
			attrs = append(attrs, k, v)
		}
		logger.Debug("event", attrs...)
		return nil
	})
}

// promptHost asks y/N questions on the terminal.
type promptHost struct {
	in          *bufio.Reader
	out         io.Writer
	autoConfirm bool
	logger      *slog.Logger

	mu     sync.Mutex
	cursor int64
}

func (h *promptHost) SetCursor(_ context.Context, rowID int64) error {
	h.mu.Lock()
	h.cursor = rowID
	h.mu.Unlock()
	h.logger.Info("cursor moved", "row", rowID)
	return nil
}

// Cursor returns the last row the engine moved to, or 0.
func (h *promptHost) Cursor() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor
}

func (h *promptHost) Confirm(ctx context.Context, text string) (bool, error) {
	if h.autoConfirm {
		h.logger.Debug("confirmed", "prompt", text)
		return true, nil
	}
	fmt.Fprintf(h.out, "%s [y/N] ", text)

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := h.in.ReadString('\n')
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && a.err != io.EOF {
			return false, a.err
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}
