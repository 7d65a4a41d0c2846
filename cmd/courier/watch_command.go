package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"courier/internal/backend"
	"courier/internal/httpapi"
	"courier/internal/journal"
	"courier/internal/logging"
	"courier/internal/notifications"
	"courier/internal/observability"
	"courier/internal/render"
	"courier/internal/session"
)

type watchOptions struct {
	noAPI bool
	plain bool
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the backend and keep a live table of its tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, ctx, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.noAPI, "no-api", false, "Do not serve the HTTP API")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Append each repaint instead of redrawing the screen")
	return cmd
}

func runWatch(cmd *cobra.Command, ctx *commandContext, opts watchOptions) error {
	signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := ctx.commandLogger()
	logging.PruneLogs(logger, cfg.LogDir(), logging.LogPattern, cfg.LogRetention(), time.Now(), cfg.LogPath())

	var (
		jrnl    *journal.Journal
		dropped func() int64
	)
	if cfg.Journal.Enabled {
		jrnl, err = journal.OpenFromConfig(cfg, logger)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer jrnl.Close()
		dropped = jrnl.Dropped
		pruneJournal(signalCtx, jrnl, cfg.JournalRetention(), logger)
	}
	metrics := observability.New(dropped)

	out := cmd.OutOrStdout()
	colorize := render.ShouldColorize(out)
	screen := newPainter(out, colorize && !opts.plain)
	view := render.NewView(render.Options{Colorize: colorize, Changed: screen.Invalidate})
	screen.view = view

	relay := notifications.NewRelay(notifications.NewService(cfg), cfg, logger)
	defer relay.Wait()

	sessOpts := session.Options{
		Config:   cfg,
		Logger:   logger,
		Backend:  backend.NewClientFromConfig(cfg, logger),
		Renderer: view,
		Banner:   notifications.Banners{view, relay},
		Alerts:   relay,
		Metrics:  metrics,
		LockPath: cfg.LockPath(),
	}
	if jrnl != nil {
		sessOpts.Journal = jrnl
	}
	sess, err := session.New(sessOpts)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(signalCtx) }()
	if _, err := sess.Tasks(signalCtx); err != nil {
		if errors.Is(err, session.ErrStopped) {
			return <-runErr
		}
		return err
	}

	if !opts.noAPI {
		apiOpts := httpapi.Options{
			Bind:    cfg.Paths.APIBind,
			Logger:  logger,
			Metrics: metrics,
			Token:   cfg.Paths.APIToken,
		}
		if jrnl != nil {
			apiOpts.History = jrnl
		}
		if err := httpapi.New(sess, apiOpts).Start(signalCtx); err != nil {
			cancel()
			<-sess.Done()
			return err
		}
	}

	stream := backend.NewStream(backend.StreamOptionsFromConfig(cfg, backend.StreamOptions{
		Sink:      sess.Deliver,
		Logger:    logger,
		OnConnect: sess.OnConnect,
		State:     sess.Connected,
	}))
	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		_ = stream.Run(signalCtx)
	}()

	paintDone := make(chan struct{})
	go func() {
		defer close(paintDone)
		screen.Run(signalCtx)
	}()
	screen.Invalidate()

	err = <-runErr
	cancel()
	<-streamDone
	<-paintDone
	return err
}

// pruneJournal drops transitions older than retention.
func pruneJournal(ctx context.Context, j *journal.Journal, retention time.Duration, logger *slog.Logger) {
	if retention <= 0 {
		return
	}
	removed, err := j.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		logger.Warn("journal prune failed", logging.Error(err))
		return
	}
	if removed > 0 {
		logger.Info("journal pruned", logging.Duration("retention", retention), logging.Int("removed", int(removed)))
	}
}
