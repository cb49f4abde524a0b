// Package main follows a running skirmish session over NATS or Redis and
// loads the same experiences locally.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/tomz197/skirmish/internal/catalog"
	"github.com/tomz197/skirmish/internal/config"
	"github.com/tomz197/skirmish/internal/draw"
	"github.com/tomz197/skirmish/internal/input"
	"github.com/tomz197/skirmish/internal/logging"
	"github.com/tomz197/skirmish/internal/replication"
	"github.com/tomz197/skirmish/internal/replication/natsbus"
	"github.com/tomz197/skirmish/internal/replication/redisbus"
	"github.com/tomz197/skirmish/internal/watch"
	"golang.org/x/sync/errgroup"
)

const frameInterval = 100 * time.Millisecond

var (
	configPath string
	sessionID  string
	natsURL    string
	redisAddr  string
	logFile    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a skirmish session",
	Long: `watch mirrors the replicated state of a running session and loads the
same experiences from the local catalog, showing both side by side.

Examples:
  watch --session 3f2a... --nats nats://localhost:4222
  watch --session 3f2a... --redis localhost:6379 --config sessiond.yaml`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "path to the sessiond YAML config")
	rootCmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id to follow")
	rootCmd.Flags().StringVar(&natsURL, "nats", "", "NATS URL (overrides the config)")
	rootCmd.Flags().StringVar(&redisAddr, "redis", "", "Redis address (overrides the config)")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "write logs to this file instead of discarding them")
	_ = rootCmd.MarkFlagRequired("session")
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if natsURL != "" {
		cfg.NATS.URL = natsURL
	}
	if redisAddr != "" {
		cfg.Redis.Addr = redisAddr
	}
	if cfg.NATS.URL == "" && cfg.Redis.Addr == "" {
		return errors.New("nothing to follow: set --nats or --redis")
	}

	// The terminal is ours, so logs go to a file or nowhere
	var logOut io.Writer = io.Discard
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer func() { _ = f.Close() }()
		logOut = f
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: logOut})
	if err != nil {
		return err
	}
	logger = logger.With("session", sessionID)

	c := catalog.Default()
	if cfg.Catalog.Path != "" {
		if c, err = catalog.LoadFile(cfg.Catalog.Path); err != nil {
			return err
		}
	}
	store := catalog.NewStore(c, cfg.Catalog.Path, logging.WithComponent(logger, "catalog"))

	follower, err := watch.New(watch.Deps{Store: store, Logger: logger})
	if err != nil {
		return err
	}
	defer follower.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, follow, closeSource, err := openSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	fd := int(os.Stdin.Fd())
	restore, err := draw.RawMode(fd)
	if err != nil {
		return err
	}
	defer restore()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		follower.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return follow(gctx, follower.Mirror())
	})
	if cfg.Catalog.Watch {
		g.Go(func() error { return store.Watch(gctx) })
	}
	g.Go(func() error {
		defer stop()
		return display(gctx, source, follower)
	})
	return g.Wait()
}

type followFunc func(ctx context.Context, mirror *replication.Mirror) error

func openSource(ctx context.Context, cfg *config.Config, l *log.Logger) (string, followFunc, func(), error) {
	if cfg.NATS.URL != "" {
		nc, err := natsbus.Connect(cfg.NATS.URL, "watch-"+sessionID)
		if err != nil {
			return "", nil, nil, err
		}
		subject := natsbus.Subject(cfg.NATS.SubjectPrefix, sessionID)
		bus := natsbus.New(nc, subject, logging.WithComponent(l, "nats"))
		return "nats " + subject, bus.Follow, func() { nc.Close() }, nil
	}

	client, err := redisbus.NewClient(ctx, redisbus.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return "", nil, nil, err
	}
	bus := redisbus.New(client, cfg.Redis.KeyPrefix, sessionID, logging.WithComponent(l, "redis"))
	return "redis " + redisbus.Channel(cfg.Redis.KeyPrefix, sessionID), bus.Follow, func() { _ = client.Close() }, nil
}

// display redraws the status until q is pressed or ctx is done.
func display(ctx context.Context, source string, f *watch.Follower) error {
	out := os.Stdout
	r := lipgloss.NewRenderer(out)
	fw := draw.NewFrameWriter(out)
	stream := input.StartStream(bufio.NewReader(os.Stdin))

	draw.HideCursor(out)
	draw.ClearScreen(out)
	defer func() {
		draw.ClearScreen(out)
		draw.ShowCursor(out)
	}()

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		in := input.ReadInput(stream)
		if in.Quit || in.Escape || stream.Closed() {
			return nil
		}

		fw.Frame(watch.Render(r, source, f.Status()))
		if err := fw.Flush(); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
