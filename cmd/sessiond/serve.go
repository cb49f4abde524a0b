package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tomz197/skirmish/internal/admin"
	"github.com/tomz197/skirmish/internal/catalog"
	"github.com/tomz197/skirmish/internal/config"
	"github.com/tomz197/skirmish/internal/logging"
	"github.com/tomz197/skirmish/internal/phase"
	"github.com/tomz197/skirmish/internal/replication"
	"github.com/tomz197/skirmish/internal/replication/natsbus"
	"github.com/tomz197/skirmish/internal/replication/redisbus"
	"github.com/tomz197/skirmish/internal/session"
	"golang.org/x/sync/errgroup"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session server",
	Long: `Run the session server until interrupted or until the match ends.

Settings come from the optional YAML file (--config or SKIRMISH_CONFIG) and SKIRMISH_ environment
variables, e.g. SKIRMISH_SSH_PORT=2222 or SKIRMISH_NATS_URL=nats://localhost:4222.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "path to a YAML config file")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Session.ID == "" {
		cfg.Session.ID = uuid.NewString()
	}

	store, err := openCatalog(cfg.Catalog, logging.WithComponent(logger, "catalog"))
	if err != nil {
		return err
	}

	transports, closeTransports, redisBus, err := openTransports(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeTransports()

	deps := session.Deps{Store: store, Logger: logger}
	if len(transports.Fanout) > 0 {
		deps.Transport = transports
	}
	sess, err := session.New(sessionConfig(cfg), deps)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := serveSync(cfg, sess, transports, logger); err != nil {
		return err
	}

	if err := sess.Start(cfg.Session.Options); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	sshServer, err := newSSHServer(cfg.SSH, sess, logging.WithComponent(logger, "ssh"))
	if err != nil {
		return err
	}

	loopCtx, cancelLoop := context.WithCancel(context.Background())
	defer cancelLoop()
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		sess.Run(loopCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Catalog.Watch {
		g.Go(func() error { return store.Watch(gctx) })
	}
	if redisBus != nil {
		g.Go(func() error { return redisBus.Run(gctx) })
	}
	if cfg.Admin.Addr != "" {
		router := admin.NewRouter(sess, admin.Options{
			AdvanceLimit: cfg.Admin.AdvanceLimit,
			SSHHost:      cfg.Admin.SSHDisplayHost,
			SSHPort:      cfg.SSH.Port,
			Logger:       logging.WithComponent(logger, "admin"),
		})
		g.Go(func() error {
			return admin.Serve(gctx, cfg.Admin.Addr, router, logging.WithComponent(logger, "admin"))
		})
	}
	g.Go(func() error {
		logger.Info("Starting SSH server", "addr", sshServer.Addr)
		if err := sshServer.ListenAndServe(); err != nil && !errors.Is(err, ssh.ErrServerClosed) {
			return fmt.Errorf("ssh server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			logger.Info("Shutting down server...")
			// Notify members and wait for them to disconnect
			sess.Shutdown(cfg.Session.ShutdownTimeout)
		case <-sess.Done():
			logger.Info("Session finished")
			// Leave the lobby screen up for a moment before closing connections
			sess.Shutdown(cfg.Session.ShutdownTimeout)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sshServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("SSH shutdown error", "err", err)
		}
		stop()
		return nil
	})

	err = g.Wait()
	cancelLoop()
	<-loopDone
	logger.Info("Session stopped", "session", sess.ID())
	return err
}

func sessionConfig(cfg *config.Config) session.Config {
	sc := session.DefaultConfig()
	sc.SessionID = cfg.Session.ID
	sc.MapName = cfg.Session.MapName
	sc.TickRate = cfg.Session.TickRate
	sc.Durations = phase.Durations{
		Warmup: cfg.Session.Warmup,
		Combat: cfg.Session.Combat,
		Result: cfg.Session.Result,
	}
	sc.RetryEvery = cfg.Session.RetryInterval
	sc.MaxRetries = cfg.Session.MaxRetries
	sc.StartSpots = cfg.Session.StartSpots
	return sc
}

func openCatalog(cfg config.CatalogConfig, l *log.Logger) (*catalog.Store, error) {
	c := catalog.Default()
	if cfg.Path != "" {
		loaded, err := catalog.LoadFile(cfg.Path)
		if err != nil {
			return nil, err
		}
		c = loaded
	}
	for _, p := range c.Problems() {
		l.Warn("Catalog problem", "problem", p)
	}
	l.Info("Catalog loaded", "path", cfg.Path, "experiences", len(c.Experiences()))
	return catalog.NewStore(c, cfg.Path, l), nil
}

// transportSet remembers the enabled buses so late-joiner sync can be served
// once the session exists.
type transportSet struct {
	replication.Fanout
	nats *natsbus.Bus
}

func openTransports(ctx context.Context, cfg *config.Config, logger *log.Logger) (*transportSet, func(), *redisbus.Bus, error) {
	set := &transportSet{}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.NATS.URL != "" {
		nc, err := natsbus.Connect(cfg.NATS.URL, "sessiond-"+cfg.Session.ID)
		if err != nil {
			return nil, nil, nil, err
		}
		closers = append(closers, func() { _ = nc.Drain() })
		subject := natsbus.Subject(cfg.NATS.SubjectPrefix, cfg.Session.ID)
		set.nats = natsbus.New(nc, subject, logging.WithComponent(logger, "nats"))
		set.Fanout = append(set.Fanout, set.nats)
		logger.Info("Replicating over NATS", "subject", subject)
	}

	var rb *redisbus.Bus
	if cfg.Redis.Addr != "" {
		client, err := redisbus.NewClient(ctx, redisbus.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		closers = append(closers, func() { _ = client.Close() })
		rb = redisbus.New(client, cfg.Redis.KeyPrefix, cfg.Session.ID, logging.WithComponent(logger, "redis"))
		set.Fanout = append(set.Fanout, rb)
		logger.Info("Replicating over Redis", "key", redisbus.Key(cfg.Redis.KeyPrefix, cfg.Session.ID))
	}

	return set, closeAll, rb, nil
}

// serveSync answers late-joiner sync requests on NATS with the latest snapshot.
func serveSync(cfg *config.Config, sess *session.Session, set *transportSet, logger *log.Logger) error {
	if set.nats == nil {
		return nil
	}
	if _, err := set.nats.ServeSync(sess.Snapshot); err != nil {
		return fmt.Errorf("serve NATS sync: %w", err)
	}
	logger.Debug("Serving NATS sync", "session", cfg.Session.ID)
	return nil
}
