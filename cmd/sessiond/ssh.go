package main

import (
	"bufio"
	"fmt"
	"net"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/activeterm"
	bm "github.com/charmbracelet/wish/bubbletea"
	"github.com/charmbracelet/wish/logging"
	"github.com/tomz197/skirmish/internal/client"
	"github.com/tomz197/skirmish/internal/config"
	"github.com/tomz197/skirmish/internal/draw"
	"github.com/tomz197/skirmish/internal/session"
	"golang.org/x/time/rate"
)

// templates are offered to members on the digit keys.
var templates = []string{"PD_Hero", "PD_Sniper", "PD_Tank"}

func newSSHServer(cfg config.SSHConfig, sess *session.Session, l *log.Logger) (*ssh.Server, error) {
	limiter := rate.NewLimiter(rate.Limit(cfg.JoinRate), cfg.JoinBurst)

	opts := []ssh.Option{
		wish.WithAddress(net.JoinHostPort(cfg.Host, cfg.Port)),
		wish.WithMiddleware(
			memberMiddleware(sess, l),
			admissionMiddleware(limiter, l),
			activeterm.Middleware(),
			logging.MiddlewareWithLogger(l),
		),
		// Set TCP_NODELAY to reduce latency for member input
		ssh.WrapConn(func(ctx ssh.Context, conn net.Conn) net.Conn {
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				_ = tcpConn.SetNoDelay(true)
			}
			return conn
		}),
	}
	if cfg.HostKeyPath != "" {
		opts = append(opts, wish.WithHostKeyPath(cfg.HostKeyPath))
	}

	s, err := wish.NewServer(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ssh server: %w", err)
	}
	return s, nil
}

// admissionMiddleware turns connections away when members join faster than
// the configured rate.
func admissionMiddleware(limiter *rate.Limiter, l *log.Logger) wish.Middleware {
	return func(next ssh.Handler) ssh.Handler {
		return func(sess ssh.Session) {
			if !limiter.Allow() {
				l.Warn("Join rate exceeded", "user", sess.User(), "remote", sess.RemoteAddr())
				wish.Fatalln(sess, "Too many players joining at once, try again in a moment.")
				return
			}
			next(sess)
		}
	}
}

// memberMiddleware joins the SSH user to the session and runs its client.
func memberMiddleware(host *session.Session, l *log.Logger) wish.Middleware {
	return func(next ssh.Handler) ssh.Handler {
		return func(sess ssh.Session) {
			pty, winCh, ok := sess.Pty()
			if !ok {
				fmt.Fprintln(sess, "Error: PTY required. Please connect with: ssh -t user@host")
				return
			}

			l.Info("New member connection", "user", sess.User(), "term", pty.Term,
				"width", pty.Window.Width, "height", pty.Window.Height)

			tracker := newSizeTracker(pty.Window.Width, pty.Window.Height)
			go func() {
				for win := range winCh {
					tracker.update(win.Width, win.Height)
				}
			}()

			c, err := client.New(host, bufio.NewReader(sess), sess, client.Options{
				TermSizeFunc: tracker.getSize,
				Username:     sess.User(),
				Renderer:     bm.MakeRenderer(sess),
				Templates:    templates,
				Logger:       l.With("user", sess.User()),
			})
			if err != nil {
				wish.Fatalln(sess, "Could not join:", err)
				return
			}
			if err := c.Run(sess.Context()); err != nil {
				l.Warn("Client error", "user", sess.User(), "err", err)
			}

			l.Info("Member connection ended", "user", sess.User(), "member", c.MemberID())
			next(sess)
		}
	}
}

// sizeTracker tracks terminal size from SSH window change events.
type sizeTracker struct {
	mu     sync.RWMutex
	width  int
	height int
}

func newSizeTracker(width, height int) *sizeTracker {
	return &sizeTracker{width: width, height: height}
}

func (s *sizeTracker) update(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width = width
	s.height = height
}

func (s *sizeTracker) getSize() (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width, s.height, nil
}

var _ draw.TermSizeFunc = (*sizeTracker)(nil).getSize
