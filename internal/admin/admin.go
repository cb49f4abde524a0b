// Package admin serves the HTTP control surface of a session.
package admin

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tomz197/skirmish/internal/logging"
	"github.com/tomz197/skirmish/internal/replication"
	"github.com/tomz197/skirmish/internal/session"
)

// Session is the part of a session the control surface reads and drives.
type Session interface {
	Snapshot() replication.Snapshot
	Status() session.Status
	Members() []session.MemberInfo
	AdvancePhase()
}

// Options configures the router.
type Options struct {
	AdvanceLimit  int // Phase advances per AdvanceWindow and client IP
	AdvanceWindow time.Duration
	SSHHost       string // Host shown in the join command on the landing page
	SSHPort       string
	Logger        *log.Logger
}

//go:embed landing.html
var landingHTML string

var landingPage = template.Must(template.New("landing").Parse(landingHTML))

type landingData struct {
	Command    string
	Experience string
	Phase      string
	Members    int
}

// StateResponse is the body of GET /state.
type StateResponse struct {
	Snapshot replication.Snapshot `json:"snapshot"`
	Status   session.Status       `json:"status"`
}

// MemberResponse is one entry of GET /members.
type MemberResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Ready    bool   `json:"ready"`
	Template string `json:"template,omitempty"`
	Spawned  bool   `json:"spawned"`
	Spot     *int   `json:"spot,omitempty"`
}

// NewRouter builds the admin routes.
func NewRouter(s Session, opts Options) http.Handler {
	if opts.AdvanceLimit <= 0 {
		opts.AdvanceLimit = 10
	}
	if opts.AdvanceWindow <= 0 {
		opts.AdvanceWindow = time.Minute
	}
	l := opts.Logger
	if l == nil {
		l = logging.Discard()
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(l))

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		st := s.Status()
		data := landingData{
			Command:    joinCommand(opts.SSHHost, opts.SSHPort),
			Experience: st.Experience.String(),
			Phase:      st.Phase.String(),
			Members:    st.Members,
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := landingPage.Execute(w, data); err != nil {
			l.Warn("Failed to render landing page", "err", err)
		}
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/state", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, StateResponse{Snapshot: s.Snapshot(), Status: s.Status()})
	})

	r.Get("/members", func(w http.ResponseWriter, _ *http.Request) {
		members := s.Members()
		out := make([]MemberResponse, 0, len(members))
		for _, m := range members {
			resp := MemberResponse{ID: m.ID, Name: m.Name, Ready: m.Ready, Template: m.Template}
			if m.Entity != nil {
				spot := m.Entity.Spot.Index
				resp.Spawned = true
				resp.Spot = &spot
			}
			out = append(out, resp)
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.With(httprate.Limit(
		opts.AdvanceLimit,
		opts.AdvanceWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(opts.AdvanceWindow.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate_limit_exceeded"})
		}),
	)).Post("/phase/advance", func(w http.ResponseWriter, _ *http.Request) {
		if s.Status().Finished {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "session_finished"})
			return
		}
		s.AdvancePhase()
		l.Info("Phase advance requested over HTTP")
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	})

	return r
}

func joinCommand(host, port string) string {
	if host == "" {
		host = "localhost"
	}
	if port == "" || port == "22" {
		return "ssh -t " + host
	}
	return "ssh -t -p " + port + " " + host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(l *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			l.Debug("HTTP request", "method", r.Method, "path", r.URL.Path,
				"status", ww.Status(), "duration", time.Since(start))
		})
	}
}

// Serve runs the admin server on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, h http.Handler, l *log.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("Admin HTTP listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin shutdown: %w", err)
	}
	return nil
}
