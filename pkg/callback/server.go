package callback

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/companion/pkg/capi"
	"github.com/dmitrymomot/companion/pkg/correlation"
	"github.com/dmitrymomot/companion/pkg/logger"
)

const maxCallbackSize = 8 << 10

// Config holds the listener settings.
type Config struct {
	Addr            string        `env:"CALLBACK_ADDR" envDefault:"127.0.0.1:18555"`
	ShutdownTimeout time.Duration `env:"CALLBACK_SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// Handler completes a login from a redirect URL. *capi.Session satisfies it.
type Handler interface {
	URLCallBack(ctx context.Context, rawURL string) capi.Event
}

// Server receives redirect URLs handed over by the protocol handler and
// passes them to a Handler. The URLs are forwarded untouched; validating
// them is the Handler's job.
type Server struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger

	mu   sync.Mutex
	srv  *http.Server
	once sync.Once
}

type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates a listener forwarding to h.
func NewServer(cfg Config, h Handler, opts ...Option) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{
		cfg:     cfg,
		handler: h,
		logger:  logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("callback"))
	return s
}

// Router returns the HTTP routes of the listener.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(correlation.Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/callback", s.handleCallback)
	return r
}

type callbackResult struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	rawURL, err := readRedirect(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ev := s.handler.URLCallBack(r.Context(), rawURL)
	res := callbackResult{State: string(ev.State)}
	status := http.StatusOK
	if ev.Err != nil {
		res.Error = ev.Err.Error()
		status = http.StatusUnprocessableEntity
	}
	s.logger.InfoContext(r.Context(), "callback delivered", logger.State(res.State))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}

// readRedirect takes the URL from a "url" form field or, for other content
// types, from the raw body.
func readRedirect(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCallbackSize)

	var raw string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return "", err
		}
		raw = r.PostForm.Get("url")
	} else {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return "", err
		}
		raw = string(data)
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyURL
	}
	return raw, nil
}

// Run listens on cfg.Addr until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.Join(ErrStart, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.srv != nil {
		s.mu.Unlock()
		_ = ln.Close()
		return errors.Join(ErrStart, errors.New("listener already running"))
	}
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	s.srv = srv
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "callback listener started", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	var runErr error
	select {
	case <-ctx.Done():
		_ = s.Shutdown(context.Background())
		runErr = <-errCh
	case runErr = <-errCh:
	}

	if runErr != nil && !errors.Is(runErr, http.ErrServerClosed) {
		return errors.Join(ErrStart, runErr)
	}
	return nil
}

// Shutdown stops the listener. It is safe for repeated calls.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		srv := s.srv
		s.mu.Unlock()
		if srv == nil {
			return
		}
		ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
		err = srv.Shutdown(ctx)
		s.logger.Info("callback listener stopped")
	})

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Join(ErrShutdown, err)
	}
	return nil
}
