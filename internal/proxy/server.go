package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"dataninja/internal/telemetry"
)

type Server struct {
	cfg    Config
	logger *telemetry.Logger
	srv    *http.Server
}

func NewServer(cfg Config, logger *telemetry.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		srv: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           NewHandler(cfg, nil, logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Serve accepts on ln until ctx is cancelled, then drains in-flight
// requests for up to five seconds.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("proxy.start", map[string]any{
			"addr":            ln.Addr().String(),
			"allowed_origins": s.cfg.AllowedOrigins,
			"exec_url_set":    s.cfg.ExecURL != "",
			"shared_key_set":  s.cfg.SharedKey != "",
			"rate_limit_rps":  s.cfg.RateLimitRPS,
		})
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.srv.Shutdown(shutdownCtx)
		s.logger.Info("proxy.stop", nil)
		return err
	})
	return g.Wait()
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
