package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/remiblancher/capolicy/internal/api/router"
	"github.com/remiblancher/capolicy/internal/service"
)

// Server represents the HTTP server(s).
type Server struct {
	cfg     *Config
	svc     *service.Service
	version string
	logger  *slog.Logger
	servers []*listening
}

type listening struct {
	srv *http.Server
	ln  net.Listener
}

// New creates a new Server.
func New(cfg *Config, svc *service.Service, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, svc: svc, version: version, logger: logger}
}

// Listen binds the configured addresses. With a separate OCSP port the
// main listener serves the REST API only.
func (s *Server) Listen() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if s.cfg.UseSeparatePorts() {
		if err := s.listen(s.cfg.Address(), []string{"api"}); err != nil {
			return err
		}
		return s.listen(s.cfg.OCSPAddress(), []string{"ocsp"})
	}
	return s.listen(s.cfg.Address(), []string{"all"})
}

func (s *Server) listen(addr string, services []string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.closeListeners()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}

	handler := router.New(&router.Config{
		Service:  s.svc,
		Version:  s.version,
		Logger:   s.logger,
		Services: services,
	})
	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.servers = append(s.servers, &listening{srv: srv, ln: ln})
	return nil
}

func (s *Server) closeListeners() {
	for _, l := range s.servers {
		_ = l.ln.Close()
	}
	s.servers = nil
}

// Addrs returns the bound addresses, in Listen order.
func (s *Server) Addrs() []net.Addr {
	out := make([]net.Addr, 0, len(s.servers))
	for _, l := range s.servers {
		out = append(out, l.ln.Addr())
	}
	return out
}

// Serve runs the servers until ctx is cancelled, then shuts them down
// gracefully. Listen must have been called.
func (s *Server) Serve(ctx context.Context) error {
	if len(s.servers) == 0 {
		return fmt.Errorf("server is not listening")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range s.servers {
		l := l
		s.logger.Info("listening", "addr", l.ln.Addr().String(), "tls", s.cfg.TLSCert != "")
		g.Go(func() error {
			var err error
			if s.cfg.TLSCert != "" {
				err = l.srv.ServeTLS(l.ln, s.cfg.TLSCert, s.cfg.TLSKey)
			} else {
				err = l.srv.Serve(l.ln)
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return s.shutdownAll()
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// shutdownAll gracefully shuts down all servers.
func (s *Server) shutdownAll() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	g := new(errgroup.Group)
	for _, l := range s.servers {
		l := l
		g.Go(func() error { return l.srv.Shutdown(ctx) })
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.logger.Info("all servers stopped gracefully")
	return nil
}
