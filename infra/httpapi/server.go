package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/kilianp07/arrivalcast/infra/logger"
)

// Server runs the admin router until its context ends.
type Server struct {
	srv *http.Server
	log logger.Logger
}

// NewServer binds h to addr.
func NewServer(addr string, h http.Handler, log logger.Logger) *Server {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Server{
		srv: &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second},
		log: log,
	}
}

// Run serves requests and shuts down gracefully when ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("admin api listening on %s", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
