package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"matchreview/internal/buckets"
	"matchreview/internal/gateway"
	"matchreview/internal/logging"
	"matchreview/internal/session"
)

// ErrAlreadyRunning is returned by Start when another server holds the lock.
var ErrAlreadyRunning = errors.New("another matchreview control server is already running")

// Workspace is the slice of the session the server drives.
type Workspace interface {
	Open(ctx context.Context, req gateway.OpenProjectRequest) error
	Select(ctx context.Context, segID int64, bucket buckets.Bucket) error
	Snapshot() session.State
}

// Server owns the listener and the instance lock.
type Server struct {
	workspace Workspace
	logger    *slog.Logger
	lockPath  string
	lock      *flock.Flock

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
	wg         sync.WaitGroup
}

// NewServer configures a server for workspace guarded by the lock at lockPath.
func NewServer(workspace Workspace, lockPath string, logger *slog.Logger) (*Server, error) {
	if workspace == nil {
		return nil, errors.New("control server requires a session")
	}
	if lockPath == "" {
		return nil, errors.New("control server requires a lock path")
	}
	return &Server{
		workspace: workspace,
		logger:    logging.NewComponentLogger(logger, "control"),
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock and begins serving on bind.
func (s *Server) Start(ctx context.Context, bind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("control server already started")
	}

	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	listener, err := net.Listen("tcp", bind)
	if err != nil {
		_ = s.lock.Unlock()
		return fmt.Errorf("listen on %s: %w", bind, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("control server listening",
		logging.String("addr", listener.Addr().String()),
		logging.String("lock", s.lockPath),
		logging.String(logging.FieldEventType, "control_started"))

	s.wg.Add(1)
	go func(srv *http.Server, l net.Listener) {
		defer s.wg.Done()
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "control server stopped", "control_serve_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the bind address in [control]"),
				logging.String(logging.FieldImpact, "deep links will not reach this session"))
		}
	}(s.httpServer, listener)
	return nil
}

// Addr is the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the listener down and releases the lock.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	s.wg.Wait()
	if unlockErr := s.lock.Unlock(); unlockErr != nil {
		logging.WarnWithContext(s.logger, "failed to release control lock", "control_unlock_failed",
			logging.String("lock", s.lockPath),
			logging.Error(unlockErr),
			logging.String(logging.FieldErrorHint, "remove the lock file manually"),
			logging.String(logging.FieldImpact, "the next serve may report another instance"))
	}
	s.logger.Info("control server stopped", logging.String(logging.FieldEventType, "control_stopped"))
	return err
}
