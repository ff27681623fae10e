package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/lumactl/lumactl/internal/device"
	"github.com/lumactl/lumactl/internal/dispatch"
)

type Config struct {
	Path     string
	MaxBytes int
	// ReadTimeout bounds how long a client may take to send its request.
	ReadTimeout time.Duration
}

// Server answers dispatch requests on a unix socket.
type Server struct {
	cfg        Config
	dispatcher *dispatch.Dispatcher
	registry   dispatch.Snapshotter

	mu       sync.Mutex
	listener *net.UnixListener
	closed   bool

	conns  sync.WaitGroup
	served atomic.Int64
}

func NewServer(cfg Config, registry dispatch.Snapshotter) *Server {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	return &Server{
		cfg:        cfg,
		dispatcher: dispatch.New(registry),
		registry:   registry,
	}
}

func (s *Server) Path() string {
	return s.cfg.Path
}

// Served reports how many connections have been answered.
func (s *Server) Served() int64 {
	return s.served.Load()
}

func (s *Server) listen() (*net.UnixListener, error) {
	if err := os.Remove(s.cfg.Path); err != nil && !os.IsNotExist(err) {
		klog.Errorf("failed to remove stale socket file %q: %v", s.cfg.Path, err)
		return nil, fmt.Errorf("failed to remove socket file %s: %w", s.cfg.Path, err)
	}
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: s.cfg.Path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("failed to listen on socket %s: %w", s.cfg.Path, err)
	}
	if err := os.Chmod(s.cfg.Path, 0o600); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to restrict socket %s: %w", s.cfg.Path, err)
	}
	return l, nil
}

// Listen binds the socket, replacing a stale socket file.
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o700); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	l, err := s.listen()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	klog.Infof("Serving brightness requests on socket %q", s.cfg.Path)
	return nil
}

func (s *Server) current() (*net.UnixListener, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener, s.closed
}

// relisten replaces the listener after the socket file was removed from
// under it.
func (s *Server) relisten() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	l, err := s.listen()
	if err != nil {
		klog.Errorf("failed to re-create socket %q: %v", s.cfg.Path, err)
		return
	}
	old := s.listener
	s.listener = l
	if old != nil {
		// the path now belongs to the new listener
		old.SetUnlinkOnClose(false)
		old.Close()
	}
	klog.Infof("Re-created socket %q", s.cfg.Path)
}

// Serve accepts connections until ctx is done or Close is called, then waits
// for in-flight requests to finish.
func (s *Server) Serve(ctx context.Context) error {
	defer s.conns.Wait()
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		l, closed := s.current()
		if closed || l == nil {
			return nil
		}
		conn, err := l.AcceptUnix()
		if err != nil {
			if _, closed := s.current(); closed {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				continue
			}
			klog.Errorf("failed to accept connection: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handle(ctx, conn)
		}()
	}
}

// ServeOnce answers exactly one connection.
func (s *Server) ServeOnce(ctx context.Context) error {
	l, closed := s.current()
	if closed || l == nil {
		return fmt.Errorf("server is not listening")
	}
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	conn, err := l.AcceptUnix()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to accept connection: %w", err)
	}
	s.handle(ctx, conn)
	return nil
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	id := uuid.NewString()
	state := Accepted
	enter := func(next State) {
		klog.V(2).Infof("ipc[%s]: %s -> %s", id, state, next)
		state = next
	}
	klog.V(2).Infof("ipc[%s]: %s", id, state)

	// device operations outlive the client and the shutdown signal
	ctx = context.WithoutCancel(ctx)

	enter(ParsingRequest)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	req, err := ReadRequest(conn, s.cfg.MaxBytes)
	if err == nil {
		err = req.Validate()
	}
	snap := s.registry.Snapshot()
	var resp dispatch.Response
	if err != nil {
		klog.Errorf("ipc[%s]: rejecting request: %v", id, err)
		resp = dispatch.Reject(snap.Generation, err)
	} else {
		klog.V(2).Infof("ipc[%s]: %s", id, req)
		enter(Resolving)
		targets := dispatch.Resolve(snap, req)
		enter(Executing)
		resp = s.dispatcher.Execute(ctx, req, snap, targets)
	}

	if err := WriteResponse(conn, resp); err != nil {
		klog.Errorf("ipc[%s]: failed to write response: %v", id, err)
	}
	enter(RespondingDone)
	s.served.Add(1)
}

// Close stops accepting and removes the socket file. In-flight requests
// are left to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.listener == nil {
		return nil
	}
	klog.Infof("Closing socket %q", s.cfg.Path)
	return s.listener.Close()
}

// Watch re-creates the socket whenever its file is removed, until ctx is
// done.
func (s *Server) Watch(ctx context.Context, wg *sync.WaitGroup) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		klog.Errorf("failed to create fsnotify watcher: %v", err)
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.cfg.Path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(s.cfg.Path), err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) == filepath.Clean(s.cfg.Path) && event.Has(fsnotify.Remove) {
					klog.Infof("socket file %q was removed", s.cfg.Path)
					s.relisten()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				klog.Errorf("socket watcher: %v", err)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Healthz answers 200 once a probe pass has completed and no device is
// unreachable.
func (s *Server) Healthz(resp http.ResponseWriter, req *http.Request) {
	snap := s.registry.Snapshot()
	if snap.Generation == 0 {
		resp.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(resp, "no probe pass completed yet")
		return
	}

	unhealthy := make([]string, 0)
	for _, h := range snap.Devices() {
		if h.Liveness() == device.Unreachable {
			unhealthy = append(unhealthy, h.Name())
		}
	}
	if len(unhealthy) == 0 {
		resp.WriteHeader(http.StatusOK)
		fmt.Fprintf(resp, "generation %d: %d devices, probed at %s\n", snap.Generation, snap.Len(), snap.ProbedAt.Format(time.RFC3339))
		return
	}
	resp.WriteHeader(http.StatusInternalServerError)
	for _, name := range unhealthy {
		fmt.Fprintf(resp, "device %q is unreachable\n", name)
	}
}
