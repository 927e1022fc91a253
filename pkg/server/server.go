package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kitchej/pychat/pkg/blacklist"
	"github.com/kitchej/pychat/pkg/protocol"
)

var (
	// ErrAlreadyRunning is returned by Start when the server is accepting connections
	ErrAlreadyRunning = errors.New("server already running")
	// ErrNotRunning is returned by operations that need a running server
	ErrNotRunning = errors.New("server not running")
)

// BindError reports a listener that could not be opened
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to listen on %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// loggers are owned by a Server so that several servers (and tests) never share
// output destinations
type loggers struct {
	info    *log.Logger
	error   *log.Logger
	debug   *log.Logger
	logPath string // server.log, empty when logging to the console only
	files   []*os.File
}

func (l *loggers) close() {
	for _, f := range l.files {
		f.Close()
	}
	l.files = nil
}

// newLoggers builds the info, error and debug loggers. A non-nil out replaces
// every destination, which is how tests silence the server.
func newLoggers(cfg Config, out io.Writer) (*loggers, error) {
	if out != nil {
		debugOut := io.Discard
		if cfg.Debug {
			debugOut = out
		}
		return &loggers{
			info:  log.New(out, "", log.LstdFlags),
			error: log.New(out, "ERROR: ", log.LstdFlags),
			debug: log.New(debugOut, "DEBUG: ", log.LstdFlags),
		}, nil
	}

	l := &loggers{
		info:  log.New(os.Stdout, "", log.LstdFlags),
		error: log.New(os.Stderr, "ERROR: ", log.LstdFlags),
		debug: log.New(io.Discard, "DEBUG: ", log.LstdFlags),
	}
	if cfg.LogDir == "" {
		if cfg.Debug {
			l.debug.SetOutput(os.Stderr)
		}
		return l, nil
	}

	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Error log goes to stderr and errors.log
	errorFile, err := os.OpenFile(filepath.Join(cfg.LogDir, "errors.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, err
	}
	l.files = append(l.files, errorFile)

	// Write startup marker to errors.log (for distinguishing between runs)
	startupMsg := fmt.Sprintf("=== Server started at %s ===\n", time.Now().Format(time.RFC3339))
	if _, err := errorFile.WriteString(startupMsg); err != nil {
		l.close()
		return nil, err
	}
	l.error.SetOutput(io.MultiWriter(os.Stderr, errorFile))

	// Truncate server.log on startup to avoid confusion from multiple runs
	l.logPath = filepath.Join(cfg.LogDir, "server.log")
	serverFile, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		l.close()
		return nil, err
	}
	l.files = append(l.files, serverFile)
	l.info.SetOutput(io.MultiWriter(os.Stdout, serverFile))

	if cfg.Debug {
		debugFile, err := os.OpenFile(filepath.Join(cfg.LogDir, "debug.log"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
		if err != nil {
			l.close()
			return nil, err
		}
		l.files = append(l.files, debugFile)
		l.debug.SetOutput(debugFile)
		l.debug.Println("Debug logging enabled")
	}
	return l, nil
}

// Option customizes a Server
type Option func(*options)

type options struct {
	logOutput io.Writer
	store     blacklist.Store
}

// WithLogOutput sends all server logging to w instead of the console and log files
func WithLogOutput(w io.Writer) Option {
	return func(o *options) {
		o.logOutput = w
	}
}

// WithBlacklistStore overrides the store selected by the blacklist backend
func WithBlacklistStore(store blacklist.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// run holds the state of one Start/Stop cycle. Restart builds a fresh one.
type run struct {
	listener     net.Listener
	httpListener net.Listener
	httpServer   *http.Server
	broadcaster  *Broadcaster
	shutdown     chan struct{}
	wg           sync.WaitGroup
	startTime    time.Time

	mu       sync.Mutex
	closing  bool
	sessions map[*Session]struct{} // Every live connection, admitted or not
}

// track registers a connection with the run. It fails once the run is stopping.
func (r *run) track(sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closing {
		return false
	}
	r.sessions[sess] = struct{}{}
	r.wg.Add(1)
	return true
}

func (r *run) untrack(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sess)
}

// drain stops accepting new connections and returns the live ones
func (r *run) drain() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closing = true
	sessions := make([]*Session, 0, len(r.sessions))
	for sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

func (r *run) live() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// Server is the chat relay: it accepts connections, admits named clients and
// rebroadcasts their frames to everyone else.
type Server struct {
	config    Config
	logs      *loggers
	metrics   *Metrics
	registry  *Registry
	blacklist *blacklist.Blacklist

	mu  sync.Mutex // Guards run
	run *run
}

// New creates a stopped server and loads its blacklist
func New(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logs, err := newLoggers(cfg, o.logOutput)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loggers: %w", err)
	}

	store := o.store
	if store == nil && cfg.BlacklistPath != "" {
		switch cfg.BlacklistBackend {
		case BlacklistBackendSQLite:
			store, err = blacklist.OpenSQLite(cfg.BlacklistPath)
			if err != nil {
				logs.close()
				return nil, fmt.Errorf("failed to open blacklist database: %w", err)
			}
		default:
			store = blacklist.NewFileStore(cfg.BlacklistPath)
		}
	}

	s := &Server{
		config:    cfg,
		logs:      logs,
		metrics:   NewMetrics(),
		registry:  NewRegistry(),
		blacklist: blacklist.New(store),
	}

	// Bad entries are skipped, not fatal
	if err := s.blacklist.Load(); err != nil {
		s.logs.error.Printf("Blacklist: %v", err)
	}
	s.metrics.SetBlacklistSize(s.blacklist.Len())
	s.logs.debug.Printf("Loaded %d blacklist entries", s.blacklist.Len())

	return s, nil
}

// Config returns the configuration the server was built with
func (s *Server) Config() Config {
	return s.config
}

// Metrics returns the server's collectors
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// LogPath returns the path of server.log, or "" when logging to the console only
func (s *Server) LogPath() string {
	return s.logs.logPath
}

// Start binds the listeners and begins accepting connections
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != nil {
		return ErrAlreadyRunning
	}

	addr := s.config.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return &BindError{Addr: addr, Err: err}
	}

	r := &run{
		listener:  listener,
		shutdown:  make(chan struct{}),
		startTime: time.Now(),
		sessions:  make(map[*Session]struct{}),
	}
	r.broadcaster = NewBroadcaster(s.registry, s.config.BroadcastQueueSize, s.logs, s.metrics)

	if s.config.HTTPAddr != "" {
		httpListener, err := net.Listen("tcp", s.config.HTTPAddr)
		if err != nil {
			listener.Close()
			return &BindError{Addr: s.config.HTTPAddr, Err: err}
		}
		r.httpListener = httpListener
		r.httpServer = &http.Server{
			Handler:           s.routes(r),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := r.httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logs.error.Printf("HTTP server error: %v", err)
			}
		}()
		s.logs.info.Printf("HTTP server listening on %s (/metrics, /health, /ws)", httpListener.Addr())
	}

	r.broadcaster.Start()

	r.wg.Add(1)
	go s.acceptLoop(r)

	s.run = r
	s.logs.info.Printf("Server listening on %s", listener.Addr())
	return nil
}

// Stop disconnects every client and closes the listeners. The blacklist is saved.
func (s *Server) Stop() error {
	s.mu.Lock()
	r := s.run
	s.run = nil
	s.mu.Unlock()

	if r == nil {
		return ErrNotRunning
	}

	s.logs.info.Println("Graceful shutdown initiated...")

	// Signal shutdown to all goroutines
	close(r.shutdown)

	// Stop accepting new connections
	r.listener.Close()
	if r.httpServer != nil {
		r.httpServer.Close()
	}

	sessions := r.drain()
	s.notifyClientsOfShutdown(sessions)

	s.registry.Clear()
	s.metrics.SetActiveSessions(0)
	for _, sess := range sessions {
		sess.Close()
	}

	s.logs.debug.Println("Waiting for connection handlers to finish...")
	r.wg.Wait()
	r.broadcaster.Stop()

	err := s.SaveBlacklist()
	if err != nil {
		s.logs.error.Printf("Failed to save blacklist: %v", err)
	}

	s.logs.info.Println("Graceful shutdown complete")
	return err
}

// Restart stops the server and starts it again on the configured address
func (s *Server) Restart() error {
	if err := s.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		s.logs.error.Printf("Restart: stop failed: %v", err)
	}
	return s.Start()
}

// Close stops the server if needed and releases the blacklist store and log files
func (s *Server) Close() error {
	var errs []error
	if err := s.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		errs = append(errs, err)
	}
	if err := s.blacklist.Close(); err != nil {
		errs = append(errs, err)
	}
	s.logs.close()
	return errors.Join(errs...)
}

// IsRunning reports whether the server is accepting connections
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run != nil
}

// Addr returns the bound TCP address, or nil when stopped
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return nil
	}
	return s.run.listener.Addr()
}

// HTTPAddr returns the bound HTTP address, or nil when stopped or disabled
func (s *Server) HTTPAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil || s.run.httpListener == nil {
		return nil
	}
	return s.run.httpListener.Addr()
}

// Uptime returns how long the current run has been accepting connections
func (s *Server) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return 0
	}
	return time.Since(s.run.startTime)
}

func (s *Server) current() *run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run
}

// notifyClientsOfShutdown sends DISCONNECT to every live connection (best effort)
func (s *Server) notifyClientsOfShutdown(sessions []*Session) {
	if len(sessions) == 0 {
		s.logs.debug.Println("No active sessions to notify")
		return
	}

	frame := protocol.DisconnectFrame().Bytes()
	sent := 0
	for _, sess := range sessions {
		if err := sess.Conn.WriteBytes(frame); err == nil {
			sent++
		}
	}
	s.logs.info.Printf("Shutdown notification sent to %d/%d sessions", sent, len(sessions))
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop(r *run) {
	defer r.wg.Done()

	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-r.shutdown:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logs.error.Printf("Accept error: %v", err)
			continue
		}

		s.serveConn(r, conn, "tcp")
	}
}

// serveConn applies the blacklist and hands the connection to its own goroutine
func (s *Server) serveConn(r *run, conn net.Conn, transport string) {
	remote := conn.RemoteAddr().String()
	if s.blacklist.Contains(remote) {
		s.metrics.RecordRejected("blacklisted")
		s.logs.info.Printf("Refused blacklisted connection from %s", remote)
		conn.Close()
		return
	}

	sess := newSession(conn, transport, s.config.SendTimeout)
	if !r.track(sess) {
		conn.Close()
		return
	}
	s.metrics.RecordConnection(transport)
	go s.handleConnection(r, sess)
}

// DisconnectClient removes the named client. With notify it is sent KICKED before
// its connection closes. The name is free for reuse as soon as this returns.
func (s *Server) DisconnectClient(name string, notify bool) bool {
	r := s.current()
	if r == nil {
		return false
	}

	sess, ok := s.registry.Lookup(name)
	if !ok || !s.registry.Unregister(sess) {
		return false
	}
	s.metrics.SetActiveSessions(s.registry.Len())
	s.logs.info.Printf("Kicked %s (%s)", name, sess.RemoteAddr)

	if !notify || !r.broadcaster.Send(sess, protocol.KickedFrame().Bytes(), true) {
		sess.Close()
	}
	return true
}

// Blacklist refuses future connections from addr (an IP or CIDR network) and
// disconnects current clients that match it
func (s *Server) Blacklist(addr string) error {
	if err := s.blacklist.Add(addr); err != nil {
		return err
	}
	s.metrics.SetBlacklistSize(s.blacklist.Len())
	s.logs.info.Printf("Blacklisted %s", addr)

	r := s.current()
	if r == nil {
		return nil
	}
	for _, sess := range r.live() {
		if s.blacklist.Contains(sess.RemoteAddr) {
			s.logs.info.Printf("Disconnecting blacklisted session %s (%s)", sess.Username(), sess.RemoteAddr)
			sess.Close()
		}
	}
	return nil
}

// Unblacklist removes addr from the blacklist
func (s *Server) Unblacklist(addr string) bool {
	removed := s.blacklist.Remove(addr)
	if removed {
		s.metrics.SetBlacklistSize(s.blacklist.Len())
		s.logs.info.Printf("Removed %s from blacklist", addr)
	}
	return removed
}

// BlacklistedAddrs returns the blacklist entries, sorted
func (s *Server) BlacklistedAddrs() []string {
	return s.blacklist.List()
}

// SaveBlacklist persists the blacklist to its store
func (s *Server) SaveBlacklist() error {
	return s.blacklist.Save()
}

// BroadcastServerMessage sends SERVERMSG:<text> to every admitted client
func (s *Server) BroadcastServerMessage(text string) error {
	r := s.current()
	if r == nil {
		return ErrNotRunning
	}
	if !r.broadcaster.Broadcast(protocol.ServerMsgFrame(text).Bytes(), nil, protocol.InfoServerMsg) {
		return ErrNotRunning
	}
	return nil
}

// Clients lists the registered clients in join order
func (s *Server) Clients() []ClientInfo {
	sessions := s.registry.Snapshot()
	clients := make([]ClientInfo, 0, len(sessions))
	for _, sess := range sessions {
		clients = append(clients, sess.info())
	}
	return clients
}
