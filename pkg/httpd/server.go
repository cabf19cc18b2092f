// Package httpd serves the gateway web surface: settings, status and a live frame stream.
package httpd

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	"github.com/robotalks/radiogw/pkg/settings"
	"github.com/robotalks/radiogw/pkg/transport"
)

// MaxSettingsCSV bounds both the exported and the uploaded settings document.
const MaxSettingsCSV = 512

// DefaultAddr is the listen address.
const DefaultAddr = ":80"

//go:embed index.html
var indexHTML []byte

// Settings is the settings store used by the server.
type Settings interface {
	Values() (settings.Values, error)
	MarshalCSV(dst []byte) (int, error)
	UnmarshalCSV(data []byte) error
}

// Config configures the Server.
type Config struct {
	Addr  string `yaml:"addr"`
	Realm string `yaml:"realm"`
	// ShutdownTimeout bounds graceful shutdown in Stop.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns the default server config.
func DefaultConfig() Config {
	return Config{Addr: DefaultAddr, Realm: "radiogw", ShutdownTimeout: 2 * time.Second}
}

// Server is the gateway HTTP server.
type Server struct {
	// Channel reports the current radio channel.
	Channel func() uint8
	// Stats reports the pipeline counters.
	Stats func() transport.Stats

	config   Config
	settings Settings
	hub      *Hub
	mux      *http.ServeMux

	lock     sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// New creates a Server.
func New(config Config, store Settings, hub *Hub) *Server {
	if config.Realm == "" {
		config.Realm = DefaultConfig().Realm
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	if hub == nil {
		hub = NewHub()
	}
	s := &Server{config: config, settings: store, hub: hub}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.Handle("GET /auth/check", s.requireAuth(http.HandlerFunc(s.handleAuthCheck)))
	s.mux.Handle("GET /settings.csv", s.requireAuth(http.HandlerFunc(s.handleGetSettings)))
	s.mux.Handle("POST /settings.csv", s.requireAuth(http.HandlerFunc(s.handlePostSettings)))
	s.mux.HandleFunc("GET /api/channel", s.handleChannel)
	s.mux.Handle("GET /api/stats", s.requireAuth(http.HandlerFunc(s.handleStats)))
	s.mux.Handle("GET /api/frames", s.requireAuth(websocket.Handler(s.handleFrames)))
	return s
}

// Hub returns the frame event hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	glog.V(2).Infof("httpd: %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
	s.mux.ServeHTTP(w, r)
}

// Addr returns the bound address once started.
func (s *Server) Addr() net.Addr {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.server != nil {
		return nil
	}
	addr := s.config.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s, ReadHeaderTimeout: 5 * time.Second}
	done := make(chan struct{})
	s.server, s.listener, s.done = srv, ln, done
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Errorf("httpd: serve: %v", err)
		}
	}()
	glog.Infof("httpd: listening on %s", ln.Addr())
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop() error {
	s.lock.Lock()
	srv, done := s.server, s.done
	s.server, s.listener, s.done = nil, nil, nil
	s.lock.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(ctx)
	if err != nil {
		// websocket streams are hijacked and not tracked by Shutdown.
		err = srv.Close()
	}
	<-done
	return err
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, must-revalidate")
	w.Write(indexHTML)
}

func (s *Server) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	var buf [MaxSettingsCSV]byte
	n, err := s.settings.MarshalCSV(buf[:])
	if err != nil {
		glog.Errorf("httpd: export settings: %v", err)
		http.Error(w, "csv failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(n))
	w.Write(buf[:n])
}

func (s *Server) handlePostSettings(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}
	if r.ContentLength >= MaxSettingsCSV {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxSettingsCSV))
	if err != nil {
		http.Error(w, "recv failed", http.StatusInternalServerError)
		return
	}
	switch {
	case len(body) == 0:
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	case len(body) >= MaxSettingsCSV:
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}
	err = s.settings.UnmarshalCSV(body)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, settings.ErrInvalidSize):
		http.Error(w, "value too large: "+err.Error(), http.StatusRequestEntityTooLarge)
	case errors.Is(err, settings.ErrInvalidArgument):
		http.Error(w, "invalid csv: "+err.Error(), http.StatusBadRequest)
	default:
		glog.Errorf("httpd: import settings: %v", err)
		http.Error(w, "save failed", http.StatusInternalServerError)
	}
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	var ch uint8
	if s.Channel != nil {
		ch = s.Channel()
	} else if vals, err := s.settings.Values(); err == nil {
		ch = vals.WiFiChannel
	}
	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, strconv.Itoa(int(ch)))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Pipeline    transport.Stats `json:"pipeline"`
		Subscribers int             `json:"subscribers"`
		Dropped     uint64          `json:"events_dropped"`
	}{
		Subscribers: s.hub.Subscribers(),
		Dropped:     s.hub.Dropped(),
	}
	if s.Stats != nil {
		resp.Pipeline = s.Stats()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(&resp); err != nil {
		glog.Warningf("httpd: write stats: %v", err)
	}
}

func (s *Server) handleFrames(ws *websocket.Conn) {
	sub := s.hub.Subscribe()
	defer sub.Close()
	defer ws.Close()

	// the stream is one way; a read error means the peer went away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		var discard []byte
		for websocket.Message.Receive(ws, &discard) == nil {
		}
	}()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := websocket.JSON.Send(ws, ev); err != nil {
				glog.V(2).Infof("httpd: frame stream closed: %v", err)
				return
			}
		case <-gone:
			return
		}
	}
}
