// Package opsserver is the operational HTTP surface: a go-chi router
// exposing /healthz (per-module status dots), /metrics (Prometheus), and a
// /ws/events WebSocket relay that broadcasts Event JSON verbatim. No GUI is
// implemented here — this package only pushes the data out.
package opsserver

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/argusvision/sentinel/internal/bus"
	"github.com/argusvision/sentinel/internal/metrics"
	"github.com/argusvision/sentinel/internal/model"
)

// clientQueueDepth bounds a single websocket client's backlog; a slow
// reader is dropped from rather than allowed to stall the broadcast.
const clientQueueDepth = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StatusFunc reports per-module enabled/disabled state for /healthz's
// status dots.
type StatusFunc func() map[string]bool

// PtzSnapshotFunc reports current PTZ ownership for /healthz.
type PtzSnapshotFunc func() (owner string, priority model.PtzPriority, lastAcceptedAt time.Time)

// Server is the ops HTTP surface: health, metrics, and the live-view event
// relay.
type Server struct {
	addr      string
	bus       *bus.Bus
	collector *metrics.Collector
	statusFn  StatusFunc
	ptzFn     PtzSnapshotFunc

	httpSrv *http.Server

	mu          sync.Mutex
	clients     map[*client]struct{}
	unsubscribe func()
}

type client struct {
	conn *websocket.Conn
	out  chan []byte
}

// New returns a Server listening on addr once Start is called.
func New(addr string, eventBus *bus.Bus, collector *metrics.Collector, statusFn StatusFunc, ptzFn PtzSnapshotFunc) *Server {
	s := &Server{
		addr:      addr,
		bus:       eventBus,
		collector: collector,
		statusFn:  statusFn,
		ptzFn:     ptzFn,
		clients:   make(map[*client]struct{}),
	}
	if eventBus != nil {
		s.unsubscribe = eventBus.Subscribe("*", s.broadcast)
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.handleHealthz)
	if s.collector != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.collector.Registry(), promhttp.HandlerOpts{}))
	}
	r.Get("/ws/events", s.handleWS)
	return r
}

type healthResponse struct {
	Modules map[string]bool `json:"modules"`
	Ptz     *ptzStatus      `json:"ptz,omitempty"`
}

type ptzStatus struct {
	Owner          string    `json:"owner"`
	Priority       string    `json:"priority"`
	LastAcceptedAt time.Time `json:"last_accepted_at"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{}
	if s.statusFn != nil {
		resp.Modules = s.statusFn()
	}
	if s.ptzFn != nil {
		owner, priority, lastAt := s.ptzFn()
		resp.Ptz = &ptzStatus{Owner: owner, Priority: priority.String(), LastAcceptedAt: lastAt}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[opsserver] healthz encode: %v", err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[opsserver] ws upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, out: make(chan []byte, clientQueueDepth)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	go s.writePump(c)
	s.readPump(c) // blocks until the client disconnects
}

func (s *Server) readPump(c *client) {
	defer s.dropClient(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	defer c.conn.Close()
	for msg := range c.out {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (s *Server) dropClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	close(c.out)
}

// broadcast forwards an Event to every connected websocket client,
// dropping it for any client whose send queue is full rather than
// blocking the EventBus dispatch worker.
func (s *Server) broadcast(ev model.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[opsserver] marshal event for ws relay: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.out <- data:
		default:
			log.Printf("[opsserver] ws client queue full, dropping event on %q", ev.Topic)
		}
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	s.httpSrv = &http.Server{
		Addr:    s.addr,
		Handler: s.routes(),
	}
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[opsserver] listen failed: %v", err)
		}
	}()
}

// Shutdown gracefully stops the HTTP server and closes every websocket
// connection.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	s.mu.Lock()
	for c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()

	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
