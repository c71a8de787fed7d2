package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io/fs"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"

	"thermal-view-go/internal/config"
	"thermal-view-go/internal/output"
	"thermal-view-go/internal/pipeline"
	"thermal-view-go/internal/types"
)

var log = logging.Logger("server")

//go:embed web/*
var webFS embed.FS

type client struct {
	id      string
	writeMu sync.Mutex
}

type outbound struct {
	messageType int
	payload     []byte
}

// Server is the browser display: it pushes frames over a websocket and
// receives key presses back.
type Server struct {
	upgrader websocket.Upgrader
	clients  map[*websocket.Conn]*client
	mu       sync.Mutex
	cfg      config.AppConfig
	statusFn func() map[string]any
	centerFn func() image.Point
	ln       net.Listener

	messages chan outbound
	keys     chan int

	latestMu  sync.RWMutex
	latestPNG []byte

	streamMu sync.Mutex
	streams  map[chan *image.Gray]struct{}
}

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

var _ pipeline.Display = (*Server)(nil)

func New(cfg config.AppConfig, statusFn func() map[string]any) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:  make(map[*websocket.Conn]*client),
		cfg:      cfg,
		statusFn: statusFn,
		messages: make(chan outbound, 16),
		keys:     make(chan int, 16),
		streams:  make(map[chan *image.Gray]struct{}),
	}
}

func (s *Server) Handler() (http.Handler, error) {
	sub, err := fs.Sub(webFS, "web")
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(sub)))
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/frame.png", s.handleFrame)
	mux.HandleFunc("/stream", s.handleStream)
	return mux, nil
}

// Bind opens the HTTP listener so a taken port is reported before any frame
// is shown.
func (s *Server) Bind() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", addr)
	}
	s.ln = ln
	return nil
}

// Addr is the bound listener address, or nil before Bind.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Run serves HTTP until ctx ends, binding first if Bind was not called.
func (s *Server) Run(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	if s.ln == nil {
		if err := s.Bind(); err != nil {
			return err
		}
	}
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Infow("web viewer ready", "addr", s.ln.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	go s.broadcast(ctx)

	if err := httpServer.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve http")
	}
	return nil
}

// Show publishes the frame to every connected client. Slow clients miss
// frames rather than stalling the loop.
func (s *Server) Show(result types.Result) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, result.Display); err != nil {
		return errors.Wrap(err, "encode png")
	}
	frame := buf.Bytes()

	s.latestMu.Lock()
	s.latestPNG = frame
	s.latestMu.Unlock()

	sample, err := json.Marshal(types.UISample{
		Type:        "sample",
		Sequence:    result.Sample.Sequence,
		Raw:         result.Sample.Raw,
		Temperature: result.Sample.Celsius,
		Text:        output.FormatTemperature(result.Sample.Celsius),
	})
	if err != nil {
		return err
	}
	s.enqueue(outbound{messageType: websocket.TextMessage, payload: sample})
	s.enqueue(outbound{messageType: websocket.BinaryMessage, payload: frame})

	s.streamMu.Lock()
	for ch := range s.streams {
		select {
		case ch <- result.Display:
		default:
		}
	}
	s.streamMu.Unlock()
	return nil
}

func (s *Server) PollKey() int {
	select {
	case key := <-s.keys:
		return key
	default:
		return pipeline.NoKey
	}
}

// Close disconnects every websocket client.
func (s *Server) Close() error {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.mu.Unlock()
	for _, conn := range conns {
		s.removeClient(conn)
	}
	return nil
}

// CenterFrom makes the viewer report the live sample point instead of the
// startup one. Call it before Run.
func (s *Server) CenterFrom(fn func() image.Point) {
	s.centerFn = fn
}

func (s *Server) center() image.Point {
	if s.centerFn != nil {
		return s.centerFn()
	}
	return s.cfg.Center()
}

func (s *Server) enqueue(msg outbound) {
	select {
	case s.messages <- msg:
	default:
	}
}

func (s *Server) uiConfig() types.UIConfig {
	center := s.center()
	return types.UIConfig{
		Type:    "config",
		Title:   s.cfg.WindowTitle,
		Width:   s.cfg.Width,
		Height:  s.cfg.Height,
		CenterX: center.X,
		CenterY: center.Y,
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c := &client{id: uuid.New().String()}
	s.mu.Lock()
	s.clients[conn] = c
	s.mu.Unlock()
	log.Infow("viewer connected", "client", c.id, "remote", r.RemoteAddr)

	_ = s.writeJSON(conn, c, s.uiConfig())

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := s.writeMessage(conn, c, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer s.removeClient(conn)
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			var request struct {
				Type string `json:"type"`
				Code int    `json:"code"`
			}
			if err := json.Unmarshal(payload, &request); err != nil {
				continue
			}
			switch request.Type {
			case "key":
				log.Debugw("key from viewer", "client", c.id, "code", request.Code)
				select {
				case s.keys <- request.Code:
				default:
				}
			case "snapshot_request":
				s.latestMu.RLock()
				frame := s.latestPNG
				s.latestMu.RUnlock()
				if frame != nil {
					_ = s.writeMessage(conn, c, websocket.BinaryMessage, frame)
				}
			}
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	center := s.center()
	payload := map[string]any{
		"title":       s.cfg.WindowTitle,
		"width":       s.cfg.Width,
		"height":      s.cfg.Height,
		"center_x":    center.X,
		"center_y":    center.Y,
		"listen_addr": s.cfg.ListenAddress(),
		"port":        s.cfg.Port,
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]any{}
	if s.statusFn != nil {
		payload = s.statusFn()
	}
	if metrics, ok := payload["metrics"].(map[string]any); ok {
		metrics["ws_clients"] = s.clientCount()
	} else {
		payload["ws_clients"] = s.clientCount()
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleFrame(w http.ResponseWriter, _ *http.Request) {
	s.latestMu.RLock()
	frame := s.latestPNG
	s.latestMu.RUnlock()
	if frame == nil {
		http.Error(w, "no frame yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(frame)
}

func (s *Server) broadcast(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.messages:
			var stale []*websocket.Conn
			s.mu.Lock()
			for conn, c := range s.clients {
				if err := s.writeMessage(conn, c, msg.messageType, msg.payload); err != nil {
					stale = append(stale, conn)
				}
			}
			s.mu.Unlock()
			for _, conn := range stale {
				s.removeClient(conn)
			}
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	c, ok := s.clients[conn]
	delete(s.clients, conn)
	s.mu.Unlock()
	if ok {
		log.Infow("viewer disconnected", "client", c.id)
	}
	conn.Close()
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) writeJSON(conn *websocket.Conn, c *client, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(payload)
}

func (s *Server) writeMessage(conn *websocket.Conn, c *client, messageType int, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
