// Package server exposes the message protocol over a websocket and a small
// REST API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/daikw/cardspeak/internal/bridge"
	"github.com/daikw/cardspeak/internal/events"
)

// DefaultAddr is the listen address when none is configured
const DefaultAddr = "127.0.0.1:7345"

const (
	shutdownTimeout = 5 * time.Second

	defaultWriteWait = 10 * time.Second
)

// Config configures the server
type Config struct {
	Addr           string
	AllowedOrigins []string
	// WriteTimeout bounds each websocket write; zero means 10s
	WriteTimeout   time.Duration
}

// Server hosts the websocket bridge and REST endpoints
type Server struct {
	addr     string
	router   *bridge.Router
	store    bridge.SettingsStore
	orch     bridge.Orchestrator
	events   events.Subscriber
	upgrader websocket.Upgrader
	engine   *gin.Engine

	writeWait time.Duration

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(data []byte, wait time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(wait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// New creates a server. sub may be nil when notifications are not wanted.
func New(cfg Config, router *bridge.Router, store bridge.SettingsStore, orch bridge.Orchestrator, sub events.Subscriber) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteWait
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = DefaultAllowedOrigins
	}

	s := &Server{
		addr:      cfg.Addr,
		router:    router,
		store:     store,
		orch:      orch,
		events:    sub,
		clients:   make(map[*wsClient]struct{}),
		writeWait: cfg.WriteTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     newOriginChecker(origins).check,
		},
	}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/plain", []byte("OK"))
	})
	r.GET("/ws", s.handleWS)

	api := r.Group("/api")
	api.GET("/settings", s.getSettings)
	api.PUT("/settings", s.putSettings)
	api.POST("/speak", s.speak)
	api.POST("/stop", s.stop)
	api.GET("/status", s.status)

	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	}
}

// Run serves until ctx is canceled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.forwardEvents(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("Server shutdown error")
		}
		s.closeClients()
	}()

	log.Info().Str("addr", s.addr).Msg("Listening")
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("origin", c.Request.Header.Get("Origin")).Msg("Websocket upgrade failed")
		return
	}

	client := &wsClient{conn: conn}
	s.mu.Lock()
	s.clients[client] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()

	log.Debug().Str("remote", c.Request.RemoteAddr).Int("clients", count).Msg("Websocket client connected")

	defer func() {
		s.removeClient(client)
		log.Debug().Str("remote", c.Request.RemoteAddr).Msg("Websocket client disconnected")
	}()

	ctx := c.Request.Context()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("Websocket read failed")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		out, err := s.router.HandleJSON(ctx, data)
		if err != nil {
			log.Warn().Err(err).Msg("Message rejected")
		}
		if out == nil {
			continue
		}
		if err := client.write(out, s.writeWait); err != nil {
			log.Debug().Err(err).Msg("Websocket write failed")
			return
		}
	}
}

func (s *Server) removeClient(client *wsClient) {
	s.mu.Lock()
	delete(s.clients, client)
	s.mu.Unlock()
	client.conn.Close()
}

func (s *Server) closeClients() {
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[*wsClient]struct{})
	s.mu.Unlock()

	for c := range clients {
		c.conn.Close()
	}
}

// ClientCount returns the number of connected websocket clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Broadcast writes v as JSON to every websocket client, dropping clients
// whose connection fails or does not accept the write within the write timeout.
func (s *Server) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Msg("Could not encode broadcast")
		return
	}

	s.mu.RLock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(data, s.writeWait); err != nil {
			log.Debug().Err(err).Msg("Dropping websocket client after write error")
			s.removeClient(c)
		}
	}
}

// forwardEvents broadcasts protocol notifications until ctx is canceled
func (s *Server) forwardEvents(ctx context.Context) {
	bridge.ForwardNotifications(ctx, s.events, func(n bridge.Notification) {
		s.Broadcast(n)
	})
}
