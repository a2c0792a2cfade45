// Package server bridges the browser UI to the conversation core over a
// websocket: control frames drive the session state machine, binary frames
// feed the microphone, and transcript/notice frames flow back.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smilecare/voice-reception/config"
	"github.com/smilecare/voice-reception/gateway"
	"github.com/smilecare/voice-reception/notify"
	"github.com/smilecare/voice-reception/session"
)

// Server accepts one UI connection at a time and runs a conversation bridge
// over it.
type Server struct {
	httpServer *http.Server
	upgrader   websocket.Upgrader
	config     *config.Config
	gateway    *gateway.Client
	store      *session.Store
	onRefresh  notify.RefreshFunc
}

// NewServer creates the bridge server. store may be nil; onRefresh is handed
// to each conversation's booking notifier.
func NewServer(cfg *config.Config, gw *gateway.Client, store *session.Store, onRefresh notify.RefreshFunc) *Server {
	s := &Server{
		config:    cfg,
		gateway:   gw,
		store:     store,
		onRefresh: onRefresh,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    64 * 1024, // 64KB for audio chunks
			WriteBufferSize:   64 * 1024,
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	return s
}

// Start begins listening for connections
func (s *Server) Start() error {
	log.Printf("🚀 Voice reception bridge starting on port %d", s.config.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost:%d/ws", s.config.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("🛑 Shutting down bridge...")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	bridge := NewBridge(conn, s.config, s.gateway, s.store, s.onRefresh)
	log.Printf("✅ New conversation bridge: %s", bridge.SessionID())

	bridge.Run()

	<-bridge.Done()
	log.Printf("🔌 Bridge closed: %s", bridge.SessionID())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}
