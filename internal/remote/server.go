package remote

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"easytalking/internal/logging"
	"easytalking/internal/state"

	"github.com/gorilla/websocket"
)

// Message types for WebSocket protocol
type MessageType string

const (
	MsgTypeSend           MessageType = "send"
	MsgTypeToggleLanguage MessageType = "toggleLanguage"
	MsgTypeHistory        MessageType = "history"
	MsgTypeLanguage       MessageType = "language"
	MsgTypeError          MessageType = "error"
	MsgTypePing           MessageType = "ping"
	MsgTypePong           MessageType = "pong"
)

// Security constants
const (
	maxClients      = 10              // Maximum concurrent connections
	maxAuthAttempts = 50              // Max failed auth attempts before lockout
	authLockoutTime = 1 * time.Minute // Lockout duration after max attempts
	maxMessageLen   = 2000
	shutdownTimeout = 5 * time.Second
)

// ClientMessage represents a message from the client
type ClientMessage struct {
	Type MessageType `json:"type"`
	Text string      `json:"text,omitempty"`
}

// ServerMessage represents a message to the client
type ServerMessage struct {
	Type     MessageType         `json:"type"`
	Messages []state.ChatMessage `json:"messages,omitempty"`
	Language state.Language      `json:"language,omitempty"`
	Locale   string              `json:"locale,omitempty"`
	Message  string              `json:"message,omitempty"`
}

// ClientInfo represents a connected client
type ClientInfo struct {
	ID          string    `json:"id"`
	ConnectedAt time.Time `json:"connectedAt"`
	UserAgent   string    `json:"userAgent"`
	RemoteAddr  string    `json:"remoteAddr"`
	writeMu     sync.Mutex // Per-connection mutex for thread-safe writes
}

// authAttempt tracks failed authentication attempts
type authAttempt struct {
	count    int
	lastTime time.Time
}

// ChatHandler is the chat the remote client joins
type ChatHandler interface {
	Messages() []state.ChatMessage
	Language() state.Language
	SubmitTyped(ctx context.Context, text string) bool
	ToggleLanguage() state.Language
}

// Server lets a phone browser join the chat over a WebSocket
type Server struct {
	chat         ChatHandler
	token        string
	tokenExpiry  time.Time
	clients      map[*websocket.Conn]*ClientInfo
	authAttempts map[string]*authAttempt // IP -> auth attempts
	mu           sync.RWMutex
	authMu       sync.RWMutex
	port         int
	server       *http.Server
	upgrader     websocket.Upgrader
	running      bool
}

// NewServer creates a remote chat server for chat
func NewServer(chat ChatHandler) *Server {
	s := &Server{
		chat:         chat,
		clients:      make(map[*websocket.Conn]*ClientInfo),
		authAttempts: make(map[string]*authAttempt),
		port:         9090,
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	return s
}

// checkOrigin validates the request origin for CORS
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// No origin header (same-origin request) - allow
	if origin == "" {
		return true
	}

	if strings.HasPrefix(origin, "http://localhost") ||
		strings.HasPrefix(origin, "http://127.0.0.1") ||
		strings.HasPrefix(origin, "https://localhost") ||
		strings.HasPrefix(origin, "https://127.0.0.1") {
		return true
	}

	// the page itself is served from this host, e.g. the LAN address
	if strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://") == r.Host {
		return true
	}

	logging.Warn("WebSocket connection rejected: invalid origin", "origin", origin)
	return false
}

// GenerateToken generates a new access token
func (s *Server) GenerateToken(duration time.Duration) (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		logging.Error("Failed to generate secure token", "error", err)
		return "", fmt.Errorf("failed to generate secure token: %w", err)
	}

	s.mu.Lock()
	s.token = hex.EncodeToString(bytes)
	s.tokenExpiry = time.Now().Add(duration)
	token := s.token
	expiry := s.tokenExpiry
	s.mu.Unlock()

	logging.Info("Remote access token generated", "expiry", expiry)
	return token, nil
}

// GetToken returns the current token (for display in UI)
func (s *Server) GetToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// validateToken checks the token using constant-time comparison
func (s *Server) validateToken(token string) bool {
	if len(token) == 0 {
		return false
	}

	s.mu.RLock()
	storedToken := s.token
	expiry := s.tokenExpiry
	s.mu.RUnlock()

	if len(storedToken) == 0 {
		return false
	}

	tokenMatch := subtle.ConstantTimeCompare([]byte(token), []byte(storedToken)) == 1
	notExpired := time.Now().Before(expiry)

	return tokenMatch && notExpired
}

// checkRateLimit checks if the IP is rate limited
func (s *Server) checkRateLimit(ip string) bool {
	s.authMu.RLock()
	attempt, exists := s.authAttempts[ip]
	s.authMu.RUnlock()

	if !exists {
		return true
	}

	if time.Since(attempt.lastTime) > authLockoutTime {
		s.authMu.Lock()
		delete(s.authAttempts, ip)
		s.authMu.Unlock()
		return true
	}

	return attempt.count < maxAuthAttempts
}

// recordFailedAuth records a failed authentication attempt
func (s *Server) recordFailedAuth(ip string) {
	s.authMu.Lock()
	defer s.authMu.Unlock()

	if _, exists := s.authAttempts[ip]; !exists {
		s.authAttempts[ip] = &authAttempt{}
	}

	s.authAttempts[ip].count++
	s.authAttempts[ip].lastTime = time.Now()

	if s.authAttempts[ip].count >= maxAuthAttempts {
		logging.Warn("IP locked out due to failed auth attempts", "ip", ip)
	}
}

// resetAuthAttempts resets auth attempts for an IP after successful auth
func (s *Server) resetAuthAttempts(ip string) {
	s.authMu.Lock()
	delete(s.authAttempts, ip)
	s.authMu.Unlock()
}

// getClientIP extracts the peer IP. The server is reached directly over the
// LAN, so forwarding headers are client-controlled and ignored.
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestToken reads the bearer token, falling back to the query string
func requestToken(r *http.Request) string {
	token := r.Header.Get("Authorization")
	if strings.HasPrefix(token, "Bearer ") {
		return strings.TrimPrefix(token, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// authorize applies the rate limit and token check, writing the error response
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	clientIP := getClientIP(r)

	if !s.checkRateLimit(clientIP) {
		http.Error(w, "Too many attempts, try again later", http.StatusTooManyRequests)
		logging.Warn("Remote access rejected: rate limited", "ip", clientIP)
		return false
	}

	if !s.validateToken(requestToken(r)) {
		s.recordFailedAuth(clientIP)
		http.Error(w, "Unauthorized - Invalid or expired token", http.StatusUnauthorized)
		logging.Warn("Remote access rejected: invalid token", "remoteAddr", r.RemoteAddr)
		return false
	}

	s.resetAuthAttempts(clientIP)
	return true
}

// Handler returns the HTTP routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.serveClient)
	mux.HandleFunc("/ws/chat", s.handleChatWS)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start binds port and serves in the background. It returns the bind error,
// if any, before anything is reported as running.
func (s *Server) Start(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server already running")
	}

	// bind before reporting success so a busy port surfaces to the caller
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", port, err)
	}

	s.port = port
	s.running = true
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.server = srv

	logging.Info("Remote chat server started", "port", port)
	logging.Warn("Remote chat server running without TLS - use it on a trusted network only")

	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return
		}
		logging.Error("Remote chat server stopped", "port", port, "error", err)
		s.mu.Lock()
		if s.server == srv {
			s.running = false
		}
		s.mu.Unlock()
	}()
	return nil
}

// Stop stops the remote chat server with graceful shutdown
func (s *Server) Stop() error {
	s.mu.Lock()

	if !s.running {
		s.mu.Unlock()
		return nil
	}

	s.running = false
	s.token = ""
	srv := s.server

	clientsToClose := s.snapshotClientsLocked()
	s.clients = make(map[*websocket.Conn]*ClientInfo)
	s.mu.Unlock()

	// Close connections outside the main lock with write deadline
	for _, c := range clientsToClose {
		c.info.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down"))
		c.info.writeMu.Unlock()
		c.conn.Close()
	}

	if srv != nil {
		logging.Info("Remote chat server stopping (graceful shutdown)")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	}
	return nil
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// GetPort returns the server port
func (s *Server) GetPort() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port
}

// GetClients returns list of connected clients
func (s *Server) GetClients() []ClientInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]ClientInfo, 0, len(s.clients))
	for _, info := range s.clients {
		clients = append(clients, ClientInfo{
			ID:          info.ID,
			ConnectedAt: info.ConnectedAt,
			UserAgent:   info.UserAgent,
			RemoteAddr:  info.RemoteAddr,
		})
	}
	return clients
}

type clientConn struct {
	conn *websocket.Conn
	info *ClientInfo
}

func (s *Server) snapshotClientsLocked() []clientConn {
	clients := make([]clientConn, 0, len(s.clients))
	for conn, info := range s.clients {
		clients = append(clients, clientConn{conn, info})
	}
	return clients
}

// broadcast writes msg to every client outside the main lock
func (s *Server) broadcast(msg ServerMessage) {
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		logging.Error("Failed to marshal broadcast message", "error", err)
		return
	}

	s.mu.RLock()
	clients := s.snapshotClientsLocked()
	s.mu.RUnlock()

	for _, c := range clients {
		c.info.writeMu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, msgBytes)
		c.info.writeMu.Unlock()
		if err != nil {
			logging.Debug("Failed to write to client", "error", err)
		}
	}
}

func (s *Server) historyMessage() ServerMessage {
	lang := s.chat.Language()
	return ServerMessage{
		Type:     MsgTypeHistory,
		Messages: s.chat.Messages(),
		Language: lang,
		Locale:   lang.Locale(),
	}
}

// BroadcastHistory sends the whole chat history to every client
func (s *Server) BroadcastHistory() {
	s.broadcast(s.historyMessage())
}

// BroadcastLanguage sends the active language to every client
func (s *Server) BroadcastLanguage(lang state.Language) {
	s.broadcast(ServerMessage{Type: MsgTypeLanguage, Language: lang, Locale: lang.Locale()})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	clients := len(s.clients)
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"time":    time.Now().Unix(),
		"clients": clients,
	}); err != nil {
		logging.Error("Failed to encode health response", "error", err)
	}
}

// handleChatWS handles WebSocket connections for the chat
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}

	s.mu.RLock()
	clientCount := len(s.clients)
	s.mu.RUnlock()

	if clientCount >= maxClients {
		http.Error(w, "Maximum connections reached", http.StatusServiceUnavailable)
		logging.Warn("Remote access rejected: max clients reached", "count", clientCount)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("WebSocket upgrade failed", "error", err)
		return
	}

	clientIDBytes := make([]byte, 8)
	if _, err := rand.Read(clientIDBytes); err != nil {
		logging.Error("Failed to generate client ID", "error", err)
		conn.Close()
		return
	}
	clientID := hex.EncodeToString(clientIDBytes)

	clientInfo := &ClientInfo{
		ID:          clientID,
		ConnectedAt: time.Now(),
		UserAgent:   r.UserAgent(),
		RemoteAddr:  r.RemoteAddr,
	}

	s.mu.Lock()
	s.clients[conn] = clientInfo
	s.mu.Unlock()

	logging.Info("Remote client connected", "clientId", clientID, "remoteAddr", r.RemoteAddr)

	s.send(conn, clientInfo, s.historyMessage())

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
		logging.Info("Remote client disconnected", "clientId", clientID)
	}()

	conn.SetReadLimit(64 * 1024)
	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error("WebSocket read error", "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(msgBytes, &msg); err != nil {
			s.sendError(conn, clientInfo, "Invalid message format")
			continue
		}

		s.handleClientMessage(r.Context(), conn, clientInfo, &msg)
	}
}

// handleClientMessage processes a message from the client. State changes
// reach every client through the store observers, not through replies here.
func (s *Server) handleClientMessage(ctx context.Context, conn *websocket.Conn, client *ClientInfo, msg *ClientMessage) {
	switch msg.Type {
	case MsgTypeSend:
		if len(msg.Text) > maxMessageLen {
			s.sendError(conn, client, fmt.Sprintf("Message too long (max %d characters)", maxMessageLen))
			return
		}
		if !s.chat.SubmitTyped(ctx, msg.Text) {
			s.sendError(conn, client, "Message is empty")
		}

	case MsgTypeToggleLanguage:
		s.chat.ToggleLanguage()

	case MsgTypeHistory:
		s.send(conn, client, s.historyMessage())

	case MsgTypePing:
		s.send(conn, client, ServerMessage{Type: MsgTypePong})

	default:
		s.sendError(conn, client, fmt.Sprintf("Unknown message type %q", msg.Type))
	}
}

func (s *Server) send(conn *websocket.Conn, client *ClientInfo, msg ServerMessage) {
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		logging.Error("Failed to marshal message", "type", msg.Type, "error", err)
		return
	}
	client.writeMu.Lock()
	if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
		logging.Debug("Failed to send message", "type", msg.Type, "error", err)
	}
	client.writeMu.Unlock()
}

// sendError sends an error message to a client
func (s *Server) sendError(conn *websocket.Conn, client *ClientInfo, message string) {
	s.send(conn, client, ServerMessage{Type: MsgTypeError, Message: message})
}

// serveClient serves the web client HTML
func (s *Server) serveClient(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !s.authorize(w, r) {
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write([]byte(clientHTML))
}
