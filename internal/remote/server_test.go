package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"easytalking/internal/state"

	"github.com/gorilla/websocket"
)

type fakeChat struct {
	mu        sync.Mutex
	lang      state.Language
	submitted []string
	messages  []state.ChatMessage
}

func newFakeChat() *fakeChat {
	return &fakeChat{
		lang:     state.English,
		messages: []state.ChatMessage{{ID: "g", Text: state.GreetingText, Sender: state.SenderResponse}},
	}
}

func (f *fakeChat) Messages() []state.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]state.ChatMessage(nil), f.messages...)
}

func (f *fakeChat) Language() state.Language {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lang
}

func (f *fakeChat) SubmitTyped(_ context.Context, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, text)
	return true
}

func (f *fakeChat) ToggleLanguage() state.Language {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lang = f.lang.Other()
	return f.lang
}

func startServer(t *testing.T) (*Server, *fakeChat, *httptest.Server, string) {
	t.Helper()
	chat := newFakeChat()
	s := NewServer(chat)
	token, err := s.GenerateToken(time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, chat, ts, token
}

func dial(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ServerMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func TestChatSocketSendsHistoryOnConnect(t *testing.T) {
	_, _, ts, token := startServer(t)
	conn := dial(t, ts, token)

	msg := readMessage(t, conn)
	if msg.Type != MsgTypeHistory {
		t.Fatalf("first message type = %q, want history", msg.Type)
	}
	if len(msg.Messages) != 1 || msg.Messages[0].Text != state.GreetingText {
		t.Errorf("history = %+v, want the greeting", msg.Messages)
	}
	if msg.Locale != "en-US" {
		t.Errorf("locale = %q, want en-US", msg.Locale)
	}
}

func TestChatSocketMessages(t *testing.T) {
	_, chat, ts, token := startServer(t)
	conn := dial(t, ts, token)
	readMessage(t, conn)

	conn.WriteJSON(ClientMessage{Type: MsgTypeSend, Text: "Hi"})
	conn.WriteJSON(ClientMessage{Type: MsgTypeToggleLanguage})
	conn.WriteJSON(ClientMessage{Type: MsgTypePing})

	// messages are handled in order, so the pong follows the first two
	if msg := readMessage(t, conn); msg.Type != MsgTypePong {
		t.Fatalf("reply type = %q, want pong", msg.Type)
	}
	chat.mu.Lock()
	submitted, lang := chat.submitted, chat.lang
	chat.mu.Unlock()
	if len(submitted) != 1 || submitted[0] != "Hi" {
		t.Errorf("submitted = %v, want [Hi]", submitted)
	}
	if lang != state.Korean {
		t.Errorf("language = %q, want %q", lang, state.Korean)
	}

	conn.WriteJSON(ClientMessage{Type: MsgTypeHistory})
	if msg := readMessage(t, conn); msg.Type != MsgTypeHistory || msg.Locale != "ko-KR" {
		t.Errorf("history reply = %+v", msg)
	}
}

func TestChatSocketErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"blank text", `{"type":"send","text":"   "}`, "empty"},
		{"too long", `{"type":"send","text":"` + strings.Repeat("a", maxMessageLen+1) + `"}`, "too long"},
		{"unknown type", `{"type":"shout"}`, "Unknown message type"},
		{"not json", `hello`, "Invalid message format"},
	}

	_, chat, ts, token := startServer(t)
	conn := dial(t, ts, token)
	readMessage(t, conn)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn.WriteMessage(websocket.TextMessage, []byte(tt.payload))
			msg := readMessage(t, conn)
			if msg.Type != MsgTypeError || !strings.Contains(msg.Message, tt.want) {
				t.Errorf("reply = %+v, want error containing %q", msg, tt.want)
			}
		})
	}

	if len(chat.submitted) != 0 {
		t.Errorf("submitted = %v, want nothing", chat.submitted)
	}
}

func TestBroadcastReachesEveryClient(t *testing.T) {
	s, _, ts, token := startServer(t)
	a := dial(t, ts, token)
	b := dial(t, ts, token)
	readMessage(t, a)
	readMessage(t, b)

	if got := len(s.GetClients()); got != 2 {
		t.Fatalf("GetClients() = %d, want 2", got)
	}

	s.BroadcastLanguage(state.Korean)
	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		if msg.Type != MsgTypeLanguage || msg.Locale != "ko-KR" {
			t.Errorf("broadcast = %+v, want language ko-KR", msg)
		}
	}

	s.BroadcastHistory()
	if msg := readMessage(t, a); msg.Type != MsgTypeHistory {
		t.Errorf("broadcast type = %q, want history", msg.Type)
	}
}

func TestAuthRejections(t *testing.T) {
	s, _, ts, token := startServer(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"no token", "/ws/chat", http.StatusUnauthorized},
		{"wrong token", "/ws/chat?token=nope", http.StatusUnauthorized},
		{"page without token", "/", http.StatusUnauthorized},
		{"unknown path", "/api/token-info?token=" + token, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(ts.URL + tt.path)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	s.mu.Lock()
	s.tokenExpiry = time.Now().Add(-time.Minute)
	s.mu.Unlock()
	if s.validateToken(token) {
		t.Error("validateToken() accepted an expired token")
	}
}

func TestRateLimitLocksOutAfterFailures(t *testing.T) {
	_, _, ts, token := startServer(t)

	for i := 0; i < maxAuthAttempts; i++ {
		resp, err := http.Get(ts.URL + "/ws/chat?token=bad")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		resp.Body.Close()
	}

	// locked out even with the right token
	resp, err := http.Get(ts.URL + "/?token=" + token)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
}

func TestServeClient(t *testing.T) {
	_, _, ts, token := startServer(t)

	resp, err := http.Get(ts.URL + "/?token=" + token)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	if resp.Header.Get("X-Frame-Options") != "DENY" {
		t.Error("missing X-Frame-Options")
	}
}

func TestHealth(t *testing.T) {
	_, _, ts, _ := startServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

func TestCheckOrigin(t *testing.T) {
	s := NewServer(newFakeChat())

	tests := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "192.168.1.5:9090", true},
		{"http://localhost:34115", "127.0.0.1:9090", true},
		{"https://127.0.0.1:9090", "127.0.0.1:9090", true},
		{"http://192.168.1.5:9090", "192.168.1.5:9090", true},
		{"https://evil.example.com", "192.168.1.5:9090", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws/chat", nil)
		r.Host = tt.host
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := s.checkOrigin(r); got != tt.want {
			t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.7:5555"
	if got := getClientIP(r); got != "10.0.0.7" {
		t.Errorf("getClientIP() = %q, want 10.0.0.7", got)
	}
	// forwarding headers come from the client and must not pick the identity
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	if got := getClientIP(r); got != "10.0.0.7" {
		t.Errorf("getClientIP() with X-Forwarded-For = %q, want 10.0.0.7", got)
	}
}

func TestRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	_, _, ts, token := startServer(t)

	get := func(path, xff string) int {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		req.Header.Set("X-Forwarded-For", xff)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("Do() error = %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	for i := 0; i < maxAuthAttempts; i++ {
		get("/ws/chat?token=bad", fmt.Sprintf("203.0.113.%d", i))
	}
	if status := get("/?token="+token, "198.51.100.1"); status != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", status, http.StatusTooManyRequests)
	}
}

func TestStartReportsBusyPort(t *testing.T) {
	busy, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer busy.Close()

	s := NewServer(newFakeChat())
	if err := s.Start(busy.Addr().(*net.TCPAddr).Port); err == nil {
		s.Stop()
		t.Fatal("Start() on a busy port returned nil")
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after a failed bind")
	}
}

func TestStartServesImmediately(t *testing.T) {
	free, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	port := free.Addr().(*net.TCPAddr).Port
	free.Close()

	s := NewServer(newFakeChat())
	if err := s.Start(port); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()
	if !s.IsRunning() {
		t.Fatal("IsRunning() = false after Start")
	}
	if err := s.Start(port); err == nil {
		t.Error("second Start() returned nil")
	}

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestStopWhenNotRunning(t *testing.T) {
	s := NewServer(newFakeChat())
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true")
	}
}
