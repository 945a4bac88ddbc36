package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cipherchat/internal/auth"
	"cipherchat/internal/config"
	"cipherchat/internal/db"
	"cipherchat/internal/dispatch"
	"cipherchat/internal/events"
	"cipherchat/internal/metrics"
	"cipherchat/internal/models"
	"cipherchat/internal/presence"
	"cipherchat/internal/ratelimit"
	"cipherchat/internal/reconcile"
	"cipherchat/internal/websocket"
)

type memCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (c *memCounter) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int64)
	}
	c.counts[key]++
	return c.counts[key], nil
}

type testServer struct {
	*httptest.Server
	store    *db.DB
	registry *presence.Registry
}

type serverOption func(*ratelimit.Limiter) *ratelimit.Limiter

func withRateLimit(limit int64) serverOption {
	return func(*ratelimit.Limiter) *ratelimit.Limiter {
		return ratelimit.New(&memCounter{}, limit, time.Minute, nil)
	}
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()

	store, err := db.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	_, err = store.Migrate()
	require.NoError(t, err)

	logger := zap.NewNop()
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	registry := presence.NewRegistry()
	dispatcher := dispatch.New(registry, events.Nop{}, m, logger)
	wsCfg := config.WS{
		SendBuffer:   16,
		PingPeriod:   time.Second,
		PongWait:     2 * time.Second,
		WriteWait:    time.Second,
		MaxFrameSize: 1 << 16,
	}

	var limiter *ratelimit.Limiter
	for _, opt := range opts {
		limiter = opt(limiter)
	}

	h := NewHandlers(Deps{
		Store:      store,
		Hub:        websocket.NewHub(registry, store, dispatcher, wsCfg, m, logger),
		Reconciler: reconcile.New(store, dispatcher, store.Retention(), logger),
		Dispatcher: dispatcher,
		Presence:   registry,
		Tokens:     auth.NewTokens("test-secret", time.Hour),
		Limiter:    limiter,
		Gatherer:   promReg,
		HTTP:       config.HTTP{AllowedOrigins: []string{"http://localhost:3000"}},
		Logger:     logger,
	})

	srv := httptest.NewServer(h.Routes())
	t.Cleanup(func() {
		registry.CloseAll()
		srv.Close()
		_ = store.Close()
	})
	return &testServer{Server: srv, store: store, registry: registry}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

// register creates a user and returns its userId and token.
func (s *testServer) register(t *testing.T, username string) (string, string) {
	t.Helper()

	resp, _ := s.do(t, http.MethodPost, "/api/register", "", models.RegisterRequest{Username: username, Password: "secret123"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, "/api/login", "", models.LoginRequest{Username: username, Password: "secret123"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var login models.LoginResponse
	require.NoError(t, json.Unmarshal(body, &login))
	return login.User.UserID, login.Token
}

func (s *testServer) send(t *testing.T, token, receiverID, content string) models.Message {
	t.Helper()

	resp, body := s.do(t, http.MethodPost, "/api/messages", token, models.SendMessageRequest{
		ReceiverID:       receiverID,
		EncryptedContent: content,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var msg models.Message
	require.NoError(t, json.Unmarshal(body, &msg))
	return msg
}

func decodeError(t *testing.T, body []byte) errorResponse {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	return e
}
