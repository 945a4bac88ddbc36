package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	mrand "math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"cipherchat/internal/logging"
	"cipherchat/internal/models"
)

type options struct {
	baseURL  string
	users    int
	rate     float64
	duration time.Duration
	batch    int
	payload  int
}

type user struct {
	models.User
	Token   string
	Partner *user
	conn    *websocket.Conn
}

type opType string

const (
	opSend   opType = "send"
	opSendWS opType = "send_ws"
	opPull   opType = "pull"
	opPush   opType = "push"
)

// stats collects latencies per operation.
type stats struct {
	mu        sync.Mutex
	latencies map[opType][]time.Duration
	failures  map[opType]int
}

func newStats() *stats {
	return &stats{
		latencies: make(map[opType][]time.Duration),
		failures:  make(map[opType]int),
	}
}

func (s *stats) success(op opType, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies[op] = append(s.latencies[op], d)
}

func (s *stats) failure(op opType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op]++
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func (s *stats) report(logger *zap.Logger, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range []opType{opSend, opSendWS, opPull, opPush} {
		lat := append([]time.Duration(nil), s.latencies[op]...)
		sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
		logger.Info("results",
			zap.String("op", string(op)),
			zap.Int("ok", len(lat)),
			zap.Int("failed", s.failures[op]),
			zap.Float64("per_sec", float64(len(lat))/elapsed.Seconds()),
			zap.Duration("p50", percentile(lat, 0.50)),
			zap.Duration("p99", percentile(lat, 0.99)),
			zap.Duration("max", percentile(lat, 1)),
		)
	}
}

type client struct {
	opts   options
	http   *http.Client
	logger *zap.Logger
}

func (c *client) do(ctx context.Context, method, path, token string, body, out any) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.opts.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *client) register(ctx context.Context, username string) (*user, error) {
	creds := models.RegisterRequest{Username: username, Password: "loadtest-password"}

	status, err := c.do(ctx, http.MethodPost, "/api/register", "", creds, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated {
		return nil, fmt.Errorf("register %s: status %d", username, status)
	}

	var resp models.LoginResponse
	status, err = c.do(ctx, http.MethodPost, "/api/login", "", models.LoginRequest(creds), &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("login %s: status %d", username, status)
	}
	return &user{User: resp.User, Token: resp.Token}, nil
}

func (c *client) connect(ctx context.Context, u *user) error {
	wsURL, err := url.Parse(c.opts.baseURL)
	if err != nil {
		return err
	}
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = "/api/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), http.Header{
		"Authorization": []string{"Bearer " + u.Token},
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	data, _ := json.Marshal(models.AuthData{UserID: u.UserID})
	if err := conn.WriteJSON(models.InboundFrame{Type: models.FrameAuth, Data: data}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("auth frame: %w", err)
	}
	u.conn = conn
	return nil
}

// readPushes measures how long after creation each message frame arrives.
func (c *client) readPushes(u *user, st *stats) {
	for {
		var frame struct {
			Type models.FrameType `json:"type"`
			Data json.RawMessage  `json:"data"`
		}
		if err := u.conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Type != models.FrameMessage {
			continue
		}
		var msg models.Message
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			st.failure(opPush)
			continue
		}
		st.success(opPush, time.Since(msg.CreatedAt))
	}
}

func (c *client) simulate(ctx context.Context, u *user, st *stats) {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / c.opts.rate))
	defer ticker.Stop()

	payload := make([]byte, c.opts.payload)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		switch r := mrand.Float32(); {
		case r < 0.4:
			_, _ = rand.Read(payload)
			start := time.Now()
			status, err := c.do(ctx, http.MethodPost, "/api/messages", u.Token, models.SendMessageRequest{
				ReceiverID:       u.Partner.UserID,
				EncryptedContent: base64.StdEncoding.EncodeToString(payload),
			}, nil)
			if err != nil || status != http.StatusCreated {
				st.failure(opSend)
				continue
			}
			st.success(opSend, time.Since(start))
		case r < 0.6 && u.conn != nil:
			_, _ = rand.Read(payload)
			data, _ := json.Marshal(models.MessageData{Content: base64.StdEncoding.EncodeToString(payload)})
			start := time.Now()
			err := u.conn.WriteJSON(models.InboundFrame{
				Type:       models.FrameMessage,
				SenderID:   u.UserID,
				ReceiverID: u.Partner.UserID,
				Data:       data,
			})
			if err != nil {
				st.failure(opSendWS)
				continue
			}
			st.success(opSendWS, time.Since(start))
		default:
			start := time.Now()
			var msgs []models.Message
			status, err := c.do(ctx, http.MethodGet, "/api/messages/"+u.Partner.UserID, u.Token, nil, &msgs)
			if err != nil || status != http.StatusOK {
				st.failure(opPull)
				continue
			}
			st.success(opPull, time.Since(start))
		}
	}
}

func (c *client) registerAll(ctx context.Context) []*user {
	runID := uuid.NewString()[:8]
	users := make([]*user, c.opts.users)

	var wg sync.WaitGroup
	sem := make(chan struct{}, c.opts.batch)
	for i := range users {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			u, err := c.register(ctx, fmt.Sprintf("lt_%s_%d", runID, i))
			if err != nil {
				c.logger.Warn("registration failed", zap.Int("user", i), zap.Error(err))
				return
			}
			users[i] = u
		}(i)
	}
	wg.Wait()

	registered := users[:0]
	for _, u := range users {
		if u != nil {
			registered = append(registered, u)
		}
	}
	return registered
}

func main() {
	var opts options
	flag.StringVar(&opts.baseURL, "url", "http://localhost:8080", "server base URL")
	flag.IntVar(&opts.users, "users", 100, "number of simulated users, paired into conversations")
	flag.Float64Var(&opts.rate, "rate", 1, "operations per second per user")
	flag.DurationVar(&opts.duration, "duration", time.Minute, "simulation length")
	flag.IntVar(&opts.batch, "batch", 50, "concurrent registrations")
	flag.IntVar(&opts.payload, "payload", 256, "ciphertext size in bytes")
	flag.Parse()

	logger, err := logging.New("info", "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if opts.users < 2 || opts.rate <= 0 || opts.batch <= 0 {
		logger.Fatal("users must be at least 2, rate and batch positive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &client{
		opts:   opts,
		http:   &http.Client{Timeout: 5 * time.Second},
		logger: logger,
	}

	start := time.Now()
	users := c.registerAll(ctx)
	logger.Info("users registered",
		zap.Int("registered", len(users)),
		zap.Int("requested", opts.users),
		zap.Duration("took", time.Since(start)))
	if len(users) < opts.users/2 || len(users) < 2 {
		logger.Fatal("too many registration failures, aborting")
	}

	if len(users)%2 == 1 {
		users = users[:len(users)-1]
	}
	for i := 0; i < len(users); i += 2 {
		users[i].Partner, users[i+1].Partner = users[i+1], users[i]
	}

	st := newStats()
	var readers sync.WaitGroup
	for _, u := range users {
		if err := c.connect(ctx, u); err != nil {
			logger.Warn("websocket connect failed", zap.String("userId", u.UserID), zap.Error(err))
			continue
		}
		readers.Add(1)
		go func(u *user) {
			defer readers.Done()
			c.readPushes(u, st)
		}(u)
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()

	logger.Info("load test started",
		zap.Int("users", len(users)),
		zap.Float64("rate", opts.rate),
		zap.Duration("duration", opts.duration))

	start = time.Now()
	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(u *user) {
			defer wg.Done()
			c.simulate(runCtx, u, st)
		}(u)
	}
	wg.Wait()
	elapsed := time.Since(start)

	for _, u := range users {
		if u.conn != nil {
			_ = u.conn.Close()
		}
	}
	readers.Wait()

	st.report(logger, elapsed)
}
