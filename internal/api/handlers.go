package api

import (
	"net/http"

	gorilla "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"cipherchat/internal/auth"
	"cipherchat/internal/config"
	"cipherchat/internal/db"
	"cipherchat/internal/dispatch"
	"cipherchat/internal/logging"
	"cipherchat/internal/presence"
	"cipherchat/internal/ratelimit"
	"cipherchat/internal/reconcile"
	"cipherchat/internal/websocket"
)

// Deps are the collaborators of Handlers.
type Deps struct {
	Store      *db.DB
	Hub        *websocket.Hub
	Reconciler *reconcile.Reconciler
	Dispatcher *dispatch.Dispatcher
	Presence   *presence.Registry
	Tokens     *auth.Tokens
	Limiter    *ratelimit.Limiter
	Gatherer   prometheus.Gatherer
	HTTP       config.HTTP
	Logger     *zap.Logger
}

type Handlers struct {
	store          *db.DB
	hub            *websocket.Hub
	reconciler     *reconcile.Reconciler
	dispatcher     *dispatch.Dispatcher
	presence       *presence.Registry
	tokens         *auth.Tokens
	limiter        *ratelimit.Limiter
	gatherer       prometheus.Gatherer
	allowedOrigins []string
	upgrader       gorilla.Upgrader
	logger         *zap.Logger
}

func NewHandlers(d Deps) *Handlers {
	h := &Handlers{
		store:          d.Store,
		hub:            d.Hub,
		reconciler:     d.Reconciler,
		dispatcher:     d.Dispatcher,
		presence:       d.Presence,
		tokens:         d.Tokens,
		limiter:        d.Limiter,
		gatherer:       d.Gatherer,
		allowedOrigins: d.HTTP.AllowedOrigins,
		logger:         logging.OrNop(d.Logger).Named("api"),
	}
	if h.gatherer == nil {
		h.gatherer = prometheus.DefaultGatherer
	}
	h.upgrader = gorilla.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Routes returns the full HTTP surface with CORS and access logging applied.
func (h *Handlers) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.HandleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	// Auth endpoints
	mux.HandleFunc("POST /api/register", h.HandleRegister)
	mux.HandleFunc("POST /api/login", h.HandleLogin)
	mux.HandleFunc("POST /api/logout", h.HandleLogout)
	mux.Handle("GET /api/user", h.WithAuth(http.HandlerFunc(h.HandleGetUser)))
	mux.Handle("DELETE /api/user", h.WithAuth(http.HandlerFunc(h.HandleDeleteUser)))

	// Contact endpoints
	mux.Handle("GET /api/contacts", h.WithAuth(http.HandlerFunc(h.HandleListContacts)))
	mux.Handle("POST /api/contacts", h.WithAuth(http.HandlerFunc(h.HandleAddContact)))
	mux.Handle("DELETE /api/contacts/{contactId}", h.WithAuth(http.HandlerFunc(h.HandleDeleteContact)))

	// Message endpoints
	mux.Handle("POST /api/messages", h.WithAuth(h.WithRateLimit(http.HandlerFunc(h.HandleSendMessage))))
	mux.Handle("GET /api/messages", h.WithAuth(http.HandlerFunc(h.HandleNoConversation)))
	mux.Handle("GET /api/messages/{contactId}", h.WithAuth(http.HandlerFunc(h.HandleGetConversation)))
	mux.Handle("DELETE /api/messages/{id}", h.WithAuth(http.HandlerFunc(h.HandleDeleteMessage)))
	mux.Handle("DELETE /api/messages/{senderId}/{receiverId}", h.WithAuth(http.HandlerFunc(h.HandleDeleteConversation)))
	mux.Handle("POST /api/messages/{id}/seen", h.WithAuth(http.HandlerFunc(h.HandleMarkSeen)))

	// WebSocket endpoint
	mux.Handle("GET /api/ws", h.WithAuth(http.HandlerFunc(h.HandleWebSocket)))

	return h.WithCORS(h.logRequest(mux))
}

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.PingContext(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}
