package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chicken-store/orders-api/internal/platform/auth"
	"github.com/chicken-store/orders-api/internal/platform/httpx"
	"github.com/chicken-store/orders-api/internal/platform/observability"
	"github.com/chicken-store/orders-api/internal/platform/realtime"
)

// RealtimeHandlers upgrades authenticated clients onto the realtime hub.
type RealtimeHandlers struct {
	authn    *auth.Authenticator
	hub      *realtime.Hub
	channels realtime.Channels
	upgrader websocket.Upgrader
}

// RealtimeHandlerOption customises the websocket gateway.
type RealtimeHandlerOption func(*RealtimeHandlers)

// WithAllowedOrigins restricts browser origins. Empty accepts any origin.
func WithAllowedOrigins(origins ...string) RealtimeHandlerOption {
	return func(h *RealtimeHandlers) {
		allowed := make(map[string]struct{}, len(origins))
		for _, origin := range origins {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowed[strings.ToLower(origin)] = struct{}{}
			}
		}
		if len(allowed) == 0 {
			return
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			_, ok := allowed[strings.ToLower(u.Scheme+"://"+u.Host)]
			return ok
		}
	}
}

// NewRealtimeHandlers constructs the websocket gateway.
func NewRealtimeHandlers(authn *auth.Authenticator, hub *realtime.Hub, channels realtime.Channels, opts ...RealtimeHandlerOption) *RealtimeHandlers {
	h := &RealtimeHandlers{
		authn:    authn,
		hub:      hub,
		channels: channels,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers GET /ws.
func (h *RealtimeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.serve)
}

func (h *RealtimeHandlers) serve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.hub == nil || h.authn == nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeUnavailable, "realtime gateway unavailable", http.StatusServiceUnavailable))
		return
	}

	// Browsers cannot set headers on websocket requests, so the token may ride in the query.
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		if header := r.Header.Get("Authorization"); len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
			token = strings.TrimSpace(header[7:])
		}
	}
	identity, err := h.authn.Authenticate(ctx, token)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeUnauthenticated, "authentication required", http.StatusUnauthorized))
		return
	}

	channels := []string{h.channels.User(identity.UID)}
	if identity.IsSeller() {
		channels = append(channels, h.channels.Sellers())
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	logger := observability.FromContext(ctx).With(zap.String("uid", identity.UID))
	logger.Info("realtime client connected", zap.Strings("channels", channels))
	if err := h.hub.Serve(ctx, conn, channels); err != nil && !errors.Is(err, realtime.ErrHubClosed) {
		logger.Warn("realtime client closed with error", zap.Error(err))
		return
	}
	logger.Info("realtime client disconnected")
}
