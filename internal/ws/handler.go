package ws

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
)

// Handler upgrades authenticated HTTP requests to gateway connections.
type Handler struct {
	hub       *Hub
	jwtSecret string
	upgrader  websocket.Upgrader
}

func NewHandler(hub *Hub, jwtSecret, allowedOrigins string) *Handler {
	return &Handler{
		hub:       hub,
		jwtSecret: jwtSecret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigins == "*" || allowedOrigins == "" {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, allowed := range strings.Split(allowedOrigins, ",") {
					if strings.TrimSpace(allowed) == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// ServeWS authenticates the Bearer token (header, or ?token= for browser
// WebSocket clients that cannot set headers), upgrades the connection and
// registers the client with the hub.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := extractToken(r)
	if token == "" {
		http.Error(w, "missing authorization token", http.StatusUnauthorized)
		return
	}
	userID, userName, err := h.validate(token)
	if err != nil {
		logger.Errorf("ws auth: %v", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade user=%s: %v", userID, err)
		return
	}

	client := NewClient(h.hub, conn, userID, userName, token)
	ctx, cancel := context.WithCancel(context.Background())
	client.Start(ctx, cancel)
	h.hub.Register(client)
}

// validate checks the HMAC signature and pulls the user identity claims.
// Ids are canonicalized: the backend signs numeric user ids.
func (h *Handler) validate(tokenString string) (userID, userName string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(h.jwtSecret), nil
	})
	if err != nil {
		return "", "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", jwt.ErrTokenInvalidClaims
	}
	userID = model.CanonicalID(claims["user_id"])
	if userID == "" {
		// Some backends use the standard subject claim instead.
		userID = model.CanonicalID(claims["sub"])
	}
	if userID == "" {
		return "", "", jwt.ErrTokenInvalidClaims
	}
	userName, _ = claims["name"].(string)
	return userID, userName, nil
}

func extractToken(r *http.Request) string {
	bearer := r.Header.Get("Authorization")
	if strings.HasPrefix(bearer, "Bearer ") {
		return strings.TrimPrefix(bearer, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
