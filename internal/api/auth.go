package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Kenox00/door-lock-sub001/internal/auth"
	"github.com/Kenox00/door-lock-sub001/internal/notify"
)

const (
	// ticketTTL is how long a WebSocket ticket is valid.
	ticketTTL = 60 * time.Second

	// defaultTokenTTL applies when security.jwt.access_token_ttl is unset.
	defaultTokenTTL = 15 * time.Minute
)

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is the response body for POST /auth/login.
type loginResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresIn   int        `json:"expires_in"`
	User        *auth.User `json:"user"`
}

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	mu      sync.Mutex
	tickets map[string]ticketEntry
}

type ticketEntry struct {
	identity  notify.Identity
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry)}
}

// issue stores a new ticket for id.
func (t *ticketStore) issue(id notify.Identity, now time.Time) string {
	ticket := generateTicket()
	t.mu.Lock()
	t.tickets[ticket] = ticketEntry{identity: id, expiresAt: now.Add(ticketTTL)}
	t.mu.Unlock()
	return ticket
}

// redeem consumes a ticket and returns its identity if it has not expired.
func (t *ticketStore) redeem(ticket string, now time.Time) (notify.Identity, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.tickets[ticket]
	if !ok {
		return notify.Identity{}, false
	}
	delete(t.tickets, ticket)
	if !now.Before(entry.expiresAt) {
		return notify.Identity{}, false
	}
	return entry.identity, true
}

// sweep removes expired tickets.
func (t *ticketStore) sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ticket, entry := range t.tickets {
		if !now.Before(entry.expiresAt) {
			delete(t.tickets, ticket)
		}
	}
}

// handleLogin authenticates an account and returns a JWT access token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	user, err := auth.Authenticate(r.Context(), s.users, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrUserInactive) {
			s.logger.Warn("login failed", "username", req.Username, "remote_addr", r.RemoteAddr)
			writeUnauthorized(w, "invalid credentials")
			return
		}
		s.logger.Error("login lookup failed", "error", err)
		writeInternalError(w, "login failed")
		return
	}

	ttl := time.Duration(s.secCfg.JWT.AccessTokenTTL) * time.Minute
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	token, err := auth.GenerateAccessToken(user, s.secCfg.JWT.Secret, ttl)
	if err != nil {
		s.logger.Error("token generation failed", "error", err)
		writeInternalError(w, "failed to generate token")
		return
	}

	s.auditLog("login", "", "", user.ID, map[string]any{"username": user.Username})

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(ttl.Seconds()),
		User:        user,
	})
}

// handleMe returns the authenticated account and its permissions.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	user, err := s.users.GetByID(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeUnauthorized(w, "account no longer exists")
			return
		}
		s.logger.Error("get current user failed", "error", err)
		writeInternalError(w, "failed to load account")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":        user,
		"permissions": auth.PermissionsForRole(claims.Role),
	})
}

// handleWSTicket issues a single-use ticket for the dashboard WebSocket, so
// the JWT never appears in a URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	ticket := s.tickets.issue(notify.Identity{UserID: claims.Subject, Role: claims.Role}, time.Now())

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

// cleanTicketsLoop sweeps expired tickets until the context is cancelled.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tickets.sweep(now)
		}
	}
}
