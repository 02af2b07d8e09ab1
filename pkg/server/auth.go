package server

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/harun/joe/internal/observability"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	cookieName = "joe_session"
	issuer     = "joe"
)

// sessionClaims are carried by the session cookie
type sessionClaims struct {
	jwt.RegisteredClaims
}

// tokenIssuer signs and verifies session cookies
type tokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func newTokenIssuer(secret string, ttl time.Duration) *tokenIssuer {
	return &tokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token and its expiry
func (t *tokenIssuer) Issue() (string, time.Time, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate session id: %w", err)
	}

	now := t.now()
	expires := now.Add(t.ttl)
	claims := &sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, expires, nil
}

// Verify parses a token and returns its claims
func (t *tokenIssuer) Verify(raw string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid session token")
	}
	return claims, nil
}

// AuthGate sends unauthenticated requests to the login page and marks gated
// responses as uncacheable
type AuthGate struct {
	allow  []string
	tokens *tokenIssuer
	// open disables the gate when no password is configured
	open bool
}

func (g *AuthGate) allowed(path string) bool {
	for _, p := range g.allow {
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

func (g *AuthGate) authenticated(r *http.Request) bool {
	if g.open {
		return true
	}
	cookie, err := r.Cookie(cookieName)
	if err != nil || cookie.Value == "" {
		return false
	}
	_, err = g.tokens.Verify(cookie.Value)
	return err == nil
}

// Wrap applies the gate to next
func (g *AuthGate) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authed := g.authenticated(r)

		if r.URL.Path == "/login" {
			if authed && r.Method == http.MethodGet {
				http.Redirect(w, r, "/chat", http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		if g.allowed(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		noCache(w.Header())
		if !authed {
			if isAPIPath(r.URL.Path) {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "Login required")
				return
			}
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isAPIPath(path string) bool {
	return strings.HasPrefix(path, "/api/") || path == "/ws"
}

func noCache(h http.Header) {
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}

// sameOrigin accepts WebSocket upgrades from pages served by this host
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

type loginRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var password string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "BadRequest", "Invalid request body")
			return
		}
		password = req.Password
	} else {
		password = r.PostFormValue("password")
	}

	if s.opts.LoginPassword == "" {
		http.Redirect(w, r, "/chat", http.StatusSeeOther)
		return
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(s.opts.LoginPassword)) != 1 {
		s.logger.Warn().Str("ip", r.RemoteAddr).Msg("Login failed")
		observability.RecordSecurityAudit(r.Context(), "login", r.RemoteAddr, observability.StatusFailure, nil)
		writeError(w, http.StatusUnauthorized, "Unauthorized", "Wrong password")
		return
	}

	token, expires, err := s.gate.tokens.Issue()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to issue session token")
		writeError(w, http.StatusInternalServerError, "Internal", "Login failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	s.logger.Info().Str("ip", r.RemoteAddr).Msg("Login succeeded")
	observability.RecordSecurityAudit(r.Context(), "login", r.RemoteAddr, observability.StatusSuccess, nil)
	http.Redirect(w, r, "/chat", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	observability.RecordSecurityAudit(r.Context(), "logout", r.RemoteAddr, observability.StatusSuccess, nil)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
