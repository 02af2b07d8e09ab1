package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/harun/joe/internal/observability"
	"github.com/harun/joe/internal/tracing"
)

// avatarTokenResponse is the upstream body of streaming.create_token
type avatarTokenResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}

// handleAvatarToken exchanges the server-held avatar key for a short-lived
// streaming token. One upstream call, no retry.
func (s *Server) handleAvatarToken(w http.ResponseWriter, r *http.Request) {
	ctx := tracing.NewRequestContext(r.Context())
	logger := tracing.LoggerFromContext(ctx, s.logger)

	if s.opts.AvatarAPIKey == "" {
		s.metrics.RecordAvatarToken("unconfigured")
		writeError(w, http.StatusServiceUnavailable, "Unavailable", "Avatar is not configured")
		return
	}

	token, err := s.fetchAvatarToken(r)
	if err != nil {
		s.metrics.RecordAvatarToken("error")
		observability.RecordSecurityAudit(ctx, "avatar_token", r.RemoteAddr, observability.StatusFailure, nil)
		logger.Error().Err(err).Msg("Failed to fetch avatar token")
		writeError(w, http.StatusBadGateway, "AvatarTokenFailed", "Could not start the avatar")
		return
	}

	s.metrics.RecordAvatarToken("ok")
	observability.RecordSecurityAudit(ctx, "avatar_token", r.RemoteAddr, observability.StatusSuccess, nil)
	noCache(w.Header())
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) fetchAvatarToken(r *http.Request) (string, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, s.opts.AvatarTokenURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("x-api-key", s.opts.AvatarAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call avatar service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read avatar response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("avatar service returned %d", resp.StatusCode)
	}

	var parsed avatarTokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse avatar response: %w", err)
	}
	if parsed.Data.Token == "" {
		return "", fmt.Errorf("avatar response has no token")
	}
	return parsed.Data.Token, nil
}
