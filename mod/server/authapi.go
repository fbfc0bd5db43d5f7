package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.edgegate.dev/edgegate/mod/auth"
	"go.edgegate.dev/edgegate/mod/netutils"
)

// handleLogin implements POST /auth/login: exchange a basic credential
// for a fresh access/refresh token pair. Login attempts are rate
// limited per caller IP under the "login" op, independent of the
// generic requireAdmin wrapper since a login attempt is itself the
// credential presentation, not something to gate behind one.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ip := netutils.GetRequesterIP(r, s.Reloader.Current().Policy.TrustedProxies)
	if ok, blockedFor := s.AdminLimiter.Check(ip, "login", s.Clock.Now()); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(blockedFor/time.Second)))
		writeError(w, http.StatusTooManyRequests, "too many attempts")
		return
	}

	user, pass, ok := r.BasicAuth()
	if !ok || !s.Gate.Secret.Verify(user, pass) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	access, refresh, expiresIn, err := s.Tokens.IssuePair(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  access,
		"refresh_token": refresh,
		"expires_in":    expiresIn,
	})
}

// handleRefresh implements POST /auth/refresh: bearer(refresh) only.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ip := netutils.GetRequesterIP(r, s.Reloader.Current().Policy.TrustedProxies)
	if ok, blockedFor := s.AdminLimiter.Check(ip, "refresh", s.Clock.Now()); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(blockedFor/time.Second)))
		writeError(w, http.StatusTooManyRequests, "too many attempts")
		return
	}

	token, ok := bearerFromHeader(r.Header.Get("Authorization"))
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	claims, err := s.Tokens.Verify(token, auth.TokenRefresh)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	access, refresh, expiresIn, err := s.Tokens.IssuePair(claims.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  access,
		"refresh_token": refresh,
		"expires_in":    expiresIn,
	})
}

// handleKeys implements GET/POST /auth/keys.
func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{"keys": s.Keys.List()})
	case http.MethodPost:
		name := r.URL.Query().Get("name")
		rec, plaintext, err := s.Keys.Create(name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "key creation failed")
			return
		}
		s.recordAdmin(r, netutils.GetRequesterIP(r, s.Reloader.Current().Policy.TrustedProxies), "apikey", "outcome=created key_id="+rec.KeyID)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"key_id": rec.KeyID,
			"secret": plaintext,
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleKeyByID implements POST /auth/keys/{id}/revoke and
// DELETE /auth/keys/{id}.
func (s *Server) handleKeyByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/auth/keys/")

	if strings.HasSuffix(rest, "/revoke") && r.Method == http.MethodPost {
		id := strings.TrimSuffix(rest, "/revoke")
		if err := s.Keys.Revoke(id); err != nil {
			writeError(w, http.StatusNotFound, "key not found")
			return
		}
		s.recordAdmin(r, netutils.GetRequesterIP(r, s.Reloader.Current().Policy.TrustedProxies), "apikey", "outcome=revoked key_id="+id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.Keys.Delete(rest); err != nil {
			writeError(w, http.StatusNotFound, "key not found")
			return
		}
		s.recordAdmin(r, netutils.GetRequesterIP(r, s.Reloader.Current().Policy.TrustedProxies), "apikey", "outcome=deleted key_id="+rest)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func bearerFromHeader(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}
