package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	dbpkg "github.com/onnwee/snapcast/db"
	"github.com/onnwee/snapcast/identity"
	"github.com/onnwee/snapcast/session"
	"github.com/onnwee/snapcast/telemetry"
)

// HandleGoogleStart initiates the Google OAuth flow by redirecting to the consent page.
func (h *Handlers) HandleGoogleStart(w http.ResponseWriter, r *http.Request) {
	if h.google == nil || h.sessions == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "Sign-in is not configured.", "SIGN_IN_UNAVAILABLE")
		return
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "Something went wrong. Please try again.", "INTERNAL")
		return
	}
	st := hex.EncodeToString(b)
	if !h.addOAuthState(st, time.Now().Add(oauthStateTTL)) {
		writeJSONError(w, http.StatusServiceUnavailable, "Sign-in is busy. Please try again.", "SIGN_IN_UNAVAILABLE")
		return
	}
	http.Redirect(w, r, h.google.AuthCodeURL(st), http.StatusFound)
}

// HandleGoogleCallback finishes the OAuth flow: it exchanges the code, checks the email,
// upserts the user and its Google account, then issues a session cookie.
func (h *Handlers) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.google == nil || h.sessions == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "Sign-in is not configured.", "SIGN_IN_UNAVAILABLE")
		return
	}
	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx)
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		telemetry.SignIn("denied")
		writeJSONError(w, http.StatusBadRequest, "Sign-in was cancelled.", "SIGN_IN_DENIED")
		return
	}
	code, st := q.Get("code"), q.Get("state")
	if code == "" || st == "" {
		writeJSONError(w, http.StatusBadRequest, "Missing code or state.", "VALIDATION_ERROR")
		return
	}
	if !h.consumeOAuthState(st) {
		telemetry.SignIn("invalid_state")
		writeJSONError(w, http.StatusBadRequest, "Sign-in expired. Please try again.", "INVALID_STATE")
		return
	}

	tok, err := h.google.Exchange(ctx, code)
	if err != nil {
		telemetry.SignIn("exchange_failed")
		log.Warn("google code exchange failed", slog.Any("err", err))
		writeJSONError(w, http.StatusBadGateway, "Could not sign in with Google. Please try again.", "SIGN_IN_FAILED")
		return
	}
	profile, err := h.google.Profile(ctx, tok)
	if err != nil {
		telemetry.SignIn("profile_failed")
		log.Warn("google userinfo failed", slog.Any("err", err))
		writeJSONError(w, http.StatusBadGateway, "Could not sign in with Google. Please try again.", "SIGN_IN_FAILED")
		return
	}
	if h.emails != nil {
		if err := h.emails.Validate(ctx, profile.Email); err != nil {
			telemetry.SignIn("invalid_email")
			var ee *identity.EmailError
			if errors.As(err, &ee) {
				log.Info("sign-in email refused", slog.String("reason", string(ee.Reason)))
			}
			writeError(w, r, err)
			return
		}
	}

	userID, err := h.accounts.UpsertUser(ctx, dbpkg.User{
		ID:            uuid.New().String(),
		Name:          profile.Name,
		Email:         profile.Email,
		Image:         profile.Picture,
		EmailVerified: profile.EmailVerified,
	})
	if err != nil {
		h.signInFailed(w, r, err)
		return
	}
	if err := h.accounts.UpsertAccount(ctx, dbpkg.Account{
		ID:                uuid.New().String(),
		UserID:            userID,
		Provider:          identity.Provider,
		ProviderAccountID: profile.ID,
		AccessToken:       tok.AccessToken,
		RefreshToken:      tok.RefreshToken,
		Expiry:            tok.Expiry,
		Scope:             h.google.Scope(tok),
	}); err != nil {
		h.signInFailed(w, r, err)
		return
	}
	token, exp, err := h.sessions.Issue(ctx, userID, clientIP(r), r.UserAgent())
	if err != nil {
		h.signInFailed(w, r, err)
		return
	}
	h.sessions.SetCookie(w, token, exp)
	telemetry.SignIn("ok")
	log.Info("user signed in", slog.String("user_id", userID))
	http.Redirect(w, r, h.cfg.BaseURL+"/", http.StatusFound)
}

func (h *Handlers) signInFailed(w http.ResponseWriter, r *http.Request, err error) {
	telemetry.SignIn("error")
	telemetry.LoggerWithCorr(r.Context()).Error("sign-in persistence failed", slog.Any("err", err))
	writeJSONError(w, http.StatusInternalServerError, "Something went wrong. Please try again.", "INTERNAL")
}

// HandleSignOut revokes the current session and clears the cookie.
func (h *Handlers) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	if h.sessions != nil {
		if tok := session.TokenFromRequest(r); tok != "" {
			if err := h.sessions.Revoke(r.Context(), tok); err != nil && !errors.Is(err, session.ErrInvalidToken) {
				telemetry.LoggerWithCorr(r.Context()).Warn("session revoke failed", slog.Any("err", err))
			}
		}
		h.sessions.ClearCookie(w)
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSession returns the signed-in identity, or a null user for anonymous callers.
func (h *Handlers) HandleSession(w http.ResponseWriter, r *http.Request) {
	id, ok := session.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"user": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]string{
			"id":    id.UserID,
			"name":  id.Name,
			"email": id.Email,
			"image": id.Image,
		},
		"expiresAt": id.ExpiresAt,
	})
}
