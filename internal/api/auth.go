package api

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"cipherchat/internal/apperr"
	"cipherchat/internal/auth"
	"cipherchat/internal/models"
)

const userIDAttempts = 5

func validateCredentials(req models.RegisterRequest) error {
	n := utf8.RuneCountInString(req.Username)
	if n < 3 || n > 32 {
		return apperr.InvalidArg("username must be between 3 and 32 characters")
	}
	if req.Username != strings.TrimSpace(req.Username) {
		return apperr.InvalidArg("username cannot start or end with whitespace")
	}
	if len(req.Password) < 6 {
		return apperr.InvalidArg("password must be at least 6 characters")
	}
	return nil
}

func (h *Handlers) setAuthCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.tokens.TTL().Seconds()),
	})
}

func clearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := validateCredentials(req); err != nil {
		h.writeError(w, r, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var user *models.User
	for attempt := 0; attempt < userIDAttempts; attempt++ {
		userID, err := auth.NewUserID()
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		user, err = h.store.CreateUser(r.Context(), userID, req.Username, hash)
		if errors.Is(err, apperr.ErrUserIDTaken) {
			continue
		}
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		break
	}
	if user == nil {
		h.writeError(w, r, apperr.Internal("failed to allocate user id", apperr.ErrUserIDTaken))
		return
	}

	token, err := h.tokens.Generate(user.UserID, user.Username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.setAuthCookie(w, token)

	h.logger.Info("user registered", zap.String("userId", user.UserID))
	writeJSON(w, http.StatusCreated, user)
}

func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if errors.Is(err, apperr.ErrUserNotFound) {
		h.writeError(w, r, apperr.ErrInvalidCredential)
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := auth.CheckPassword(user.Password, req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}

	token, err := h.tokens.Generate(user.UserID, user.Username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.setAuthCookie(w, token)

	writeJSON(w, http.StatusOK, models.LoginResponse{Token: token, User: *user})
}

func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	clearAuthCookie(w)
	writeJSON(w, http.StatusOK, models.StatusResponse{Message: "Logged out successfully"})
}

func (h *Handlers) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUserByUserID(r.Context(), callerID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleDeleteUser removes the caller's account, contacts and messages and
// ends their live session.
func (h *Handlers) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)

	deleted, err := h.store.DeleteUser(r.Context(), caller)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !deleted {
		h.writeError(w, r, apperr.ErrUserNotFound)
		return
	}

	if conn, ok := h.presence.Lookup(caller); ok {
		conn.Close()
	}
	clearAuthCookie(w)

	h.logger.Info("user deleted", zap.String("userId", caller))
	writeJSON(w, http.StatusOK, models.StatusResponse{Message: "Account deleted"})
}
