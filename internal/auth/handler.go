package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type deleteProfileRequest struct {
	UserID string `json:"user_id"`
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	if err := h.service.Signup(r.Context(), body.Username, body.Password); err != nil {
		switch {
		case errors.Is(err, ErrInvalidFormat):
			writeError(w, http.StatusBadRequest, "Invalid username/password format")
		case errors.Is(err, ErrUsernameTaken):
			writeError(w, http.StatusConflict, "Username already exists")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "Signup failed")
		}
		return
	}

	writeSuccess(w, http.StatusCreated, "Signup successful!", nil)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	tokens, err := h.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidFormat):
			writeError(w, http.StatusBadRequest, "Invalid username/password format")
		case errors.Is(err, ErrAccountLocked):
			// No remaining-duration hint on purpose.
			writeError(w, http.StatusForbidden, "Account is locked. Try again later.")
		case errors.Is(err, ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "Login failed. Check your credentials.")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "Login failed")
		}
		return
	}

	writeSuccess(w, http.StatusOK, "Login successful!", &tokens)
}

func (h *Handler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body deleteProfileRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(body.UserID) == "" {
		writeError(w, http.StatusBadRequest, "Missing user_id")
		return
	}

	if err := h.service.DeleteAccount(r.Context(), body.UserID); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "No profile found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "Failed to delete profile")
		return
	}

	writeSuccess(w, http.StatusOK, "Profile deleted.", nil)
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body credentialsRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return credentialsRequest{}, false
	}
	if body.Username == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "Missing username or password")
		return credentialsRequest{}, false
	}

	return body, true
}

func writeSuccess(w http.ResponseWriter, status int, message string, tokens *Tokens) {
	payload := map[string]any{
		"success": true,
		"message": message,
	}
	if tokens != nil {
		payload["access_token"] = tokens.AccessToken
		payload["token_type"] = tokens.TokenType
		payload["expires_in"] = tokens.ExpiresIn
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}
