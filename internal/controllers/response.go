package controllers

import (
	"cloutdash/internal/models"
	"errors"
	json "github.com/goccy/go-json"
	"net/http"
)

const maxRequestBodySize = 4 << 20 // 4 MB

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	gson, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(gson)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		pe *models.ParseError
		ve *models.ValidationError
		se *models.StorageError
	)
	switch {
	case errors.As(err, &pe), errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrBusy), errors.Is(err, models.ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, models.ErrUnauthenticated), errors.Is(err, models.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &se):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		resp.Error = "Internal Server Error"
	}
	writeJSON(w, status, resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &models.ParseError{Reason: "invalid request body", Err: err}
	}
	return nil
}
