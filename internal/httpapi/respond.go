package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/rigwatch/rigwatch/internal/errors"
	"github.com/rigwatch/rigwatch/internal/repository"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		writeJSON(w, statusFor(appErr), errorBody{Error: appErr.Message, Code: appErr.Code})
		return
	}

	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
}

func statusFor(err *apperrors.AppError) int {
	switch err.Code {
	case "E100":
		return http.StatusBadRequest
	case "E110":
		return http.StatusUnauthorized
	case "E300", "E310":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func notFoundOK(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
