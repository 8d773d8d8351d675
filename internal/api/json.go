package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("api: json encode failed", slog.String("error", err.Error()))
	}
}

// errResponse is the body of every non-2xx reply. Code is a stable
// snake_case form of the status, e.g. "unprocessable_entity".
type errResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeErrorJSON(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errResponse{Error: msg, Code: errorCode(status)})
}

func errorCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "error"
	}
	return strings.ToLower(strings.ReplaceAll(text, " ", "_"))
}
