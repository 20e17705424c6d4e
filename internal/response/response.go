// Package response writes the JSON envelope every API endpoint returns.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/kenneth/s3-console/internal/apperr"
)

// Envelope is the body of every API response.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// JSON writes an envelope with the given status. success is derived from
// the status code. A nil data becomes an empty object.
func JSON(w http.ResponseWriter, status int, message string, data any) {
	if data == nil {
		data = struct{}{}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{
		Success: status >= 200 && status < 300,
		Message: message,
		Data:    data,
	})
}

// OK writes a 200 envelope.
func OK(w http.ResponseWriter, message string, data any) {
	JSON(w, http.StatusOK, message, data)
}

// Error maps err through the error taxonomy and writes the envelope.
// It returns the status written.
func Error(w http.ResponseWriter, err error) int {
	resp := apperr.ToResponse(err)
	var data any
	if resp.Data != nil {
		data = resp.Data
	}
	JSON(w, resp.Status, resp.Message, data)
	return resp.Status
}
