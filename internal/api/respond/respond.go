// Package respond writes JSON responses in the shared API envelope.
package respond

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Envelope is the standard API response wrapper used across handlers.
type Envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// JSON writes a success or informational response using the common envelope.
func JSON(w http.ResponseWriter, logger *zap.Logger, status int, message string, data any) {
	var raw json.RawMessage
	if data != nil {
		var err error
		if raw, err = json.Marshal(data); err != nil {
			logger.Error("respond: encode data failed", zap.Error(err))
			Error(w, logger, http.StatusInternalServerError, "internal error")
			return
		}
	}
	write(w, logger, status, Envelope{Code: status, Message: message, Data: raw})
}

// Error writes an error response with the shared envelope structure.
func Error(w http.ResponseWriter, logger *zap.Logger, status int, message string) {
	write(w, logger, status, Envelope{Code: status, Message: message})
}

// Decode reads an envelope and unmarshals its data into v. v may be nil.
func Decode(body []byte, v any) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, err
	}
	if v != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, v); err != nil {
			return env, err
		}
	}
	return env, nil
}

func write(w http.ResponseWriter, logger *zap.Logger, status int, payload Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("respond: encode payload failed", zap.Error(err))
	}
}
