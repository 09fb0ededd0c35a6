package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/morezero/streamcall/pkg/callerr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to write response: %v", logPrefix, err))
	}
}

// statusFor maps an error code to an HTTP status.
func statusFor(d *callerr.ErrorDetail) int {
	if d == nil {
		return http.StatusOK
	}
	switch d.Code {
	case callerr.CodeInvalid, callerr.CodeCodec:
		return http.StatusBadRequest
	case callerr.CodeResolution:
		return http.StatusNotFound
	case callerr.CodeEvtReused:
		return http.StatusConflict
	case callerr.CodeOffload:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, d *callerr.ErrorDetail) {
	writeJSON(w, statusFor(d), map[string]any{"err": d})
}
