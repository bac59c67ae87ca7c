package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"songmill/core/ingest"
	"songmill/logger"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("failed to encode response", logger.ErrorField(err))
	}
}

// writeIngestError maps the typed pipeline error to a status code and a
// sanitized message. Diagnostic detail stays in the logs.
func writeIngestError(w http.ResponseWriter, err error) {
	var e *ingest.Error
	status := http.StatusInternalServerError
	message := "internal error"

	if errors.As(err, &e) {
		message = e.Message
		switch e.Kind {
		case ingest.KindValidation:
			status = http.StatusBadRequest
			if e.Reason == ingest.ReasonPayloadTooLarge {
				status = http.StatusRequestEntityTooLarge
			}
		case ingest.KindNotFound:
			status = http.StatusNotFound
		case ingest.KindDuplicate, ingest.KindAlreadyInProgress:
			status = http.StatusConflict
		case ingest.KindBackpressure:
			status = http.StatusServiceUnavailable
		case ingest.KindRemoteFetch:
			status = http.StatusBadGateway
		case ingest.KindCanceled:
			// Client went away; 499 is conventional but non-standard.
			status = http.StatusServiceUnavailable
		case ingest.KindTranscode, ingest.KindUpload, ingest.KindPersistence:
			status = http.StatusInternalServerError
			message = "failed to process the song"
		}
	}

	writeJSON(w, status, map[string]string{
		"error":  message,
		"reason": ingest.ReasonOf(err),
	})
}
