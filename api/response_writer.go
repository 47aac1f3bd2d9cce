package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"imageeditor/archive"
	"imageeditor/editor"
)

func respondWithJSON(w http.ResponseWriter, status int, data interface{}) {
	jsonBody, err := json.Marshal(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(jsonBody)
}

func respondWithError(w http.ResponseWriter, status int, detail string) {
	respondWithJSON(w, status, ErrorResponse{Detail: detail})
}

// respondWithFailure maps err to a status and detail. Unclassified errors are
// reported as "<prefix>: <err>".
func respondWithFailure(w http.ResponseWriter, r *http.Request, prefix string, err error) {
	status := http.StatusInternalServerError
	detail := prefix + ": " + err.Error()

	switch {
	case errors.Is(err, errUploadTooLarge), errors.Is(err, editor.ErrImageTooLarge):
		status, detail = http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, errMissingField), errors.Is(err, errInvalidBody):
		status, detail = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, editor.ErrInvalidInput):
		status, detail = http.StatusBadRequest, err.Error()
	case errors.Is(err, editor.ErrModelNotFound):
		status, detail = http.StatusNotFound, editor.ErrModelNotFound.Error()
	case errors.Is(err, editor.ErrTokenizerNotFound):
		status, detail = http.StatusNotFound, editor.ErrTokenizerNotFound.Error()
	case errors.Is(err, archive.ErrImageNotFound):
		status, detail = http.StatusNotFound, "Image not found"
	case errors.Is(err, editor.ErrBackendUnavailable):
		detail = editor.ErrBackendUnavailable.Error()
	case errors.Is(err, editor.ErrVisionUnavailable):
		detail = editor.ErrVisionUnavailable.Error()
	case errors.Is(err, editor.ErrCaptionUnavailable):
		detail = editor.ErrCaptionUnavailable.Error()
	}

	event := hlog.FromRequest(r).Warn()
	if status >= http.StatusInternalServerError {
		event = hlog.FromRequest(r).Error()
	}
	event.Err(err).Int("status", status).Msg(prefix)

	respondWithError(w, status, detail)
}
