package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/picrelay/picrelay/backend/internal/service"
	internal_errors "github.com/picrelay/picrelay/shared/errors"
	"github.com/picrelay/picrelay/shared/logger"
	"github.com/picrelay/picrelay/shared/utils"
	"github.com/picrelay/picrelay/shared/validation"
)

// Upload accepts one batch of an upload session. The batch flagged
// isLastBatch triggers delivery of the whole session.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		utils.WriteErrorAndStatusCode(w, internal_errors.ErrNothingSubmitted)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.UploadTimeout())
	defer cancel()

	if err := validation.ValidateAndParseMultipart(r, w, h.cfg.Public.MaxRequestSize); err != nil {
		maxSizeMB := validation.FormatSizeMB(h.cfg.Public.MaxRequestSize)
		utils.WriteErrorAndStatusCode(w, intakeError(fmt.Errorf("%w: request exceeds the limit of %.0f MB", validation.ErrPayloadTooLarge, maxSizeMB)))
		return
	}
	defer r.MultipartForm.RemoveAll()

	form := r.MultipartForm
	headers := form.File["files"]
	if len(form.Value) == 0 && len(headers) == 0 {
		utils.WriteErrorAndStatusCode(w, internal_errors.ErrNothingSubmitted)
		return
	}
	if len(headers) > h.cfg.Public.MaxFilesPerRequest {
		utils.WriteErrorAndStatusCode(w, intakeError(fmt.Errorf("%w: at most %d files per request", validation.ErrTooManyFiles, h.cfg.Public.MaxFilesPerRequest)))
		return
	}

	batch := service.Batch{
		UserID:    user.Id,
		SessionID: r.FormValue("sessionID"),
		Channel:   r.FormValue("channel"),
		Comment:   r.FormValue("comment"),
	}
	if raw := r.FormValue("messageBatchSize"); raw != "" {
		size, err := parseIntParam(raw, "messageBatchSize")
		if err != nil {
			utils.WriteErrorAndStatusCode(w, err)
			return
		}
		batch.MessageBatchSize = size
	}
	if raw := r.FormValue("isLastBatch"); raw != "" {
		last, err := strconv.ParseBool(raw)
		if err != nil {
			utils.WriteErrorAndStatusCode(w, internal_errors.NewValidation("invalid isLastBatch: must be a boolean"))
			return
		}
		batch.IsLastBatch = last
	}

	files, err := validation.ValidateImages(headers, h.cfg.Public.AllowedImageMimeTypes, form.Value["lastModified"])
	if err != nil {
		utils.WriteErrorAndStatusCode(w, intakeError(err))
		return
	}
	batch.Files = files

	msg, err := h.uploads.Receive(ctx, batch)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	utils.WriteMessage(w, msg)
}

// UploadProgress streams a session's delivery progress as server-sent events.
// The stream ends after the complete event, when the session finishes, or
// when the client goes away.
func (h *Handler) UploadProgress(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	sessionID := r.URL.Query().Get("sessionID")
	if sessionID == "" {
		utils.WriteErrorAndStatusCode(w, internal_errors.NewValidation("sessionID is required"))
		return
	}

	rc := http.NewResponseController(w)
	// the stream outlives the server's write timeout
	_ = rc.SetWriteDeadline(time.Time{})

	sub := h.progress.Subscribe(user.Id, sessionID)
	defer sub.Close()

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logger.Log.Error("progress stream cannot flush", "session_id", sessionID, "error", err)
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case update, ok := <-sub.Events():
			if !ok {
				return
			}
			payload, err := json.Marshal(update)
			if err != nil {
				logger.Log.Error("failed to encode progress", "session_id", sessionID, "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
