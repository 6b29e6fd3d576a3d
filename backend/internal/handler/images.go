package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/picrelay/picrelay/backend/internal/imaging"
	"github.com/picrelay/picrelay/shared/api"
	internal_errors "github.com/picrelay/picrelay/shared/errors"
	"github.com/picrelay/picrelay/shared/logger"
	"github.com/picrelay/picrelay/shared/utils"
)

const default_page int = 1

const immutableCache = "public, max-age=31536000, immutable"

func (h *Handler) ListImages(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	page, err := queryInt(r, "page", default_page)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	limit, err := queryInt(r, "limit", h.cfg.Public.DefaultPageLimit)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	result, err := h.gateway.Paginate(r.Context(), user.Id, page, limit)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) ProxyImage(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	imageURL := r.URL.Query().Get("imageUrl")
	if imageURL == "" {
		utils.WriteErrorAndStatusCode(w, internal_errors.NewValidation("imageUrl is required"))
		return
	}
	size := imaging.ParseSize(r.URL.Query().Get("size"))

	data, err := h.gateway.FetchImage(r.Context(), user.Id, imageURL, size)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	w.Header().Set("Content-Type", imaging.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", immutableCache)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var body api.DownloadRequest
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	filename := fmt.Sprintf("images-%s.zip", time.Now().UTC().Format("20060102-150405"))
	out := &attachmentWriter{w: w, filename: filename}
	if err := h.gateway.DownloadMany(r.Context(), user.Id, body.Files, out); err != nil {
		if !out.started {
			utils.WriteErrorAndStatusCode(w, err)
			return
		}
		// the status line is gone, the client sees a truncated archive
		logger.Log.Error("zip download aborted", "user_id", user.Id, "error", err)
	}
}

// attachmentWriter sends the attachment headers on the first write, so errors
// raised before any archive byte exists still get a proper error response.
type attachmentWriter struct {
	w        http.ResponseWriter
	filename string
	started  bool
}

func (a *attachmentWriter) Write(p []byte) (int, error) {
	if !a.started {
		a.started = true
		a.w.Header().Set("Content-Type", "application/zip")
		a.w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.filename))
		a.w.WriteHeader(http.StatusOK)
	}
	return a.w.Write(p)
}
