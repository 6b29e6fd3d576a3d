package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/picrelay/picrelay/shared/api"
	"github.com/picrelay/picrelay/shared/domain"
	internal_errors "github.com/picrelay/picrelay/shared/errors"
	"github.com/picrelay/picrelay/shared/utils"
)

// ListChannels answers with every channel the caller's credential can see.
// Listing is advisory: a failing chat service yields an empty list.
func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	client, err := h.clients.ForUser(r.Context(), user.Id)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	channels := client.ListChannels(r.Context())
	if channels == nil {
		channels = []domain.Channel{}
	}
	utils.WriteJSON(w, http.StatusOK, api.ChannelsResponse{Channels: channels})
}

func (h *Handler) JoinChannel(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	channelID := chi.URLParam(r, "id")
	if channelID == "" {
		utils.WriteErrorAndStatusCode(w, internal_errors.NewValidation("channel id is required"))
		return
	}
	client, err := h.clients.ForUser(r.Context(), user.Id)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	if err := client.JoinChannel(r.Context(), channelID); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	utils.WriteMessage(w, "Joined channel "+channelID)
}
