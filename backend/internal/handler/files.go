package handler

import (
	"net/http"

	"github.com/picrelay/picrelay/shared/api"
	"github.com/picrelay/picrelay/shared/utils"
)

func (h *Handler) DeleteFiles(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var body api.DeleteRequest
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	msg, err := h.deletion.Delete(r.Context(), user.Id, body.Files)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	utils.WriteMessage(w, msg)
}
