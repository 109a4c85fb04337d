package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) handleMagicView(w http.ResponseWriter, r *http.Request) {
	order, link, err := h.svc.Orders.GetOrder(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.writeAppError(w, r, "api.magic.view", err)
		return
	}
	writeJSON(w, http.StatusOK, magicViewResponse{
		Order:         toOrderResponse(order),
		LinkExpiresAt: link.ExpiresAt,
	})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.Orders.Approve(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.writeAppError(w, r, "api.order.approve", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.Orders.Reject(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.writeAppError(w, r, "api.order.reject", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) handleChangeRequestCreate(w http.ResponseWriter, r *http.Request) {
	var req changeRequestCreateRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	cr, err := h.svc.ChangeRequests.Create(r.Context(), chi.URLParam(r, "token"), req.Changes, req.Reason)
	if err != nil {
		h.writeAppError(w, r, "api.change_request.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, toChangeRequestResponse(cr))
}

func (h *Handler) handleLinkRequest(w http.ResponseWriter, r *http.Request) {
	var req linkRequestCreateRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	link, err := h.svc.Links.RequestNewLink(r.Context(), chi.URLParam(r, "token"), req.Message)
	if err != nil {
		h.writeAppError(w, r, "api.link.request", err)
		return
	}
	writeJSON(w, http.StatusAccepted, linkRequestResponse{
		Requested:  true,
		LinkStatus: string(link.StatusAt(h.now())),
	})
}
