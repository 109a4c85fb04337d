package api

import (
	"net/http"
	"strconv"
	"strings"

	"orderdesk/cmd/internal/audit"
	"orderdesk/cmd/internal/changerequest"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) handleLinkIssue(w http.ResponseWriter, r *http.Request) {
	issued, err := h.svc.Links.IssueLink(r.Context(), chi.URLParam(r, "orderID"), h.staffID(r))
	if err != nil {
		h.writeAppError(w, r, "api.link.issue", err)
		return
	}
	status := http.StatusOK
	if issued.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, issuedResponse{
		Link:    toLinkResponse(issued.Link, h.now()),
		Created: issued.Created,
		Token:   issued.Token,
		URL:     issued.URL,
	})
}

func (h *Handler) handleLinkRegenerate(w http.ResponseWriter, r *http.Request) {
	issued, err := h.svc.Links.RegenerateLink(r.Context(), chi.URLParam(r, "orderID"), h.staffID(r))
	if err != nil {
		h.writeAppError(w, r, "api.link.regenerate", err)
		return
	}
	writeJSON(w, http.StatusCreated, issuedResponse{
		Link:    toLinkResponse(issued.Link, h.now()),
		Created: issued.Created,
		Token:   issued.Token,
		URL:     issued.URL,
	})
}

func (h *Handler) handleLinkList(w http.ResponseWriter, r *http.Request) {
	links, err := h.svc.Links.ListLinks(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeAppError(w, r, "api.link.list", err)
		return
	}
	now := h.now()
	out := linksResponse{Links: make([]linkResponse, 0, len(links))}
	for _, l := range links {
		out.Links = append(out.Links, toLinkResponse(l, now))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleLinkRevoke(w http.ResponseWriter, r *http.Request) {
	link, err := h.svc.Links.Revoke(r.Context(), chi.URLParam(r, "linkID"), h.staffID(r))
	if err != nil {
		h.writeAppError(w, r, "api.link.revoke", err)
		return
	}
	writeJSON(w, http.StatusOK, toLinkResponse(link, h.now()))
}

func (h *Handler) handleChangeRequestList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pageSize, ok := parsePageSize(q.Get("page_size"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid page_size")
		return
	}
	page, err := h.svc.ChangeRequests.List(r.Context(), changerequest.ListFilter{
		Status:    changerequest.Status(strings.ToUpper(strings.TrimSpace(q.Get("status")))),
		OrderID:   strings.TrimSpace(q.Get("order_id")),
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(q.Get("page_token")),
	})
	if err != nil {
		h.writeAppError(w, r, "api.change_request.list", err)
		return
	}
	out := changeRequestsResponse{
		ChangeRequests: make([]changeRequestResponse, 0, len(page.Requests)),
		NextPageToken:  page.NextPageToken,
	}
	for _, s := range page.Requests {
		out.ChangeRequests = append(out.ChangeRequests, toSummaryResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleChangeRequestGet(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.ChangeRequests.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeAppError(w, r, "api.change_request.get", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryResponse(s))
}

func (h *Handler) handleChangeRequestReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	cr, err := h.svc.ChangeRequests.Review(r.Context(), chi.URLParam(r, "id"),
		changerequest.Decision(req.Decision), h.staffID(r), req.Notes)
	if err != nil {
		h.writeAppError(w, r, "api.change_request.review", err)
		return
	}
	writeJSON(w, http.StatusOK, toChangeRequestResponse(cr))
}

func (h *Handler) handleAuditList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pageSize, ok := parsePageSize(q.Get("page_size"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid page_size")
		return
	}
	page, err := h.svc.Audit.Find(r.Context(), audit.Filter{
		Action:    audit.Action(q.Get("action")),
		OrderID:   q.Get("order_id"),
		PageSize:  pageSize,
		PageToken: q.Get("page_token"),
	})
	if err != nil {
		h.writeAppError(w, r, "api.audit.list", err)
		return
	}
	entries := page.Entries
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, auditResponse{Entries: entries, NextPageToken: page.NextPageToken})
}

func (h *Handler) handleAuditStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "entryID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, "not_found", "audit entry not found")
		return
	}
	var req auditStatusRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	e, err := h.svc.Audit.PatchMetadataStatus(r.Context(), id, audit.TriageStatus(req.Status))
	if err != nil {
		h.writeAppError(w, r, "api.audit.status", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func parsePageSize(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
