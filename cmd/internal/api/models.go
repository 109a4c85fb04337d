package api

import (
	"encoding/json"
	"time"

	"orderdesk/cmd/internal/approval"
	"orderdesk/cmd/internal/audit"
	"orderdesk/cmd/internal/changerequest"
	"orderdesk/cmd/internal/magiclink"
)

type changeRequestCreateRequest struct {
	Changes json.RawMessage `json:"changes"`
	Reason  string          `json:"reason"`
}

type linkRequestCreateRequest struct {
	Message string `json:"message"`
}

type reviewRequest struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes"`
}

type auditStatusRequest struct {
	Status string `json:"status"`
}

type orderResponse struct {
	ID             string     `json:"id"`
	CustomerName   string     `json:"customer_name"`
	EventDate      *string    `json:"event_date"`
	ApprovalStatus string     `json:"approval_status"`
	IsLocked       bool       `json:"is_locked"`
	ApprovedAt     *time.Time `json:"approved_at"`
}

type magicViewResponse struct {
	Order         orderResponse `json:"order"`
	LinkExpiresAt time.Time     `json:"link_expires_at"`
}

// linkResponse never carries the token hash.
type linkResponse struct {
	ID             string     `json:"id"`
	OrderID        string     `json:"order_id"`
	Status         string     `json:"status"`
	CreatedBy      *string    `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	RevokedAt      *time.Time `json:"revoked_at"`
	LastAccessedAt *time.Time `json:"last_accessed_at"`
	AccessCount    int64      `json:"access_count"`
}

type issuedResponse struct {
	Link    linkResponse `json:"link"`
	Created bool         `json:"created"`
	Token   string       `json:"token,omitempty"`
	URL     string       `json:"url,omitempty"`
}

type linksResponse struct {
	Links []linkResponse `json:"links"`
}

type linkRequestResponse struct {
	Requested  bool   `json:"requested"`
	LinkStatus string `json:"link_status"`
}

type changeRequestResponse struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	Changes      json.RawMessage `json:"changes"`
	Reason       string          `json:"reason"`
	Status       string          `json:"status"`
	RequestedAt  time.Time       `json:"requested_at"`
	ReviewedBy   *string         `json:"reviewed_by"`
	ReviewedAt   *time.Time      `json:"reviewed_at"`
	ReviewNotes  *string         `json:"review_notes"`
	CustomerName string          `json:"customer_name,omitempty"`
	ReviewerName *string         `json:"reviewer_name,omitempty"`
}

type changeRequestsResponse struct {
	ChangeRequests []changeRequestResponse `json:"change_requests"`
	NextPageToken  string                  `json:"next_page_token,omitempty"`
}

type auditResponse struct {
	Entries       []audit.Entry `json:"entries"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

func toOrderResponse(o approval.Order) orderResponse {
	out := orderResponse{
		ID:             o.ID,
		CustomerName:   o.CustomerName,
		ApprovalStatus: string(o.ApprovalStatus),
		IsLocked:       o.IsLocked,
		ApprovedAt:     o.ApprovedAt,
	}
	if o.EventDate != nil {
		d := o.EventDate.Format(time.DateOnly)
		out.EventDate = &d
	}
	return out
}

func toLinkResponse(l magiclink.Link, now time.Time) linkResponse {
	return linkResponse{
		ID:             l.ID,
		OrderID:        l.OrderID,
		Status:         string(l.StatusAt(now)),
		CreatedBy:      l.CreatedBy,
		CreatedAt:      l.CreatedAt,
		ExpiresAt:      l.ExpiresAt,
		RevokedAt:      l.RevokedAt,
		LastAccessedAt: l.LastAccessedAt,
		AccessCount:    l.AccessCount,
	}
}

func toChangeRequestResponse(cr changerequest.ChangeRequest) changeRequestResponse {
	return changeRequestResponse{
		ID:          cr.ID,
		OrderID:     cr.OrderID,
		Changes:     cr.Changes,
		Reason:      cr.Reason,
		Status:      string(cr.Status),
		RequestedAt: cr.RequestedAt,
		ReviewedBy:  cr.ReviewedBy,
		ReviewedAt:  cr.ReviewedAt,
		ReviewNotes: cr.ReviewNotes,
	}
}

func toSummaryResponse(s changerequest.Summary) changeRequestResponse {
	out := toChangeRequestResponse(s.ChangeRequest)
	out.CustomerName = s.CustomerName
	out.ReviewerName = s.ReviewerName
	return out
}
