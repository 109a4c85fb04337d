package changerequest

import "context"

// Store is the persistence boundary for change requests.
type Store interface {
	// CreateChangeRequest inserts a PENDING request. ErrOrderNotFound when the order is missing.
	CreateChangeRequest(ctx context.Context, in ChangeRequest) (ChangeRequest, error)
	// ReviewChangeRequest applies in only while the request is PENDING.
	// It returns ErrNotPending for reviewed requests and ErrNotFound for missing ones.
	ReviewChangeRequest(ctx context.Context, in ReviewRecord) (ChangeRequest, error)
	GetChangeRequest(ctx context.Context, id string) (Summary, error)
	// ListChangeRequests pages by id descending. PageToken is the last id of the previous page.
	ListChangeRequests(ctx context.Context, f ListFilter) (Page, error)
}
