package gmail

import "context"

// Client is the narrow Gmail surface required by mailsheet.
type Client interface {
	ListUnread(ctx context.Context, pageToken string, pageSize int) (Page, error)
	GetDetail(ctx context.Context, id MessageID) (Detail, error)
	MarkRead(ctx context.Context, id MessageID) error
}
