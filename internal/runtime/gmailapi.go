// internal/runtime/gmailapi.go — adapts *gmail.Service to our small interface
package runtime

import (
	"context"

	"google.golang.org/api/gmail/v1"

	gm "github.com/avharbor/mailsheet/internal/gmail"
)

type gmailClient struct{ svc *gmail.Service }

func NewGmailAPIClient(svc *gmail.Service) *gmailClient { return &gmailClient{svc} }

func (g *gmailClient) ListUnread(ctx context.Context, pageToken string, pageSize int) (gm.Page, error) {
	call := g.svc.Users.Messages.List("me").Q("is:unread").MaxResults(int64(pageSize))
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Context(ctx).Do()
	if err != nil {
		return gm.Page{}, err
	}
	page := gm.Page{NextPageToken: res.NextPageToken}
	for _, m := range res.Messages {
		page.Candidates = append(page.Candidates, gm.Candidate{ID: gm.MessageID(m.Id), Unread: true})
	}
	return page, nil
}

func (g *gmailClient) GetDetail(ctx context.Context, id gm.MessageID) (gm.Detail, error) {
	msg, err := g.svc.Users.Messages.Get("me", string(id)).Format("full").Context(ctx).Do()
	if err != nil {
		return gm.Detail{}, err
	}
	d := gm.Detail{ID: id, Headers: map[string]string{}}
	if msg.Payload != nil {
		for _, hd := range msg.Payload.Headers {
			d.Headers[hd.Name] = hd.Value
		}
		d.Payload = toPart(msg.Payload)
	}
	return d, nil
}

func (g *gmailClient) MarkRead(ctx context.Context, id gm.MessageID) error {
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{"UNREAD"}}
	_, err := g.svc.Users.Messages.Modify("me", string(id), req).Context(ctx).Do()
	return err
}

func toPart(p *gmail.MessagePart) gm.Part {
	out := gm.Part{MimeType: p.MimeType}
	if p.Body != nil {
		out.Body = p.Body.Data
	}
	for _, child := range p.Parts {
		out.Parts = append(out.Parts, toPart(child))
	}
	return out
}

var _ gm.Client = (*gmailClient)(nil)
