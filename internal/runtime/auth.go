package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mbrt/gmailctl/cmd/gmailctl/localcred"
	"google.golang.org/api/gmail/v1"

	gm "github.com/avharbor/mailsheet/internal/gmail"
)

// NewGmailClient authenticates against Gmail with the modify scope so
// messages can be listed, fetched, and marked read. cfgDir holds the
// gmailctl-style credentials and cached token.
func NewGmailClient(ctx context.Context, cfgDir string) (gm.Client, error) {
	svc, err := (localcred.Provider{}).ServiceWithScopes(ctx, cfgDir, gmail.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("gmail auth: %w", err)
	}
	return NewGmailAPIClient(svc), nil
}

func DefaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
