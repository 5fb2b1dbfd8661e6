package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/poiesic/docingest/ai"
)

func newHTTPClient(config *ai.Config) *http.Client {
	return &http.Client{Timeout: config.RequestTimeout}
}

// restoreContextError re-attaches context errors that the langchaingo
// client flattens into plain strings, so callers can match them with
// errors.Is.
func restoreContextError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "request timeout") {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	if strings.Contains(msg, "request cancelled") {
		return fmt.Errorf("%w: %w", context.Canceled, err)
	}
	return err
}
