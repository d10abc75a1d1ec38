package arbiter

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPConfirmer presents ambiguous navigations by POSTing the threat
// summary to an external confirmation surface (typically the extension UI
// service) and blocking on the user's answer.
type HTTPConfirmer struct {
	client *resty.Client
	url    string
}

// NewHTTPConfirmer creates a confirmer against the given endpoint. The
// timeout bounds the whole confirmation, user think-time included.
func NewHTTPConfirmer(url string, timeout time.Duration) *HTTPConfirmer {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &HTTPConfirmer{client: client, url: url}
}

// Present implements Confirmer.
func (c *HTTPConfirmer) Present(ctx context.Context, req ConfirmRequest) (ConfirmResult, error) {
	var result ConfirmResult
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post(c.url)
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("confirmation request failed: %w", err)
	}
	if resp.IsError() {
		return ConfirmResult{}, fmt.Errorf("confirmation surface returned %s", resp.Status())
	}
	return result, nil
}
