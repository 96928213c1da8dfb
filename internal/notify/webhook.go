package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/giftbox/internal/domain/order"
)

var _ order.Notifier = (*Webhook)(nil)

// Webhook posts a {"text": ...} message to an incoming-webhook URL.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook returns a Webhook posting to url. A nil client gets an
// instrumented default with a 5s timeout.
func NewWebhook(url string, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   5 * time.Second,
		}
	}
	return &Webhook{url: url, client: client}
}

// Notify posts the order summary.
func (w *Webhook) Notify(ctx context.Context, o *order.Order) error {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("text")
	e.Str(opsText(o))
	e.ObjEnd()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(e.Bytes()))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
