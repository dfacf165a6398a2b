package push

import (
	"context"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
)

// Sender is the push-delivery transport: it takes the encrypted payload to
// one endpoint and returns the service's HTTP response.
type Sender interface {
	Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender delivers through the Web Push protocol.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotificationWithContext(ctx, payload, sub, options)
}
