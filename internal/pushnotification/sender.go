package pushnotification

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/opshub/bridge/internal/config"
	"github.com/opshub/bridge/internal/pushsubscription"
)

// NotificationPayload is the JSON document the service worker receives.
type NotificationPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// notificationTTL is how long the push service may hold an undelivered
// notification before discarding it.
const notificationTTL = 86400

// Sender fans a payload out to every registered browser subscription.
// Delivery is best effort: failures are logged, never returned, and
// endpoints the push service reports gone are unregistered on the spot.
type Sender struct {
	repo pushsubscription.Repository
	opts webpush.Options
}

func NewSender(vapidEnv *config.VAPIDEnv, repo pushsubscription.Repository) *Sender {
	return &Sender{
		repo: repo,
		opts: webpush.Options{
			VAPIDPublicKey:  vapidEnv.VAPIDPublicKey,
			VAPIDPrivateKey: vapidEnv.VAPIDPrivateKey,
			Subscriber:      vapidEnv.VAPIDContact,
			TTL:             notificationTTL,
		},
	}
}

// Enabled reports whether a VAPID key pair is configured. Without one
// the sender drops every payload.
func (s *Sender) Enabled() bool {
	return s.opts.VAPIDPublicKey != "" && s.opts.VAPIDPrivateKey != ""
}

func (s *Sender) SendToAll(ctx context.Context, payload *NotificationPayload) {
	if !s.Enabled() {
		slog.Warn("push: VAPID keys not configured, dropping notification", "title", payload.Title)
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("push: failed to marshal payload", "error", err)
		return
	}
	subs, err := s.repo.List(ctx)
	if err != nil {
		slog.Error("push: failed to list subscriptions", "error", err)
		return
	}

	for _, sub := range subs {
		if gone := s.send(sub, body); gone {
			slog.Info("push: subscription expired, removing", "endpoint", sub.Endpoint)
			if err := s.repo.Delete(ctx, sub.ID); err != nil {
				slog.Error("push: failed to delete expired subscription", "id", sub.ID, "error", err)
			}
		}
	}
}

// send pushes one payload and reports whether the subscription is gone
// at the push service and should be dropped.
func (s *Sender) send(sub *pushsubscription.Subscription, body []byte) bool {
	resp, err := webpush.SendNotification(body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dhKey, Auth: sub.AuthKey},
	}, &s.opts)
	if err != nil {
		slog.Error("push: failed to send", "endpoint", sub.Endpoint, "error", err)
		return false
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone:
		return true
	case resp.StatusCode >= 400:
		slog.Warn("push: push service rejected notification", "endpoint", sub.Endpoint, "status", resp.StatusCode)
	}
	return false
}
