package pushsubscription

import "time"

// Subscription is one browser push target, captured verbatim from the
// PushSubscription object the client registers. The endpoint URL is
// unique per browser profile and doubles as the key for unregistration.
type Subscription struct {
	ID        string    `json:"id"`
	Endpoint  string    `json:"endpoint"`
	P256dhKey string    `json:"p256dhKey"`
	AuthKey   string    `json:"authKey"`
	CreatedAt time.Time `json:"createdAt"`
}
