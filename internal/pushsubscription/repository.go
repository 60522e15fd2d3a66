package pushsubscription

import "context"

// Repository stores push subscriptions. The endpoint lookups cover the
// two client flows (re-register and unregister); the id-keyed Delete
// backs the sender's cleanup of dead endpoints.
type Repository interface {
	Create(ctx context.Context, sub *Subscription) error
	List(ctx context.Context) ([]*Subscription, error)
	Delete(ctx context.Context, id string) error
	FindByEndpoint(ctx context.Context, endpoint string) (*Subscription, error)
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}
