// Package transport describes the boundary with the managed pub/sub service: the administrative
// handshake that mints disposable tokens and the topic operations those tokens authorise.
package transport

import (
	"context"
	"time"

	"github.com/jrsteele09/go-chat-server/scope"
)

// AuthConnector performs the administrative handshake with the transport.
type AuthConnector interface {
	Connect(ctx context.Context, apiKey string) (AuthClient, error)
}

// AuthClient mints disposable tokens on behalf of the administrative credential it was connected with.
type AuthClient interface {
	GenerateDisposableToken(ctx context.Context, s scope.CredentialScope, opts TokenOptions) (*DisposableToken, error)
}

// TokenOptions carries optional attributes embedded in a disposable token.
type TokenOptions struct {
	// TokenID is surfaced to subscribers as the PublisherID of items published with the token.
	TokenID string
}

// DisposableToken is what the transport hands back from GenerateDisposableToken.
type DisposableToken struct {
	AuthToken string
	Endpoint  string
	ExpiresAt time.Time
}

// TopicClient publishes to and subscribes on topics using a disposable token.
type TopicClient interface {
	Subscribe(ctx context.Context, namespace, topic, authToken string) (Subscription, error)
	Publish(ctx context.Context, namespace, topic, authToken string, payload []byte) error
}

// Subscription is the handle to an active subscription. Items is closed when the subscription ends,
// after which Err reports why (nil when ended by Unsubscribe).
type Subscription interface {
	Items() <-chan Item
	Err() error
	Unsubscribe() error
}

// Item is one message delivered on a subscription.
type Item struct {
	Topic       string    `json:"topic"`
	Value       []byte    `json:"value"`
	Sequence    uint64    `json:"sequence"`
	PublisherID string    `json:"publisherId,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
}
