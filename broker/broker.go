// Package broker is the pub/sub messaging service behind the chat backend. It authenticates
// administrative clients by API key, mints disposable tokens and fans out published items to
// every subscriber of a topic.
package broker

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-chat-server/scope"
	"github.com/jrsteele09/go-chat-server/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const DefaultSubscriberBuffer = 64

// Envelope is a published item in flight between broker instances.
type Envelope struct {
	Namespace   string    `json:"namespace"`
	Topic       string    `json:"topic"`
	Value       []byte    `json:"value"`
	PublisherID string    `json:"publisherId"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Bus distributes envelopes to every broker instance, including the publishing one.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	Run(ctx context.Context, deliver func(Envelope)) error
	Close() error
}

type topicKey struct {
	namespace string
	topic     string
}

type topicState struct {
	seq  uint64
	subs map[string]*subscription
}

type Broker struct {
	endpoint   string
	signer     Signer
	bufferSize int
	bus        Bus
	nowFunc    func() time.Time
	logger     zerolog.Logger
	issueLimit rate.Limit
	issueBurst int

	keysMu       sync.RWMutex
	apiKeyHashes [][]byte
	limiters     map[int]*rate.Limiter

	mu     sync.Mutex
	closed bool
	topics map[topicKey]*topicState
}

type Option func(*Broker)

// WithEndpoint sets the address reported alongside every disposable token.
func WithEndpoint(endpoint string) Option {
	return func(b *Broker) {
		b.endpoint = endpoint
	}
}

// WithSigningKey signs tokens with HS256 using key.
func WithSigningKey(key []byte) Option {
	return func(b *Broker) {
		b.signer = NewHMACSigner(key)
	}
}

func WithSigner(signer Signer) Option {
	return func(b *Broker) {
		b.signer = signer
	}
}

// WithAPIKeyHash registers a bcrypt hash produced by HashAPIKey.
func WithAPIKeyHash(hash string) Option {
	return func(b *Broker) {
		if hash != "" {
			b.apiKeyHashes = append(b.apiKeyHashes, []byte(hash))
		}
	}
}

func WithSubscriberBuffer(size int) Option {
	return func(b *Broker) {
		b.bufferSize = size
	}
}

func WithBus(bus Bus) Option {
	return func(b *Broker) {
		b.bus = bus
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(b *Broker) {
		b.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(b *Broker) {
		b.logger = logger
	}
}

// WithIssueQuota limits token issuance per administrative API key.
func WithIssueQuota(perSecond float64, burst int) Option {
	return func(b *Broker) {
		b.issueLimit = rate.Limit(perSecond)
		b.issueBurst = burst
	}
}

func New(options ...Option) (*Broker, error) {
	b := &Broker{
		bufferSize: DefaultSubscriberBuffer,
		nowFunc:    time.Now,
		logger:     log.Logger.With().Str("component", "broker").Logger(),
		limiters:   make(map[int]*rate.Limiter),
		topics:     make(map[topicKey]*topicState),
	}
	for _, opt := range options {
		opt(b)
	}

	if b.signer == nil {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		b.signer = NewHMACSigner(key)
	}
	if b.bufferSize <= 0 {
		b.bufferSize = DefaultSubscriberBuffer
	}
	return b, nil
}

// RegisterAPIKey hashes apiKey and accepts it for administrative handshakes.
func (b *Broker) RegisterAPIKey(apiKey string) error {
	hash, err := HashAPIKey(apiKey)
	if err != nil {
		return err
	}
	b.keysMu.Lock()
	b.apiKeyHashes = append(b.apiKeyHashes, []byte(hash))
	b.keysMu.Unlock()
	return nil
}

func (b *Broker) limiterFor(keyIndex int) *rate.Limiter {
	if b.issueLimit <= 0 {
		return nil
	}
	b.keysMu.Lock()
	defer b.keysMu.Unlock()
	l, ok := b.limiters[keyIndex]
	if !ok {
		l = rate.NewLimiter(b.issueLimit, b.issueBurst)
		b.limiters[keyIndex] = l
	}
	return l
}

func (b *Broker) Endpoint() string {
	return b.endpoint
}

// Subscribe registers a subscription on namespace/topic. Items arrive in publish order. The
// subscription ends when it is unsubscribed, when the token expires or when the subscriber falls
// behind by more than the buffer size.
func (b *Broker) Subscribe(_ context.Context, namespace, topic, authToken string) (transport.Subscription, error) {
	g, err := b.authorize(authToken, namespace, topic, scope.PermissionSubscribe)
	if err != nil {
		return nil, err
	}

	sub := &subscription{
		id:     uuid.New().String(),
		key:    topicKey{namespace: namespace, topic: topic},
		broker: b,
		items:  make(chan transport.Item, b.bufferSize),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, transport.NewError(transport.CodeUnavailable, "broker is shut down")
	}
	ts := b.topicLocked(sub.key)
	ts.subs[sub.id] = sub
	sub.timer = time.AfterFunc(g.expiresAt.Sub(b.nowFunc()), func() {
		b.terminate(sub, transport.NewError(transport.CodeTokenExpired, "disposable token has expired"))
	})

	b.logger.Debug().
		Str("subscription_id", sub.id).
		Str("namespace", namespace).
		Str("topic", topic).
		Str("token_id", g.tokenID).
		Msg("Subscription opened")
	return sub, nil
}

// Publish hands payload to every current subscriber of namespace/topic.
func (b *Broker) Publish(ctx context.Context, namespace, topic, authToken string, payload []byte) error {
	g, err := b.authorize(authToken, namespace, topic, scope.PermissionPublish)
	if err != nil {
		return err
	}

	env := Envelope{
		Namespace:   namespace,
		Topic:       topic,
		Value:       append([]byte(nil), payload...),
		PublisherID: g.tokenID,
		PublishedAt: b.nowFunc().UTC(),
	}
	if b.bus == nil {
		b.Deliver(env)
		return nil
	}
	if err := b.bus.Publish(ctx, env); err != nil {
		b.logger.Error().Err(err).Str("namespace", namespace).Str("topic", topic).Msg("Failed to publish to bus")
		return transport.NewError(transport.CodeUnavailable, "failed to publish")
	}
	return nil
}

// Deliver fans env out to local subscribers. Subscribers whose buffer is full are terminated
// with a slow consumer error rather than blocking the topic.
func (b *Broker) Deliver(env Envelope) {
	key := topicKey{namespace: env.Namespace, topic: env.Topic}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	ts := b.topicLocked(key)
	ts.seq++
	item := transport.Item{
		Topic:       env.Topic,
		Value:       env.Value,
		Sequence:    ts.seq,
		PublisherID: env.PublisherID,
		PublishedAt: env.PublishedAt,
	}

	var slow []*subscription
	for _, sub := range ts.subs {
		// each subscriber owns its payload
		own := item
		own.Value = append([]byte(nil), env.Value...)
		select {
		case sub.items <- own:
		default:
			slow = append(slow, sub)
		}
	}
	for _, sub := range slow {
		b.logger.Warn().Str("subscription_id", sub.id).Msg("Dropping slow consumer")
		b.closeLocked(sub, transport.NewError(transport.CodeSlowConsumer, "subscriber fell behind"))
	}
}

// Run drives the bus until ctx is cancelled. Without a bus it just waits.
func (b *Broker) Run(ctx context.Context) error {
	if b.bus == nil {
		<-ctx.Done()
		return nil
	}
	return b.bus.Run(ctx, b.Deliver)
}

// Close terminates every subscription and closes the bus.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	for _, ts := range b.topics {
		for _, sub := range ts.subs {
			b.closeLocked(sub, transport.NewError(transport.CodeUnavailable, "broker is shut down"))
		}
	}
	b.closed = true
	b.mu.Unlock()

	if b.bus != nil {
		return b.bus.Close()
	}
	return nil
}

// Subscribers reports the number of open subscriptions on namespace/topic.
func (b *Broker) Subscribers(namespace, topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ts, ok := b.topics[topicKey{namespace: namespace, topic: topic}]; ok {
		return len(ts.subs)
	}
	return 0
}

func (b *Broker) topicLocked(key topicKey) *topicState {
	ts, ok := b.topics[key]
	if !ok {
		ts = &topicState{subs: make(map[string]*subscription)}
		b.topics[key] = ts
	}
	return ts
}

func (b *Broker) terminate(sub *subscription, cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked(sub, cause)
}

func (b *Broker) closeLocked(sub *subscription, cause error) {
	if sub.closed {
		return
	}
	sub.closed = true
	sub.err = cause
	if sub.timer != nil {
		sub.timer.Stop()
	}
	if ts, ok := b.topics[sub.key]; ok {
		delete(ts.subs, sub.id)
	}
	close(sub.items)
}

type subscription struct {
	id     string
	key    topicKey
	broker *Broker
	items  chan transport.Item
	timer  *time.Timer

	// guarded by broker.mu
	closed bool
	err    error
}

func (s *subscription) Items() <-chan transport.Item {
	return s.items
}

func (s *subscription) Err() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	return s.err
}

func (s *subscription) Unsubscribe() error {
	s.broker.terminate(s, nil)
	return nil
}
