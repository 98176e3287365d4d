// Package session holds a client's single subscription to one chat topic, opened with a
// disposable credential.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jrsteele09/go-chat-server/token"
	"github.com/jrsteele09/go-chat-server/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultBuffer = 64

type State int

const (
	StateConnecting State = iota
	StateSubscribed
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Message is an item received on the session's topic.
type Message struct {
	Topic       string
	Payload     []byte
	Sequence    uint64
	PublisherID string
	PublishedAt time.Time
}

// Session moves Connecting -> Subscribed | Failed, then Subscribed -> Closed | Failed. Failed and
// Closed are terminal. There is no reconnection; a new credential means a new session.
type Session struct {
	client     transport.TopicClient
	credential token.DisposableCredential
	namespace  string
	topic      string
	bufferSize int
	nowFunc    func() time.Time
	logger     zerolog.Logger

	messages     chan Message
	messagesOnce sync.Once
	done         chan struct{}
	doneOnce     sync.Once
	releaseOnce  sync.Once

	mu         sync.Mutex
	state      State
	connecting bool
	closeAsked bool
	attempted  bool
	err        error
	sub        transport.Subscription
}

type Option func(*Session)

// WithBuffer sets how many received messages may wait unread.
func WithBuffer(size int) Option {
	return func(s *Session) {
		s.bufferSize = size
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(s *Session) {
		s.nowFunc = now
	}
}

// New creates a session in the Connecting state. Nothing is dialled until Connect.
func New(client transport.TopicClient, credential token.DisposableCredential, namespace, topic string, options ...Option) *Session {
	s := &Session{
		client:     client,
		credential: credential,
		namespace:  namespace,
		topic:      topic,
		bufferSize: defaultBuffer,
		nowFunc:    time.Now,
		logger:     log.Logger.With().Str("component", "session").Logger(),
		done:       make(chan struct{}),
		state:      StateConnecting,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.bufferSize <= 0 {
		s.bufferSize = defaultBuffer
	}
	s.messages = make(chan Message, s.bufferSize)
	s.logger = s.logger.With().
		Str("namespace", namespace).
		Str("topic", topic).
		Str("token_fingerprint", token.Fingerprint(credential.Token)).
		Logger()
	return s
}

// Open creates a session and subscribes it.
func Open(ctx context.Context, client transport.TopicClient, credential token.DisposableCredential, namespace, topic string, options ...Option) (*Session, error) {
	s := New(client, credential, namespace, topic, options...)
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Connect subscribes to the topic. It may be called once. If Close runs while Connect is waiting
// on the transport, the subscription obtained afterwards is released and ErrSessionClosed returned.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.state == StateClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.attempted:
		s.mu.Unlock()
		return ErrAlreadyOpened
	}
	s.attempted = true

	if s.namespace == "" || s.topic == "" {
		err := s.failLocked(transport.NewError(transport.CodeBadRequest, "namespace and topic are required"))
		s.mu.Unlock()
		s.closeMessages()
		return err
	}
	if s.credential.Expired(s.nowFunc()) {
		err := s.failLocked(transport.NewError(transport.CodeTokenExpired, "credential expired before subscribe"))
		s.mu.Unlock()
		s.closeMessages()
		return err
	}
	s.connecting = true
	s.mu.Unlock()

	s.logger.Debug().Msg("Subscribing")
	sub, err := s.client.Subscribe(ctx, s.namespace, s.topic, s.credential.Token)

	s.mu.Lock()
	s.connecting = false
	if s.closeAsked {
		s.state = StateClosed
		s.closeDone()
		s.mu.Unlock()
		if sub != nil {
			s.release(sub)
		}
		s.closeMessages()
		return ErrSessionClosed
	}
	if err != nil {
		subErr := s.failLocked(err)
		s.mu.Unlock()
		s.closeMessages()
		s.logger.Warn().Err(err).Msg("Subscribe failed")
		return subErr
	}
	s.state = StateSubscribed
	s.sub = sub
	s.mu.Unlock()

	s.logger.Info().Msg("Subscribed")
	go s.pump(sub)
	return nil
}

func (s *Session) failLocked(cause error) error {
	s.state = StateFailed
	s.err = &SubscriptionError{Namespace: s.namespace, Topic: s.topic, Err: cause}
	s.closeDone()
	return s.err
}

func (s *Session) pump(sub transport.Subscription) {
	defer s.closeMessages()

	for item := range sub.Items() {
		msg := Message{
			Topic:       item.Topic,
			Payload:     item.Value,
			Sequence:    item.Sequence,
			PublisherID: item.PublisherID,
			PublishedAt: item.PublishedAt,
		}
		select {
		case s.messages <- msg:
		case <-s.done:
			return
		}
	}

	cause := sub.Err()
	if cause == nil {
		cause = transport.NewError(transport.CodeUnavailable, "subscription ended by transport")
	}

	s.mu.Lock()
	if s.state != StateSubscribed {
		s.mu.Unlock()
		return
	}
	s.failLocked(cause)
	s.mu.Unlock()
	s.logger.Warn().Err(cause).Msg("Subscription ended")
	s.release(sub)
}

// Send publishes payload on the session's topic.
func (s *Session) Send(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != StateSubscribed {
		return &PublishError{Namespace: s.namespace, Topic: s.topic, Err: ErrNotSubscribed}
	}
	if s.credential.Expired(s.nowFunc()) {
		return &PublishError{Namespace: s.namespace, Topic: s.topic, Err: transport.NewError(transport.CodeTokenExpired, "credential expired")}
	}
	if err := s.client.Publish(ctx, s.namespace, s.topic, s.credential.Token, payload); err != nil {
		return &PublishError{Namespace: s.namespace, Topic: s.topic, Err: err}
	}
	return nil
}

// Close ends the session. It is safe to call more than once and from any goroutine. While Connect
// is still waiting on the transport the session stays Connecting; it becomes Closed when that call
// settles, and any subscription it obtained is released.
func (s *Session) Close() error {
	s.mu.Lock()
	switch s.state {
	case StateClosed, StateFailed:
		s.mu.Unlock()
		return nil
	case StateConnecting:
		if s.connecting {
			s.closeAsked = true
			s.mu.Unlock()
			s.logger.Debug().Msg("Close requested while subscribing")
			return nil
		}
		s.state = StateClosed
		s.closeDone()
		s.mu.Unlock()
		s.closeMessages()
		s.logger.Debug().Msg("Closed before subscribing")
		return nil
	}

	s.state = StateClosed
	sub := s.sub
	s.closeDone()
	s.mu.Unlock()

	s.logger.Info().Msg("Closed")
	return s.release(sub)
}

// release unsubscribes the transport handle. Only the first call reaches the transport.
func (s *Session) release(sub transport.Subscription) error {
	var err error
	s.releaseOnce.Do(func() {
		err = sub.Unsubscribe()
		if err != nil && !errors.Is(err, transport.ErrUnavailable) {
			s.logger.Warn().Err(err).Msg("Unsubscribe failed")
		}
	})
	return err
}

func (s *Session) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) closeMessages() {
	s.messagesOnce.Do(func() { close(s.messages) })
}

// Messages delivers items in transport order. It is closed when the session ends.
func (s *Session) Messages() <-chan Message {
	return s.messages
}

// Done is closed once the session reaches Failed or Closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the SubscriptionError that moved the session to Failed, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Namespace() string {
	return s.namespace
}

func (s *Session) Topic() string {
	return s.topic
}
