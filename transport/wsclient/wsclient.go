// Package wsclient is the network TopicClient: subscriptions are websockets on the topic gateway
// and publishes are plain HTTP POSTs to the same path.
package wsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jrsteele09/go-chat-server/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultBuffer = 64
	pongWait      = 60 * time.Second
	writeWait     = 5 * time.Second
)

// Client talks to the gateway at endpoint, e.g. "ws://localhost:8080".
type Client struct {
	endpoint   *url.URL
	dialer     *websocket.Dialer
	httpClient *http.Client
	bufferSize int
	logger     zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(cl *Client) {
		cl.dialer = d
	}
}

func WithBuffer(size int) Option {
	return func(cl *Client) {
		cl.bufferSize = size
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

func New(endpoint string, opts ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return nil, fmt.Errorf("invalid endpoint scheme %q", u.Scheme)
	}

	c := &Client{
		endpoint:   u,
		dialer:     websocket.DefaultDialer,
		httpClient: http.DefaultClient,
		bufferSize: defaultBuffer,
		logger:     log.Logger.With().Str("component", "wsclient").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) topicURL(scheme, namespace, topic string) string {
	u := *c.endpoint
	u.Scheme = scheme
	u.Path = strings.TrimRight(u.Path, "/") + "/topics/" + url.PathEscape(namespace) + "/" + url.PathEscape(topic)
	u.RawPath = ""
	return u.String()
}

func (c *Client) schemes() (ws, plain string) {
	switch c.endpoint.Scheme {
	case "wss", "https":
		return "wss", "https"
	default:
		return "ws", "http"
	}
}

// Subscribe dials the gateway. A rejected handshake returns the gateway's transport error.
func (c *Client) Subscribe(ctx context.Context, namespace, topic, authToken string) (transport.Subscription, error) {
	wsScheme, _ := c.schemes()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+authToken)

	conn, resp, err := c.dialer.DialContext(ctx, c.topicURL(wsScheme, namespace, topic), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, decodeErrorResponse(resp)
		}
		return nil, transport.NewError(transport.CodeUnavailable, err.Error())
	}

	sub := &subscription{
		conn:   conn,
		items:  make(chan transport.Item, c.bufferSize),
		done:   make(chan struct{}),
		logger: c.logger,
	}
	go sub.readPump()
	return sub, nil
}

// Publish posts payload to the topic.
func (c *Client) Publish(ctx context.Context, namespace, topic, authToken string, payload []byte) error {
	_, scheme := c.schemes()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.topicURL(scheme, namespace, topic), bytes.NewReader(payload))
	if err != nil {
		return transport.NewError(transport.CodeBadRequest, err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+authToken)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transport.NewError(transport.CodeUnavailable, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return decodeErrorResponse(resp)
	}
	return nil
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func decodeErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || eb.Error == "" {
		return transport.NewError(codeForStatus(resp.StatusCode), http.StatusText(resp.StatusCode))
	}
	return transport.NewError(transport.ErrorCode(eb.Error), eb.ErrorDescription)
}

func codeForStatus(status int) transport.ErrorCode {
	switch status {
	case http.StatusUnauthorized:
		return transport.CodeInvalidToken
	case http.StatusForbidden:
		return transport.CodePermissionDenied
	case http.StatusTooManyRequests:
		return transport.CodeQuotaExceeded
	case http.StatusBadRequest:
		return transport.CodeBadRequest
	default:
		return transport.CodeUnavailable
	}
}

type subscription struct {
	conn   *websocket.Conn
	items  chan transport.Item
	done   chan struct{}
	logger zerolog.Logger

	mu        sync.Mutex
	err       error
	closing   bool
	closeOnce sync.Once
}

func (s *subscription) Items() <-chan transport.Item {
	return s.items
}

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Unsubscribe sends a close frame and tears the connection down. Safe to call more than once.
func (s *subscription) Unsubscribe() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "unsubscribe")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = s.conn.Close()
	})
	return nil
}

func (s *subscription) finish(err error) {
	s.mu.Lock()
	if !s.closing && s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	close(s.items)
}

func (s *subscription) readPump() {
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPingHandler(func(data string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return s.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		var frame transport.Frame
		if err := s.conn.ReadJSON(&frame); err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.finish(nil)
			} else {
				s.logger.Warn().Err(err).Msg("websocket read error")
				s.finish(transport.NewError(transport.CodeUnavailable, "connection lost"))
			}
			_ = s.conn.Close()
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch frame.Type {
		case transport.FrameItem:
			if frame.Item == nil {
				continue
			}
			select {
			case s.items <- *frame.Item:
			case <-s.done:
				s.finish(nil)
				return
			}
		case transport.FrameError:
			s.finish(frame.Err())
			_ = s.conn.Close()
			return
		}
	}
}
