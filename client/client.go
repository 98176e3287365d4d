// Package client is a typed client for the chat API. It authenticates with the caller's identity
// token and returns the same typed errors the server maps to status codes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-chat-server/chats"
	"github.com/jrsteele09/go-chat-server/token"
	"github.com/samber/lo"
	"golang.org/x/oauth2"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("api error %d %s: %s", e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("api error %d %s", e.StatusCode, e.Code)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the underlying transport. The oauth2 token is still attached.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// New creates a client for baseURL that presents tokens from ts as bearer credentials.
func New(ctx context.Context, baseURL string, ts oauth2.TokenSource, opts ...Option) *Client {
	c := &Client{baseURL: strings.TrimRight(baseURL, "/")}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}
	c.httpClient = oauth2.NewClient(ctx, ts)
	return c
}

// NewWithToken is New with a fixed identity token.
func NewWithToken(ctx context.Context, baseURL, identityToken string, opts ...Option) *Client {
	return New(ctx, baseURL, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: identityToken, TokenType: "Bearer"}), opts...)
}

func (c *Client) ListChats(ctx context.Context) ([]string, error) {
	var rooms []chats.ChatRoom
	if err := c.do(ctx, http.MethodGet, "/chats", nil, http.StatusOK, &rooms); err != nil {
		return nil, err
	}
	return lo.Map(rooms, func(r chats.ChatRoom, _ int) string { return r.ChatName }), nil
}

// CreateChat registers chatName. A taken name returns a *chats.ConflictError.
func (c *Client) CreateChat(ctx context.Context, chatName string) error {
	err := c.do(ctx, http.MethodPost, "/chats", map[string]string{"chatName": chatName}, http.StatusCreated, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
		return &chats.ConflictError{ChatName: chatName}
	}
	return err
}

// GetToken fetches a fresh disposable credential.
func (c *Client) GetToken(ctx context.Context) (*token.DisposableCredential, error) {
	cred := &token.DisposableCredential{}
	if err := c.do(ctx, http.MethodGet, "/token", nil, http.StatusOK, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != wantStatus {
		return decodeAPIError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeAPIError(status int, data []byte) error {
	apiErr := &APIError{StatusCode: status, Code: http.StatusText(status)}
	var body struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		apiErr.Code = body.Error
		apiErr.Description = body.ErrorDescription
		return apiErr
	}
	var message string
	if err := json.Unmarshal(data, &message); err == nil {
		apiErr.Description = message
	}
	return apiErr
}
