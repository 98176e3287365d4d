package session

import (
	"errors"
	"fmt"
)

var (
	ErrNotSubscribed = errors.New("session is not subscribed")
	ErrSessionClosed = errors.New("session is closed")
	ErrAlreadyOpened = errors.New("session connect already attempted")
)

// SubscriptionError reports that the session could not subscribe, or that an active subscription
// was ended by the transport.
type SubscriptionError struct {
	Namespace string
	Topic     string
	Err       error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription to %s/%s failed: %v", e.Namespace, e.Topic, e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// PublishError reports that Send did not hand the payload to the transport.
type PublishError struct {
	Namespace string
	Topic     string
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s/%s failed: %v", e.Namespace, e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
