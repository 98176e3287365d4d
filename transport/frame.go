package transport

import "errors"

// FrameType distinguishes the JSON frames sent by the websocket topic gateway.
type FrameType string

const (
	FrameItem  FrameType = "item"
	FrameError FrameType = "error"
)

// Frame is one websocket message from the gateway. An error frame is always the last frame of a
// subscription.
type Frame struct {
	Type    FrameType `json:"type"`
	Item    *Item     `json:"item,omitempty"`
	Code    ErrorCode `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
}

func ItemFrame(item Item) Frame {
	return Frame{Type: FrameItem, Item: &item}
}

// ErrorFrame describes err, falling back to the unavailable code when err carries none.
func ErrorFrame(err error) Frame {
	var te *Error
	if errors.As(err, &te) {
		return Frame{Type: FrameError, Code: te.Code, Message: te.Message}
	}
	return Frame{Type: FrameError, Code: CodeUnavailable, Message: err.Error()}
}

// Err returns the transport error carried by an error frame.
func (f Frame) Err() error {
	if f.Type != FrameError {
		return nil
	}
	return NewError(f.Code, f.Message)
}
