package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jrsteele09/go-chat-server/transport"
)

const (
	maxPublishBytes = 64 << 10
	pongWait        = 60 * time.Second
	pingPeriod      = 30 * time.Second
	writeWait       = 5 * time.Second
)

// SubscribeHandler authorises the disposable token, subscribes, then upgrades to a websocket that
// streams item frames. A rejected subscription is answered with a JSON error before any upgrade.
func (s *Server) SubscribeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		namespace, topic := r.PathValue("namespace"), r.PathValue("topic")

		sub, err := s.topics.Subscribe(r.Context(), namespace, topic, disposableToken(r))
		if err != nil {
			writeTransportError(w, err)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Debug().Err(err).Msg("websocket upgrade failed")
			_ = sub.Unsubscribe()
			return
		}

		logger := s.logger.With().Str("namespace", namespace).Str("topic", topic).Logger()
		logger.Debug().Msg("Gateway subscription opened")

		written := make(chan struct{})
		go func() {
			defer close(written)
			s.writePump(conn, sub)
		}()

		readPump(conn)
		_ = sub.Unsubscribe()
		<-written
		_ = conn.Close()
		logger.Debug().Msg("Gateway subscription closed")
	}
}

// readPump discards client frames and returns when the peer goes away.
func readPump(conn *websocket.Conn) {
	conn.SetReadLimit(1 << 12)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, sub transport.Subscription) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case item, ok := <-sub.Items():
			if !ok {
				closeCode := websocket.CloseNormalClosure
				if err := sub.Err(); err != nil {
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = conn.WriteJSON(transport.ErrorFrame(err))
					closeCode = websocket.ClosePolicyViolation
				}
				msg := websocket.FormatCloseMessage(closeCode, "")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(transport.ItemFrame(item)); err != nil {
				s.logger.Debug().Err(err).Msg("websocket write error")
				_ = sub.Unsubscribe()
				_ = conn.Close()
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = sub.Unsubscribe()
				_ = conn.Close()
				return
			}
		}
	}
}

// PublishHandler publishes the request body on the topic using the disposable token.
func (s *Server) PublishHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPublishBytes))
		if err != nil {
			writeJSONError(w, string(transport.CodeBadRequest), "payload too large", http.StatusRequestEntityTooLarge)
			return
		}

		err = s.topics.Publish(r.Context(), r.PathValue("namespace"), r.PathValue("topic"), disposableToken(r), payload)
		if err != nil {
			writeTransportError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeTransportError(w http.ResponseWriter, err error) {
	var te *transport.Error
	if !errors.As(err, &te) {
		te = transport.NewError(transport.CodeUnavailable, "transport unavailable")
	}
	writeJSONError(w, string(te.Code), te.Message, te.HTTPStatus())
}
