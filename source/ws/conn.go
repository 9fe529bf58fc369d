// Package ws implements WsSource (spec §6 "WebSocket variant"): one
// long-lived bidirectional connection carrying binary RTS frames
// server→client and JSON control messages client→server, built on
// source.Base for track selection, timestamp repair, and first-sample
// buffering, the same as httpadaptive.Controller.
package ws

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// Conn is the narrow surface Controller needs from a dialed WebSocket
// connection — satisfied structurally by *websocket.Conn, and by a fake
// in tests.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a Conn. Mirrors httpadaptive's HTTPClient narrow-
// collaborator-interface shape so Controller is dialer-agnostic and
// testable without a real socket.
type Dialer interface {
	Dial(urlStr string, requestHeader http.Header) (Conn, error)
}

type gorillaDialer struct{ d *websocket.Dialer }

func (g gorillaDialer) Dial(urlStr string, requestHeader http.Header) (Conn, error) {
	conn, _, err := g.d.Dial(urlStr, requestHeader)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func defaultDialer() Dialer {
	return gorillaDialer{d: websocket.DefaultDialer}
}
