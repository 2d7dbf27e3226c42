package transport

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// dataBufferSize is the inbound payload queue depth per stream. Cloud
// update bursts are small; a modest buffer absorbs them without letting
// a stalled consumer pin unbounded memory.
const dataBufferSize = 64

// WebSocket dials the vendor's MQTT-over-WebSocket endpoint.
//
// The vendor serves MQTT on the /mqtt path with the "mqtt" sub-protocol
// and binary frames only; a text frame indicates a confused peer and
// terminates the stream.
type WebSocket struct {
	// URL is the full endpoint, e.g. "ws://mqtt.example.com:8083/mqtt".
	URL string
}

// Connect dials the endpoint and returns an established stream.
// The dial is bounded by DialTimeout or the caller's context, whichever
// expires first.
func (w *WebSocket) Connect(ctx context.Context) (Stream, error) {
	dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		Subprotocols: []string{"mqtt"},
	}

	conn, _, err := dialer.DialContext(dialCtx, w.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDialFailed, w.URL, err)
	}

	s := &wsStream{
		streamState: newStreamState(dataBufferSize),
		conn:        conn,
	}
	go s.readLoop()
	return s, nil
}

// wsStream adapts a WebSocket connection to the Stream interface.
// One payload per binary frame in both directions.
type wsStream struct {
	*streamState
	conn *websocket.Conn
}

// readLoop pumps inbound frames into the data channel until the
// connection ends. A peer close frame's reason is preserved in Err.
func (s *wsStream) readLoop() {
	defer close(s.data)
	defer s.conn.Close()

	for {
		msgType, payload, err := s.conn.ReadMessage()
		if err != nil {
			if s.isClosed() {
				// Local Close already recorded the reason.
				return
			}
			s.terminate(err)
			return
		}

		if msgType != websocket.BinaryMessage {
			s.terminate(ErrTextFrame)
			return
		}

		select {
		case s.data <- payload:
		case <-s.done:
			return
		}
	}
}

// Write sends one payload wrapped in a single binary frame.
func (s *wsStream) Write(p []byte) error {
	if s.isClosed() {
		return ErrStreamClosed
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		s.terminate(err)
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close tears the stream down cleanly. A close frame is sent on a
// best-effort basis before the connection drops.
func (s *wsStream) Close() error {
	if !s.terminate(nil) {
		return nil
	}

	deadline := closeHandshakeDeadline()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline) //nolint:errcheck // best-effort close frame
	return s.conn.Close()
}
