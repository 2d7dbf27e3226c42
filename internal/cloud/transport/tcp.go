package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	// tcpReadBufferSize is the per-read chunk size. MQTT control packets
	// from the cloud are small; 4 KiB covers the largest register frame
	// publish with headroom.
	tcpReadBufferSize = 4096

	// tcpWriteTimeout bounds a single outbound write so a dead peer
	// cannot stall the caller indefinitely.
	tcpWriteTimeout = 5 * time.Second
)

// closeHandshakeDeadline is the shared deadline for best-effort close
// writes on either transport.
func closeHandshakeDeadline() time.Time {
	return time.Now().Add(time.Second)
}

// TCP dials a plain MQTT port. Bytes pass through unchanged; packet
// framing is entirely the MQTT engine's concern.
type TCP struct {
	// Address is the endpoint in host:port form.
	Address string
}

// Connect dials the address and returns an established stream.
func (t *TCP) Connect(ctx context.Context) (Stream, error) {
	dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", t.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDialFailed, t.Address, err)
	}

	s := &tcpStream{
		streamState: newStreamState(dataBufferSize),
		conn:        conn,
	}
	go s.readLoop()
	return s, nil
}

// tcpStream adapts a TCP connection to the Stream interface.
type tcpStream struct {
	*streamState
	conn net.Conn
}

// readLoop pumps inbound chunks into the data channel until the
// connection ends. io.EOF is a peer close, not an error.
func (s *tcpStream) readLoop() {
	defer close(s.data)
	defer s.conn.Close()

	buf := make([]byte, tcpReadBufferSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.data <- chunk:
			case <-s.done:
				return
			}
		}
		if err != nil {
			if s.isClosed() {
				return
			}
			if err == io.EOF {
				s.terminate(fmt.Errorf("peer closed connection: %w", err))
			} else {
				s.terminate(err)
			}
			return
		}
	}
}

// Write sends one payload. Partial writes are completed by net.Conn.
func (s *tcpStream) Write(p []byte) error {
	if s.isClosed() {
		return ErrStreamClosed
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(tcpWriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := s.conn.Write(p); err != nil {
		s.terminate(err)
		return fmt.Errorf("tcp write: %w", err)
	}
	return nil
}

// Close tears the stream down. Safe to call multiple times.
func (s *tcpStream) Close() error {
	if !s.terminate(nil) {
		return nil
	}
	return s.conn.Close()
}
