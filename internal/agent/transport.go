package agent

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is one live channel to the hub. ReadMessage is called from a
// single goroutine; WriteMessage and Close may be called concurrently.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(frame []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

const (
	writeTimeout    = 10 * time.Second
	maxInboundFrame = 8 << 20
)

// WSDialer dials the hub over WebSocket. A non-empty Token is sent as a
// bearer Authorization header.
type WSDialer struct {
	Token  string
	Header http.Header
}

func (d WSDialer) Dial(ctx context.Context, url string) (Transport, error) {
	header := http.Header{}
	for k, v := range d.Header {
		header[k] = v
	}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: DefaultDialTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(maxInboundFrame)
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	once    sync.Once
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	for {
		kind, frame, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return frame, nil
		}
	}
}

func (t *wsTransport) WriteMessage(frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

func (t *wsTransport) Close() error {
	var err error
	t.once.Do(func() {
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}
