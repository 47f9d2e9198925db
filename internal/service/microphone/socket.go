package microphone

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vibz-labs/vibz/backend/internal/service/studio"
)

// Message types exchanged with the browser over the microphone socket.
const (
	TypeStart   = "start"
	TypeStop    = "stop"
	TypeGranted = "granted"
	TypeDenied  = "denied"
	TypeAudio   = "audio"
	TypeStopped = "stopped"
	TypeError   = "error"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second

	DefaultGrantTimeout = 30 * time.Second
	DefaultStopTimeout  = 5 * time.Second
)

// Message is one frame of the microphone socket protocol. Audio data is
// base64 encoded by encoding/json.
type Message struct {
	Type      string `json:"type"`
	Format    string `json:"format,omitempty"`
	Data      []byte `json:"data,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// SocketOptions tune the socket microphone.
type SocketOptions struct {
	GrantTimeout time.Duration
	StopTimeout  time.Duration
}

type grant struct {
	capture *capture
	err     error
}

// SocketMicrophone is a browser microphone driven over a WebSocket. The
// server asks for capture with "start", the browser answers "granted" or
// "denied", streams "audio" fragments and confirms "stopped" after "stop".
type SocketMicrophone struct {
	conn *websocket.Conn
	opts SocketOptions

	writeMu sync.Mutex

	mu      sync.Mutex
	pending chan grant
	active  *capture

	closed    chan struct{}
	closeOnce sync.Once
}

var _ studio.Microphone = (*SocketMicrophone)(nil)

// NewSocketMicrophone wraps an upgraded connection. Call Run to start reading.
func NewSocketMicrophone(conn *websocket.Conn, opts SocketOptions) *SocketMicrophone {
	if opts.GrantTimeout <= 0 {
		opts.GrantTimeout = DefaultGrantTimeout
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	return &SocketMicrophone{
		conn:   conn,
		opts:   opts,
		closed: make(chan struct{}),
	}
}

// Done is closed when the connection is gone.
func (m *SocketMicrophone) Done() <-chan struct{} {
	return m.closed
}

// Run reads client messages until the connection closes or ctx is done.
func (m *SocketMicrophone) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer m.Close()

	m.conn.SetReadDeadline(time.Now().Add(pongWait))
	m.conn.SetPongHandler(func(string) error {
		m.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go m.pingLoop(ctx)
	go func() {
		select {
		case <-ctx.Done():
			m.Close()
		case <-m.closed:
		}
	}()

	for {
		var msg Message
		if err := m.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[microphone] read error: %v", err)
				return err
			}
			return nil
		}
		m.conn.SetReadDeadline(time.Now().Add(pongWait))
		m.handle(msg)
	}
}

func (m *SocketMicrophone) handle(msg Message) {
	switch msg.Type {
	case TypeGranted:
		m.mu.Lock()
		reply := m.pending
		m.pending = nil
		if reply != nil {
			filename, contentType := assetFormat(msg.Format)
			c := newCapture(filename, contentType, m.stopCapture)
			m.active = c
			reply <- grant{capture: c}
		}
		m.mu.Unlock()
		if reply == nil {
			log.Printf("[microphone] unexpected grant, stopping client capture")
			m.send(Message{Type: TypeStop})
		}
	case TypeDenied:
		m.mu.Lock()
		reply := m.pending
		m.pending = nil
		m.mu.Unlock()
		if reply != nil {
			err := ErrDenied
			if msg.Reason != "" {
				err = fmt.Errorf("%w: %s", ErrDenied, msg.Reason)
			}
			reply <- grant{err: err}
		}
	case TypeAudio:
		m.mu.Lock()
		c := m.active
		m.mu.Unlock()
		if c != nil {
			c.push(msg.Data)
		}
	case TypeStopped:
		m.mu.Lock()
		c := m.active
		m.active = nil
		m.mu.Unlock()
		if c != nil {
			c.finish()
		}
	default:
		m.send(Message{Type: TypeError, Reason: "unsupported message type: " + msg.Type})
	}
}

// Acquire asks the browser to start capturing and waits for its answer.
func (m *SocketMicrophone) Acquire(ctx context.Context) (studio.Capture, error) {
	m.mu.Lock()
	if m.pending != nil || m.active != nil {
		m.mu.Unlock()
		return nil, ErrBusy
	}
	reply := make(chan grant, 1)
	m.pending = reply
	m.mu.Unlock()

	if err := m.send(Message{Type: TypeStart}); err != nil {
		m.abandon(reply)
		return nil, err
	}

	timer := time.NewTimer(m.opts.GrantTimeout)
	defer timer.Stop()

	var err error
	select {
	case g := <-reply:
		if g.err != nil {
			return nil, g.err
		}
		return g.capture, nil
	case <-timer.C:
		err = ErrGrantTimeout
	case <-ctx.Done():
		err = ctx.Err()
	case <-m.closed:
		err = ErrClosed
	}

	m.abandon(reply)
	return nil, err
}

// abandon withdraws a pending start request, releasing a grant that raced it.
func (m *SocketMicrophone) abandon(reply chan grant) {
	m.mu.Lock()
	if m.pending == reply {
		m.pending = nil
	}
	m.mu.Unlock()

	select {
	case g := <-reply:
		if g.capture != nil {
			g.capture.Release()
		}
	default:
		m.send(Message{Type: TypeStop})
	}
}

// stopCapture tells the browser to stop and waits for trailing fragments.
func (m *SocketMicrophone) stopCapture(c *capture) error {
	err := m.send(Message{Type: TypeStop})
	if err == nil {
		timer := time.NewTimer(m.opts.StopTimeout)
		select {
		case <-c.finished:
		case <-m.closed:
		case <-timer.C:
			log.Printf("[microphone] client did not confirm stop within %s", m.opts.StopTimeout)
		}
		timer.Stop()
	}

	m.mu.Lock()
	if m.active == c {
		m.active = nil
	}
	m.mu.Unlock()
	return err
}

// Close ends the connection and any running capture.
func (m *SocketMicrophone) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.closed)

		m.mu.Lock()
		c := m.active
		m.active = nil
		m.mu.Unlock()
		if c != nil {
			c.finish()
		}

		m.writeMu.Lock()
		m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		m.writeMu.Unlock()
		err = m.conn.Close()
	})
	return err
}

func (m *SocketMicrophone) send(msg Message) error {
	select {
	case <-m.closed:
		return ErrClosed
	default:
	}
	msg.Timestamp = time.Now().Unix()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := m.conn.WriteJSON(msg); err != nil {
		log.Printf("[microphone] write %s failed: %v", msg.Type, err)
		return err
	}
	return nil
}

func (m *SocketMicrophone) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.closed:
			return
		case <-ticker.C:
			m.writeMu.Lock()
			err := m.conn.WriteMessage(websocket.PingMessage, nil)
			m.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
