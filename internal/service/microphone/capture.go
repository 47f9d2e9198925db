package microphone

import (
	"errors"
	"io"
	"mime"
	"sync"
)

var (
	// ErrDenied is returned when the client refuses microphone access.
	ErrDenied = errors.New("microphone access denied by client")
	// ErrGrantTimeout is returned when the client never answers a start request.
	ErrGrantTimeout = errors.New("timed out waiting for microphone permission")
	// ErrClosed is returned once the underlying connection is gone.
	ErrClosed = errors.New("microphone connection closed")
	// ErrBusy is returned when a capture is already acquired on the device.
	ErrBusy = errors.New("microphone already in use")
)

const fragmentBuffer = 256

// capture is a released-once stream of audio fragments handed to the recorder.
type capture struct {
	filename    string
	contentType string
	release     func(*capture) error

	mu       sync.Mutex
	ch       chan []byte
	done     bool
	finished chan struct{}
	once     sync.Once
	err      error
}

func newCapture(filename, contentType string, release func(*capture) error) *capture {
	return &capture{
		filename:    filename,
		contentType: contentType,
		release:     release,
		ch:          make(chan []byte, fragmentBuffer),
		finished:    make(chan struct{}),
	}
}

func (c *capture) Fragments() <-chan []byte { return c.ch }
func (c *capture) Filename() string         { return c.filename }
func (c *capture) ContentType() string      { return c.contentType }

// Release asks the device to stop and closes the fragment channel.
func (c *capture) Release() error {
	c.once.Do(func() {
		if c.release != nil {
			c.err = c.release(c)
		}
		c.finish()
	})
	return c.err
}

// push queues a copy of p. It reports false once the capture is finished.
func (c *capture) push(p []byte) bool {
	if len(p) == 0 {
		return true
	}
	fragment := make([]byte, len(p))
	copy(fragment, p)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return false
	}
	c.ch <- fragment
	return true
}

// Write makes the capture usable as a container sink.
func (c *capture) Write(p []byte) (int, error) {
	if !c.push(p) {
		return 0, io.ErrClosedPipe
	}
	return len(p), nil
}

func (c *capture) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	c.done = true
	close(c.ch)
	close(c.finished)
}

// assetFormat maps a recorder MIME type to the attachment name and content type.
func assetFormat(format string) (string, string) {
	mediaType, _, err := mime.ParseMediaType(format)
	if err != nil {
		mediaType = ""
	}
	switch mediaType {
	case "audio/ogg":
		return "recording.ogg", mediaType
	case "audio/wav", "audio/wave", "audio/x-wav":
		return "recording.wav", mediaType
	case "audio/mp4":
		return "recording.m4a", mediaType
	case "audio/mpeg":
		return "recording.mp3", mediaType
	default:
		return "recording.webm", "audio/webm"
	}
}
