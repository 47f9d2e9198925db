package studio

import (
	"context"
	"log"
	"sync"

	model "github.com/vibz-labs/vibz/backend/internal/model/studio"
)

// Microphone is a capture device that must be acquired before use.
type Microphone interface {
	// Acquire asks for permission and starts capture. A denial is returned as an error.
	Acquire(ctx context.Context) (Capture, error)
}

// Capture is an exclusively owned, running capture.
type Capture interface {
	// Fragments delivers audio in capture order. The channel is closed once
	// the capture has been released and every pending fragment delivered.
	Fragments() <-chan []byte
	// Release stops capture and frees the device. It is safe to call more than once.
	Release() error
	// Filename and ContentType describe the concatenated fragments.
	Filename() string
	ContentType() string
}

// Recorder owns at most one live capture and turns it into a voice asset.
type Recorder struct {
	mu        sync.Mutex
	mic       Microphone
	busy      bool // acquiring or finalizing
	closed    bool
	capture   Capture
	chunks    [][]byte
	collected chan struct{}
}

// NewRecorder returns an idle recorder without a device.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Attach sets the device used by the next Start.
func (r *Recorder) Attach(mic Microphone) {
	r.mu.Lock()
	r.mic = mic
	r.mu.Unlock()
}

// Detach removes mic if it is still the attached device.
func (r *Recorder) Detach(mic Microphone) {
	r.mu.Lock()
	if r.mic == mic {
		r.mic = nil
	}
	r.mu.Unlock()
}

// HasMicrophone reports whether a device is attached.
func (r *Recorder) HasMicrophone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mic != nil
}

// Active reports whether a capture is running, being acquired or being finalized.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capture != nil || r.busy
}

// Start acquires the attached device and begins collecting fragments. A second
// Start before the previous recording is finalized returns ErrAlreadyRecording.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.capture != nil || r.busy {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	if r.closed {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	mic := r.mic
	if mic == nil {
		r.mu.Unlock()
		return &PermissionError{Err: ErrNoMicrophone}
	}
	r.busy = true
	r.mu.Unlock()

	capture, err := mic.Acquire(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.busy = false
	if err != nil {
		return &PermissionError{Err: err}
	}
	if r.closed {
		if relErr := capture.Release(); relErr != nil {
			log.Printf("[recorder] release failed: %v", relErr)
		}
		return ErrSessionNotFound
	}

	r.capture = capture
	r.chunks = nil
	r.collected = make(chan struct{})
	go r.collect(capture, r.collected)
	return nil
}

func (r *Recorder) collect(capture Capture, collected chan struct{}) {
	defer close(collected)
	for fragment := range capture.Fragments() {
		if len(fragment) == 0 {
			continue
		}
		r.mu.Lock()
		if r.collected == collected {
			r.chunks = append(r.chunks, fragment)
		}
		r.mu.Unlock()
	}
}

// Stop releases the device and concatenates every fragment collected so far
// into one asset. The device is released even when nothing was captured, in
// which case ErrNoAudioCaptured is returned. While another Start or Stop is
// still in progress Stop returns ErrRecorderBusy and leaves it alone.
func (r *Recorder) Stop(ctx context.Context) (*model.Asset, error) {
	r.mu.Lock()
	capture := r.capture
	if capture == nil {
		busy := r.busy
		r.mu.Unlock()
		if busy {
			return nil, ErrRecorderBusy
		}
		return nil, ErrNotRecording
	}
	collected := r.collected
	r.capture = nil
	r.busy = true
	r.mu.Unlock()

	if err := capture.Release(); err != nil {
		log.Printf("[recorder] release failed: %v", err)
	}

	select {
	case <-collected:
	case <-ctx.Done():
		log.Printf("[recorder] stopped before all fragments arrived: %v", ctx.Err())
	}

	r.mu.Lock()
	chunks := r.chunks
	r.chunks = nil
	r.collected = nil
	r.busy = false
	r.mu.Unlock()

	size := 0
	for _, c := range chunks {
		size += len(c)
	}
	if size == 0 {
		return nil, ErrNoAudioCaptured
	}

	data := make([]byte, 0, size)
	for _, c := range chunks {
		data = append(data, c...)
	}

	log.Printf("[recorder] captured %d fragments (%d bytes)", len(chunks), size)
	return &model.Asset{
		Name:        capture.Filename(),
		ContentType: capture.ContentType(),
		Data:        data,
	}, nil
}

// Abort releases a running capture and discards its fragments.
func (r *Recorder) Abort() {
	r.mu.Lock()
	capture := r.capture
	r.capture = nil
	r.chunks = nil
	r.collected = nil
	r.mu.Unlock()

	if capture != nil {
		if err := capture.Release(); err != nil {
			log.Printf("[recorder] release failed: %v", err)
		}
	}
}

// Close aborts any capture and refuses later starts.
func (r *Recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mic = nil
	r.mu.Unlock()
	r.Abort()
}
