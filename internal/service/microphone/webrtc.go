package microphone

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/vibz-labs/vibz/backend/internal/service/studio"
)

const (
	opusSampleRate = 48000
	opusChannels   = 2
)

// RTCMicrophone receives the browser microphone as an inbound Opus track.
// RTP payloads are wrapped into Ogg pages without decoding; each page is one
// fragment of the recording.
type RTCMicrophone struct {
	pc           *webrtc.PeerConnection
	grantTimeout time.Duration

	mu      sync.Mutex
	track   *webrtc.TrackRemote
	ready   chan struct{}
	active  *capture
	ogg     *oggwriter.OggWriter
	closed  chan struct{}
	closing sync.Once
}

var _ studio.Microphone = (*RTCMicrophone)(nil)

// NewRTCMicrophone creates a receive-only peer connection for one microphone.
func NewRTCMicrophone(grantTimeout time.Duration) (*RTCMicrophone, error) {
	if grantTimeout <= 0 {
		grantTimeout = DefaultGrantTimeout
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, err
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return nil, err
	}

	m := &RTCMicrophone{
		pc:           pc,
		grantTimeout: grantTimeout,
		ready:        make(chan struct{}),
		closed:       make(chan struct{}),
	}
	pc.OnTrack(m.onTrack)
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed ||
			s == webrtc.PeerConnectionStateDisconnected {
			m.Close()
		}
	})
	return m, nil
}

// Answer applies the browser's SDP offer and returns the answer once ICE
// gathering has completed.
func (m *RTCMicrophone) Answer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := m.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := m.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(m.pc)
	if err := m.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return m.pc.LocalDescription(), nil
}

// Done is closed when the peer connection is gone.
func (m *RTCMicrophone) Done() <-chan struct{} {
	return m.closed
}

func (m *RTCMicrophone) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}

	m.mu.Lock()
	if m.track != nil {
		m.mu.Unlock()
		log.Printf("[microphone] ignoring extra audio track %s", track.ID())
		return
	}
	m.track = track
	close(m.ready)
	m.mu.Unlock()

	log.Printf("[microphone] webrtc track %s codec=%s", track.ID(), track.Codec().MimeType)

	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			return
		}

		m.mu.Lock()
		if m.ogg != nil {
			if err := m.ogg.WriteRTP(packet); err != nil {
				log.Printf("[microphone] ogg write failed: %v", err)
			}
		}
		m.mu.Unlock()
	}
}

// Acquire waits for the browser's audio track and starts a new Ogg stream.
func (m *RTCMicrophone) Acquire(ctx context.Context) (studio.Capture, error) {
	timer := time.NewTimer(m.grantTimeout)
	defer timer.Stop()

	select {
	case <-m.ready:
	case <-timer.C:
		return nil, ErrGrantTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closed:
		return nil, ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.closed:
		return nil, ErrClosed
	default:
	}
	if m.active != nil {
		return nil, ErrBusy
	}

	c := newCapture("recording.ogg", "audio/ogg", m.release)
	ogg, err := oggwriter.NewWith(c, opusSampleRate, opusChannels)
	if err != nil {
		c.finish()
		return nil, err
	}
	m.active = c
	m.ogg = ogg
	return c, nil
}

// release ends the capture and hangs up; the browser stops its track when
// the peer connection closes.
func (m *RTCMicrophone) release(c *capture) error {
	m.mu.Lock()
	var err error
	if m.active == c {
		err = m.ogg.Close()
		m.ogg = nil
		m.active = nil
	}
	m.mu.Unlock()

	if closeErr := m.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Close tears down the peer connection and any running capture.
func (m *RTCMicrophone) Close() error {
	var err error
	m.closing.Do(func() {
		close(m.closed)

		m.mu.Lock()
		c := m.active
		if m.ogg != nil {
			m.ogg.Close()
			m.ogg = nil
		}
		m.active = nil
		m.mu.Unlock()
		if c != nil {
			c.finish()
		}

		err = m.pc.Close()
		if errors.Is(err, webrtc.ErrConnectionClosed) {
			err = nil
		}
	})
	return err
}
