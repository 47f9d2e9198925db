package studio

import (
	"context"
	"sync"
	"time"

	"github.com/vibz-labs/vibz/backend/internal/model/generation"
)

type fakeGenerator struct {
	mu      sync.Mutex
	calls   int
	last    *generation.Request
	resp    *generation.Response
	err     error
	started chan struct{}
	release chan struct{}
}

func (g *fakeGenerator) Generate(ctx context.Context, req *generation.Request) (*generation.Response, error) {
	g.mu.Lock()
	g.calls++
	g.last = req
	started, release := g.started, g.release
	resp, err := g.resp, g.err
	g.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = &generation.Response{AudioID: "default"}
	}
	return resp, nil
}

func (g *fakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *fakeGenerator) Last() *generation.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs every timer that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeMicrophone struct {
	mu        sync.Mutex
	deny      error
	fragments [][]byte
	acquired  int
	captures  []*fakeCapture
}

func (m *fakeMicrophone) Acquire(ctx context.Context) (Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deny != nil {
		return nil, m.deny
	}
	m.acquired++
	c := &fakeCapture{ch: make(chan []byte, len(m.fragments))}
	for _, f := range m.fragments {
		c.ch <- f
	}
	m.captures = append(m.captures, c)
	return c, nil
}

func (m *fakeMicrophone) released() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.captures {
		if c.isReleased() {
			n++
		}
	}
	return n
}

type fakeCapture struct {
	mu       sync.Mutex
	ch       chan []byte
	released bool
}

func (c *fakeCapture) Fragments() <-chan []byte { return c.ch }

func (c *fakeCapture) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.released {
		c.released = true
		close(c.ch)
	}
	return nil
}

func (c *fakeCapture) isReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

func (c *fakeCapture) Filename() string    { return "recording.webm" }
func (c *fakeCapture) ContentType() string { return "audio/webm" }

// gatedMicrophone hands out captures whose Release blocks until gate is closed.
type gatedMicrophone struct {
	mu        sync.Mutex
	fragment  []byte
	releasing chan struct{}
	gate      chan struct{}
	acquired  int
}

func newGatedMicrophone(fragment string) *gatedMicrophone {
	return &gatedMicrophone{
		fragment:  []byte(fragment),
		releasing: make(chan struct{}, 4),
		gate:      make(chan struct{}),
	}
}

func (m *gatedMicrophone) Acquire(ctx context.Context) (Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquired++
	c := &gatedCapture{fakeCapture: fakeCapture{ch: make(chan []byte, 1)}, mic: m}
	c.ch <- m.fragment
	return c, nil
}

func (m *gatedMicrophone) acquisitions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquired
}

type gatedCapture struct {
	fakeCapture
	mic *gatedMicrophone
}

func (c *gatedCapture) Release() error {
	c.mic.releasing <- struct{}{}
	<-c.mic.gate
	return c.fakeCapture.Release()
}
