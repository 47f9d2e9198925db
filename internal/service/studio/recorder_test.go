package studio

import (
	"context"
	"errors"
	"testing"
)

type blockingMicrophone struct {
	entered chan struct{}
	grant   chan struct{}
	capture *fakeCapture
}

func (m *blockingMicrophone) Acquire(ctx context.Context) (Capture, error) {
	close(m.entered)
	<-m.grant
	return m.capture, nil
}

func TestRecorderConcatenatesFragments(t *testing.T) {
	rec := NewRecorder()
	rec.Attach(&fakeMicrophone{fragments: [][]byte{[]byte("one"), []byte("two")}})

	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	if !rec.Active() {
		t.Fatal("expected active recorder")
	}

	asset, err := rec.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop err: %v", err)
	}
	if string(asset.Data) != "onetwo" || asset.Size() != 6 {
		t.Fatalf("unexpected asset: %q", asset.Data)
	}
	if rec.Active() {
		t.Fatal("recorder should be idle after stop")
	}
}

func TestRecorderStopWithoutStart(t *testing.T) {
	rec := NewRecorder()
	if _, err := rec.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("err = %v", err)
	}
}

func TestRecorderDetachOnlyCurrentDevice(t *testing.T) {
	rec := NewRecorder()
	first, second := &fakeMicrophone{}, &fakeMicrophone{}
	rec.Attach(first)
	rec.Attach(second)

	rec.Detach(first)
	if !rec.HasMicrophone() {
		t.Fatal("detaching a replaced device must keep the current one")
	}
	rec.Detach(second)
	if rec.HasMicrophone() {
		t.Fatal("expected no microphone")
	}
}

func TestRecorderAbortDiscardsFragments(t *testing.T) {
	mic := &fakeMicrophone{fragments: [][]byte{[]byte("x")}}
	rec := NewRecorder()
	rec.Attach(mic)
	rec.Start(context.Background())

	rec.Abort()

	if mic.released() != 1 {
		t.Fatal("abort must release the capture")
	}
	if _, err := rec.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("err = %v", err)
	}
}

func TestRecorderCloseDuringAcquireReleasesCapture(t *testing.T) {
	capture := &fakeCapture{ch: make(chan []byte)}
	mic := &blockingMicrophone{entered: make(chan struct{}), grant: make(chan struct{}), capture: capture}
	rec := NewRecorder()
	rec.Attach(mic)

	done := make(chan error, 1)
	go func() { done <- rec.Start(context.Background()) }()

	<-mic.entered
	if err := rec.Start(context.Background()); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("start during acquire err = %v", err)
	}
	rec.Close()
	close(mic.grant)

	if err := <-done; !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
	if !capture.isReleased() {
		t.Fatal("capture acquired after close must be released")
	}
}

func TestRecorderBusyWhileFinalizing(t *testing.T) {
	mic := newGatedMicrophone("late")
	rec := NewRecorder()
	rec.Attach(mic)
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start err: %v", err)
	}

	type result struct {
		data string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		asset, err := rec.Stop(context.Background())
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{data: string(asset.Data)}
	}()
	<-mic.releasing

	if _, err := rec.Stop(context.Background()); !errors.Is(err, ErrRecorderBusy) {
		t.Fatalf("overlapping stop err = %v, want ErrRecorderBusy", err)
	}
	if err := rec.Start(context.Background()); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("start during finalize err = %v, want ErrAlreadyRecording", err)
	}
	if !rec.Active() {
		t.Fatal("finalizing recorder should report active")
	}

	close(mic.gate)
	res := <-done
	if res.err != nil || res.data != "late" {
		t.Fatalf("stop = %q, %v", res.data, res.err)
	}
	if rec.Active() {
		t.Fatal("recorder should be idle after finalize")
	}
}
