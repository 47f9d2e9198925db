package studio

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vibz-labs/vibz/backend/internal/model/generation"
	model "github.com/vibz-labs/vibz/backend/internal/model/studio"
	generationsvc "github.com/vibz-labs/vibz/backend/internal/service/generation"
)

// Generator submits a generation request to the music service.
type Generator interface {
	Generate(ctx context.Context, req *generation.Request) (*generation.Response, error)
}

// Options tune session behaviour.
type Options struct {
	NoticeTTL        time.Duration
	FinetunedEnabled bool
	DefaultDuration  int
	Clock            Clock
}

func (o Options) withDefaults() Options {
	if o.NoticeTTL <= 0 {
		o.NoticeTTL = DefaultNoticeTTL
	}
	if o.DefaultDuration == 0 {
		o.DefaultDuration = model.DefaultDurationSeconds
	}
	if o.Clock == nil {
		o.Clock = RealClock
	}
	return o
}

// DraftPatch carries optional draft field updates; nil fields are left alone.
type DraftPatch struct {
	ModelType   *model.ModelType
	DurationSec *int
	TextPrompt  *string
	Seed        *int
	ClearSeed   bool
}

// Session is the interaction controller of one studio page: draft, recorder,
// submission, result and notices. All state changes go through Reduce.
type Session struct {
	id        string
	createdAt time.Time
	gen       Generator
	opts      Options

	mu         sync.Mutex
	state      model.State
	lastActive time.Time

	inFlight atomic.Bool
	recMu    sync.Mutex // serializes recording start and stop
	recorder *Recorder
	notices  *noticeTimer
	events   *EventHub

	done      chan struct{}
	closeOnce sync.Once
}

// NewSession creates an idle session with an empty draft.
func NewSession(id string, gen Generator, opts Options) *Session {
	opts = opts.withDefaults()
	now := opts.Clock.Now().UTC()
	return &Session{
		id:        id,
		createdAt: now,
		gen:       gen,
		opts:      opts,
		state: model.State{
			Draft:    model.NewDraft(opts.DefaultDuration),
			Recorder: model.RecorderIdle,
		},
		lastActive: now,
		recorder:   NewRecorder(),
		notices:    newNoticeTimer(opts.Clock, opts.NoticeTTL),
		events:     newEventHub(id),
		done:       make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Events returns the session's event hub.
func (s *Session) Events() *EventHub { return s.events }

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// View returns the current public snapshot.
func (s *Session) View() model.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.ViewOf(s.id, s.createdAt, s.state)
}

// State returns a copy of the full state, including attachment payloads.
func (s *Session) State() model.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActive returns the time of the last state change or request.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Touch marks the session as used.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = s.opts.Clock.Now().UTC()
	s.mu.Unlock()
}

// dispatch applies actions atomically: either all succeed or none is kept.
func (s *Session) dispatch(actions ...Action) (model.View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatchLocked(actions...)
}

func (s *Session) dispatchLocked(actions ...Action) (model.View, error) {
	next := s.state
	for _, a := range actions {
		var err error
		next, err = Reduce(next, a)
		if err != nil {
			return model.ViewOf(s.id, s.createdAt, s.state), err
		}
	}

	s.lastActive = s.opts.Clock.Now().UTC()
	changed := next.Version != s.state.Version
	s.state = next
	view := model.ViewOf(s.id, s.createdAt, s.state)
	if changed {
		s.events.Publish(EventState, view)
	}
	return view, nil
}

// UpdateDraft applies a patch to the draft. Validation errors raise a notice.
func (s *Session) UpdateDraft(p DraftPatch) (model.View, error) {
	var actions []Action
	if p.ModelType != nil {
		actions = append(actions, SetModel{Model: *p.ModelType, FinetunedEnabled: s.opts.FinetunedEnabled})
	}
	if p.DurationSec != nil {
		actions = append(actions, SetDuration{Seconds: *p.DurationSec})
	}
	if p.TextPrompt != nil {
		actions = append(actions, SetText{Text: *p.TextPrompt})
	}
	if p.ClearSeed {
		actions = append(actions, SetSeed{})
	} else if p.Seed != nil {
		actions = append(actions, SetSeed{Seed: p.Seed})
	}

	view, err := s.dispatch(actions...)
	if err != nil {
		return s.fail(err), err
	}
	return view, nil
}

// SetText replaces the text prompt.
func (s *Session) SetText(text string) model.View {
	view, _ := s.dispatch(SetText{Text: text})
	return view
}

// AttachImage replaces the image attachment.
func (s *Session) AttachImage(asset *model.Asset) (model.View, error) {
	view, err := s.dispatch(AttachImage{Asset: asset})
	if err != nil {
		return s.fail(err), err
	}
	return view, nil
}

// RemoveImage clears the image attachment only.
func (s *Session) RemoveImage() model.View {
	view, _ := s.dispatch(RemoveImage{})
	return view
}

// AttachVoice replaces the voice attachment.
func (s *Session) AttachVoice(asset *model.Asset) (model.View, error) {
	view, err := s.dispatch(AttachVoice{Asset: asset})
	if err != nil {
		return s.fail(err), err
	}
	return view, nil
}

// RemoveVoice clears the voice attachment only.
func (s *Session) RemoveVoice() model.View {
	view, _ := s.dispatch(RemoveVoice{})
	return view
}

// AttachMicrophone makes mic the device used by the next recording.
func (s *Session) AttachMicrophone(mic Microphone) {
	s.recorder.Attach(mic)
	s.events.Publish(EventRecording, map[string]any{"microphone": true})
}

// DetachMicrophone forgets mic if it is still the attached device.
func (s *Session) DetachMicrophone(mic Microphone) {
	s.recorder.Detach(mic)
	s.events.Publish(EventRecording, map[string]any{"microphone": s.recorder.HasMicrophone()})
}

// StartRecording acquires the microphone and enters the recording state.
// A denied or missing microphone raises a permission notice and leaves the
// session idle.
func (s *Session) StartRecording(ctx context.Context) (model.View, error) {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	return s.startRecording(ctx)
}

func (s *Session) startRecording(ctx context.Context) (model.View, error) {
	if s.State().Recorder == model.RecorderRecording {
		return s.View(), ErrAlreadyRecording
	}

	if err := s.recorder.Start(ctx); err != nil {
		if errors.Is(err, ErrAlreadyRecording) || errors.Is(err, ErrSessionNotFound) {
			return s.View(), err
		}
		log.Printf("[studio] session=%s recording not started: %v", s.id, err)
		return s.fail(err), err
	}

	view, err := s.dispatch(RecordingStarted{})
	if err != nil {
		s.recorder.Abort()
		return view, err
	}
	log.Printf("[studio] session=%s recording started", s.id)
	return view, nil
}

// StopRecording releases the microphone and attaches the captured audio as
// the voice input, replacing any previous voice.
func (s *Session) StopRecording(ctx context.Context) (model.View, error) {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	return s.stopRecording(ctx)
}

func (s *Session) stopRecording(ctx context.Context) (model.View, error) {
	if s.State().Recorder != model.RecorderRecording {
		return s.View(), ErrNotRecording
	}

	asset, err := s.recorder.Stop(ctx)
	if errors.Is(err, ErrRecorderBusy) {
		return s.View(), err
	}
	if err != nil && !errors.Is(err, ErrNoAudioCaptured) {
		// The recorder lost its capture; still leave the recording state.
		view, _ := s.dispatch(RecordingStopped{})
		return view, err
	}

	view, dispatchErr := s.dispatch(RecordingStopped{Voice: asset})
	if dispatchErr != nil {
		return view, dispatchErr
	}
	if err != nil {
		return s.fail(err), err
	}

	log.Printf("[studio] session=%s recording stopped voice=%s bytes=%d", s.id, asset.Name, asset.Size())
	return view, nil
}

// ToggleRecording starts a recording when idle and stops it when recording.
// Overlapping calls are serialized, so a double toggle starts then stops.
func (s *Session) ToggleRecording(ctx context.Context) (model.View, error) {
	s.recMu.Lock()
	defer s.recMu.Unlock()

	if s.State().Recorder == model.RecorderRecording {
		return s.stopRecording(ctx)
	}
	return s.startRecording(ctx)
}

// ToggleDebug flips the debug panel of the current result.
func (s *Session) ToggleDebug() (model.View, error) {
	return s.dispatch(ToggleDebug{})
}

// Submit sends the current draft to the generation service. Only one
// submission runs at a time; a concurrent call returns ErrSubmissionInFlight
// without touching the session. Once dispatched the request is not cancelled
// by ctx.
func (s *Session) Submit(ctx context.Context) (*model.Result, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSubmissionInFlight
	}
	defer s.inFlight.Store(false)

	s.mu.Lock()
	if _, err := s.dispatchLocked(SubmitStarted{}); err != nil {
		s.mu.Unlock()
		s.fail(err)
		return nil, err
	}
	s.notices.cancel()
	draft := s.state.Draft
	s.mu.Unlock()

	log.Printf("[studio] session=%s submitting model=%s duration=%d text=%t image=%t voice=%t",
		s.id, draft.ModelType, draft.DurationSeconds, draft.TextPrompt != "", draft.Image != nil, draft.Voice != nil)

	resp, err := s.gen.Generate(context.WithoutCancel(ctx), buildRequest(draft))
	if err != nil {
		s.dispatch(SubmitFailed{})
		log.Printf("[studio] session=%s generation failed: %v", s.id, err)
		s.fail(err)
		return nil, err
	}

	result := model.Result{
		DownloadURL: resp.DownloadURL,
		MetaURL:     resp.MetaURL,
		AudioID:     resp.AudioID,
		SampleRate:  resp.SampleRate,
		UsedPrompt:  resp.UsedPrompt,
	}
	s.dispatch(SubmitSucceeded{Result: result})
	s.events.Publish(EventResult, result)
	return &result, nil
}

func buildRequest(d model.Draft) *generation.Request {
	req := &generation.Request{
		ModelType:   string(d.ModelType),
		DurationSec: d.DurationSeconds,
		Temperature: generation.Temperature,
		TopK:        generation.TopK,
		TextPrompt:  d.TextPrompt,
		Seed:        d.Seed,
	}
	if d.Image != nil {
		req.Image = &generation.FilePart{Filename: d.Image.Name, ContentType: d.Image.ContentType, Data: d.Image.Data}
	}
	if d.Voice != nil {
		req.Voice = &generation.FilePart{Filename: d.Voice.Name, ContentType: d.Voice.ContentType, Data: d.Voice.Data}
	}
	return req
}

// fail raises a transient notice for err and returns the resulting view.
func (s *Session) fail(err error) model.View {
	kind, message := noticeFor(err)
	return s.raise(kind, message)
}

// raise shows a notice, restarting the expiry countdown.
func (s *Session) raise(kind model.NoticeKind, message string) model.View {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, expiresAt := s.notices.schedule(s.expireNotice)
	notice := model.Notice{Seq: seq, Kind: kind, Message: message, ExpiresAt: expiresAt}
	view, _ := s.dispatchLocked(ShowNotice{Notice: notice})
	s.events.Publish(EventNotice, notice)
	return view
}

func (s *Session) expireNotice(seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.state.Version
	s.dispatchLocked(ClearNotice{Seq: seq})
	if s.state.Version != before {
		s.events.Publish(EventNotice, nil)
	}
}

func noticeFor(err error) (model.NoticeKind, string) {
	var validationErr *ValidationError
	var permissionErr *PermissionError
	switch {
	case errors.As(err, &validationErr):
		return model.NoticeValidation, validationErr.Message
	case errors.As(err, &permissionErr):
		return model.NoticePermission, PermissionDeniedMessage
	case errors.Is(err, ErrNoAudioCaptured):
		return model.NoticeRecording, "Recording captured no audio."
	}

	var svcErr *generationsvc.ServiceError
	if errors.As(err, &svcErr) {
		return model.NoticeService, svcErr.Message
	}
	return model.NoticeTransport, generationsvc.UserMessage(err)
}

// Close releases the microphone, stops timers and drops subscribers.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.recorder.Close()
		s.notices.cancel()
		s.events.Close()
	})
}
