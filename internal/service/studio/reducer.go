package studio

import (
	model "github.com/vibz-labs/vibz/backend/internal/model/studio"
)

// Action is one state transition request for a session.
type Action interface {
	action()
}

// SetText replaces the text prompt.
type SetText struct{ Text string }

// SetModel selects the generation model.
type SetModel struct {
	Model            model.ModelType
	FinetunedEnabled bool
}

// SetDuration sets the requested clip length in seconds.
type SetDuration struct{ Seconds int }

// SetSeed sets or clears the sampling seed.
type SetSeed struct{ Seed *int }

// AttachImage replaces the image attachment.
type AttachImage struct{ Asset *model.Asset }

// RemoveImage clears the image attachment.
type RemoveImage struct{}

// AttachVoice replaces the voice attachment.
type AttachVoice struct{ Asset *model.Asset }

// RemoveVoice clears the voice attachment.
type RemoveVoice struct{}

// RecordingStarted moves the recorder from idle to recording.
type RecordingStarted struct{}

// RecordingStopped finishes a recording; a nil Voice keeps the current attachment.
type RecordingStopped struct{ Voice *model.Asset }

// SubmitStarted enters the loading state.
type SubmitStarted struct{}

// SubmitSucceeded stores a fresh result.
type SubmitSucceeded struct{ Result model.Result }

// SubmitFailed leaves the loading state without a result.
type SubmitFailed struct{}

// ToggleDebug flips the debug panel of the current result.
type ToggleDebug struct{}

// ShowNotice displays a transient notice.
type ShowNotice struct{ Notice model.Notice }

// ClearNotice removes the notice with the given sequence number, if still shown.
type ClearNotice struct{ Seq int64 }

func (SetText) action()          {}
func (SetModel) action()         {}
func (SetDuration) action()      {}
func (SetSeed) action()          {}
func (AttachImage) action()      {}
func (RemoveImage) action()      {}
func (AttachVoice) action()      {}
func (RemoveVoice) action()      {}
func (RecordingStarted) action() {}
func (RecordingStopped) action() {}
func (SubmitStarted) action()    {}
func (SubmitSucceeded) action()  {}
func (SubmitFailed) action()     {}
func (ToggleDebug) action()      {}
func (ShowNotice) action()       {}
func (ClearNotice) action()      {}

// Reduce applies an action to a state and returns the next state. The input
// state is never modified. A rejected action returns the input state and the
// error; an action that changes nothing returns the input state unchanged.
func Reduce(s model.State, a Action) (model.State, error) {
	next := s

	switch act := a.(type) {
	case SetText:
		next.Draft.TextPrompt = act.Text
	case SetModel:
		if !act.Model.Valid() {
			return s, ErrInvalidModel
		}
		if act.Model == model.ModelFinetuned && !act.FinetunedEnabled {
			return s, ErrModelUnavailable
		}
		next.Draft.ModelType = act.Model
	case SetDuration:
		if act.Seconds < model.MinDurationSeconds || act.Seconds > model.MaxDurationSeconds {
			return s, ErrInvalidDuration
		}
		next.Draft.DurationSeconds = act.Seconds
	case SetSeed:
		if act.Seed == nil {
			next.Draft.Seed = nil
		} else {
			v := *act.Seed
			next.Draft.Seed = &v
		}
	case AttachImage:
		if act.Asset == nil {
			return s, ErrMissingAsset
		}
		next.Draft.Image = act.Asset
	case RemoveImage:
		if s.Draft.Image == nil {
			return s, nil
		}
		next.Draft.Image = nil
	case AttachVoice:
		if act.Asset == nil {
			return s, ErrMissingAsset
		}
		next.Draft.Voice = act.Asset
	case RemoveVoice:
		if s.Draft.Voice == nil {
			return s, nil
		}
		next.Draft.Voice = nil
	case RecordingStarted:
		if s.Recorder == model.RecorderRecording {
			return s, ErrAlreadyRecording
		}
		next.Recorder = model.RecorderRecording
	case RecordingStopped:
		if s.Recorder != model.RecorderRecording {
			return s, ErrNotRecording
		}
		next.Recorder = model.RecorderIdle
		if act.Voice != nil {
			next.Draft.Voice = act.Voice
		}
	case SubmitStarted:
		if s.Loading {
			return s, ErrSubmissionInFlight
		}
		if !s.Draft.Submittable() {
			return s, ErrNoInput
		}
		next.Loading = true
		next.Notice = nil
		next.Result = nil
		next.ShowDebug = false
	case SubmitSucceeded:
		result := act.Result
		next.Loading = false
		next.Result = &result
		next.ShowDebug = false
	case SubmitFailed:
		next.Loading = false
	case ToggleDebug:
		if s.Result == nil {
			return s, ErrNoResult
		}
		next.ShowDebug = !s.ShowDebug
	case ShowNotice:
		notice := act.Notice
		next.Notice = &notice
	case ClearNotice:
		if s.Notice == nil || s.Notice.Seq != act.Seq {
			return s, nil
		}
		next.Notice = nil
	default:
		return s, nil
	}

	next.Version = s.Version + 1
	return next, nil
}
