package studio

import (
	"errors"
	"fmt"
)

// ValidationError rejects a draft or an action before any device or network work.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

var (
	ErrNoInput          = &ValidationError{Message: "Please provide a text prompt, image, or voice input."}
	ErrInvalidDuration  = &ValidationError{Message: "duration must be between 20 and 45 seconds"}
	ErrInvalidModel     = &ValidationError{Message: "unknown model type"}
	ErrModelUnavailable = &ValidationError{Message: "finetuned model not available yet"}
	ErrMissingAsset     = &ValidationError{Message: "attachment is empty"}
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrAlreadyRecording   = errors.New("recording already in progress")
	ErrNotRecording       = errors.New("no recording in progress")
	ErrRecorderBusy       = errors.New("microphone is still being acquired or released")
	ErrSubmissionInFlight = errors.New("a generation request is already in flight")
	ErrNoResult           = errors.New("no generation result")
	ErrNoAudioCaptured    = errors.New("recording captured no audio")
	ErrNoMicrophone       = errors.New("no microphone attached")
)

// PermissionDeniedMessage is the notice shown when the microphone cannot be used.
const PermissionDeniedMessage = "Microphone access denied. Please allow microphone access."

// PermissionError means the microphone could not be acquired.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	if e.Err == nil {
		return "microphone permission denied"
	}
	return fmt.Sprintf("microphone permission denied: %v", e.Err)
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}
