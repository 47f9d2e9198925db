package studio

import (
	"errors"
	"log"
	"net/http"

	generationService "github.com/vibz-labs/vibz/backend/internal/service/generation"
	studioService "github.com/vibz-labs/vibz/backend/internal/service/studio"
	"github.com/vibz-labs/vibz/backend/pkg/utils"
)

// statusFor maps a studio or generation error to an HTTP status and the
// message shown to the user.
func statusFor(err error) (int, string) {
	var validationErr *studioService.ValidationError
	var permissionErr *studioService.PermissionError
	var serviceErr *generationService.ServiceError
	var transportErr *generationService.TransportError

	switch {
	case errors.Is(err, studioService.ErrSessionNotFound):
		return http.StatusNotFound, err.Error()
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, validationErr.Message
	case errors.As(err, &permissionErr):
		return http.StatusForbidden, studioService.PermissionDeniedMessage
	case errors.Is(err, studioService.ErrAlreadyRecording),
		errors.Is(err, studioService.ErrNotRecording),
		errors.Is(err, studioService.ErrRecorderBusy),
		errors.Is(err, studioService.ErrSubmissionInFlight):
		return http.StatusConflict, err.Error()
	case errors.Is(err, studioService.ErrNoResult):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, studioService.ErrNoAudioCaptured):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.As(err, &serviceErr):
		return http.StatusBadGateway, serviceErr.Message
	case errors.As(err, &transportErr):
		return http.StatusBadGateway, generationService.UserMessage(err)
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func respondError(w http.ResponseWriter, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[studio] request failed: %v", err)
	}
	utils.RespondError(w, status, message)
}
