package generation

import (
	"errors"
	"fmt"
)

// GenericFailureMessage is shown when the service could not be reached or
// answered with something that is not a generation result.
const GenericFailureMessage = "Failed to generate music. Please try again."

// ErrInvalidResource rejects a result URL that is neither a service path nor an http(s) URL.
var ErrInvalidResource = errors.New("invalid resource url")

// ServiceError is a non-success HTTP answer from the generation service.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	return e.Message
}

// TransportError wraps network and decoding failures.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UserMessage returns the text a user should see for a submission error.
func UserMessage(err error) string {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Message
	}
	return GenericFailureMessage
}

func serverErrorMessage(status int) string {
	return fmt.Sprintf("Server error (%d)", status)
}
