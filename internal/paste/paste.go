package paste

import (
	"net/http"
	"time"

	"github.com/tombowditch/mystbin-go/internal/config"
	"github.com/tombowditch/mystbin-go/internal/store"
)

// ValidationError holds validation failure details.
type ValidationError struct {
	StatusCode int
	Message    string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validate checks that a paste can be stored: at least one file, no empty
// file, combined size within the payload limit and an expiry in the future.
// Returns nil if valid, or a *ValidationError with appropriate status code and message.
func Validate(files []store.File, expires *time.Time, now time.Time) error {
	if len(files) == 0 {
		return &ValidationError{
			StatusCode: http.StatusBadRequest,
			Message:    "a paste needs at least one file",
		}
	}

	total := 0
	for _, f := range files {
		if f.Content == "" {
			return &ValidationError{
				StatusCode: http.StatusBadRequest,
				Message:    "file content cannot be empty",
			}
		}
		total += len(f.Content)
	}

	if total > config.MockMaxPayloadSize {
		return &ValidationError{
			StatusCode: http.StatusRequestEntityTooLarge,
			Message:    "payload too big",
		}
	}

	if expires != nil && !expires.After(now) {
		return &ValidationError{
			StatusCode: http.StatusBadRequest,
			Message:    "expiry must be in the future",
		}
	}

	return nil
}
