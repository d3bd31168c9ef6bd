package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Well-known domain error codes returned by the backend.
const (
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeDuplicateOrder    = "DUPLICATE_ORDER"
	CodeOrderNotFound     = "ORDER_NOT_FOUND"
)

// RemoteError is the structured failure shape of every backend call. The
// Retriable flag drives the sync engine's retry/purge policy: transport
// problems and 5xx responses retry, domain and validation rejections do not.
type RemoteError struct {
	Code      string
	Message   string
	Status    int
	Retriable bool
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("remote error (status %d): %s", e.Status, e.Message)
}

// Retriable reports whether err should be retried with backoff. Anything that
// is not an explicit terminal RemoteError counts as transient: timeouts,
// connection resets and 5xx all land here.
func Retriable(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Retriable
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// hardErrorMarkers identify failures that can never succeed on retry:
// constraint violations, permission denials, missing references and malformed
// identifiers. Their presence pauses automatic retrying for the whole batch.
var hardErrorMarkers = []string{
	"constraint",
	"violates",
	"permission denied",
	"row-level security",
	"not found",
	"does not exist",
	"invalid input syntax",
	"invalid uuid",
}

// IsHardError scans an error text for markers of a structural failure.
func IsHardError(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range hardErrorMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// notFoundMarkers flag a delivery confirmation against an order that no longer
// exists server-side.
var notFoundMarkers = []string{
	"not found",
	"no existe",
	"does not exist",
	"no longer exists",
}

// IsNotFoundMessage reports whether a result message says the order is gone.
func IsNotFoundMessage(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range notFoundMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
