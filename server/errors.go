package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tkrehbiel/activitycore/server/activity"
)

var (
	// ErrValidation is a malformed or type-inconsistent payload
	ErrValidation = activity.ErrValidation
	// ErrAuthentication is a missing or bad signature, or nobody logged in
	ErrAuthentication = errors.New("not authenticated")
	// ErrForbidden is an authenticated caller doing something they may not
	ErrForbidden = fmt.Errorf("%w: forbidden", ErrAuthentication)
	// ErrResolution is an actor or object that couldn't be found locally or remotely
	ErrResolution = errors.New("resolution failed")
	// ErrNotFound is a resolution failure where we know the thing doesn't exist
	ErrNotFound = fmt.Errorf("%w: not found", ErrResolution)
	// ErrDelivery is a remote server that was unreachable or said no
	ErrDelivery = errors.New("delivery failed")
	// ErrUnsupported is an activity type we have no handler for
	ErrUnsupported = errors.New("unsupported activity")
)

// DeliveryError carries the response status from a remote server.
type DeliveryError struct {
	URI    string
	Status int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: %s answered %d", ErrDelivery, e.URI, e.Status)
}

func (e *DeliveryError) Unwrap() error {
	return ErrDelivery
}

// statusFor maps an error to the HTTP status we answer with
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnsupported):
		return http.StatusMethodNotAllowed
	case errors.Is(err, ErrResolution), errors.Is(err, ErrDelivery):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
