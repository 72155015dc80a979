package activity

import (
	"errors"
	"fmt"
	"net/url"
)

// ErrValidation marks a payload that is malformed or whose declared type
// doesn't fit what it is being decoded into.
var ErrValidation = errors.New("invalid activitypub payload")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func asValidation(err error) error {
	if err == nil || errors.Is(err, ErrValidation) {
		return err
	}
	return fmt.Errorf("%w: %s", ErrValidation, err)
}

// checkURI rejects strings that can't be parsed as a URI reference.
// Empty is fine, ids are optional.
func checkURI(s string) error {
	if s == "" {
		return nil
	}
	if _, err := url.Parse(s); err != nil {
		return invalid("malformed uri [%s]", s)
	}
	return nil
}
