package scale

import (
	"errors"
	"fmt"
)

// ErrMalformed is matched by every decode failure.
var ErrMalformed = errors.New("malformed scale data")

// MalformedError reports where in the buffer decoding stopped.
type MalformedError struct {
	Offset int
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed scale data at offset %d: %s", e.Offset, e.Reason)
}

func (e *MalformedError) Is(target error) bool { return target == ErrMalformed }

// IsMalformed returns the MalformedError wrapped in err, if any.
func IsMalformed(err error) (*MalformedError, bool) {
	var m *MalformedError
	if errors.As(err, &m) {
		return m, true
	}
	return nil, false
}
