package mxtool

import (
	"errors"
	"fmt"
)

// AbortError terminates the whole run. It is returned through the normal
// error path and converted into the process exit status in Main, so every
// fatal condition prints exactly one descriptive line.
type AbortError struct {
	Code int
	Msg  string
}

func (e *AbortError) Error() string {
	return e.Msg
}

// abortf builds an AbortError with a formatted message.
func abortf(code int, format string, args ...any) *AbortError {
	return &AbortError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// exitStatus maps an error chain to the process exit code. A nil error is
// success; an AbortError carries its own code; anything else is 1.
func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	var abort *AbortError
	if errors.As(err, &abort) {
		if abort.Code == 0 {
			return 1
		}
		return abort.Code
	}
	return 1
}
