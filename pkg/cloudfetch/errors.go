package cloudfetch

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// AuthError is the failure of a single strategy.
type AuthError struct {
	Strategy string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("strategy %s: %v", e.Strategy, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }
func (e *AuthError) Cause() error  { return e.Err }

// AuthResolutionError means no strategy produced a credential.
type AuthResolutionError struct {
	Attempts []*AuthError
}

func (e *AuthResolutionError) Error() string {
	if len(e.Attempts) == 0 {
		return "no credential: no authentication strategies configured"
	}
	tried := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		tried[i] = a.Strategy
	}
	return fmt.Sprintf("no credential after trying [%s], last failure: %v",
		strings.Join(tried, ", "), e.Last())
}

// Last returns the most recent attempt, or nil if nothing was tried.
func (e *AuthResolutionError) Last() *AuthError {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1]
}

func (e *AuthResolutionError) Unwrap() error {
	if last := e.Last(); last != nil {
		return last
	}
	return nil
}

func (e *AuthResolutionError) Cause() error { return e.Unwrap() }

// AuthVerificationError means a resolved credential was rejected by the
// remote service (or the service could not be asked).
type AuthVerificationError struct {
	Provider string
	Err      error
}

func (e *AuthVerificationError) Error() string {
	return fmt.Sprintf("%s rejected credential: %v", e.Provider, e.Err)
}

func (e *AuthVerificationError) Unwrap() error { return e.Err }
func (e *AuthVerificationError) Cause() error  { return e.Err }

// FetchServiceError is a non-success answer from a reachable service.
type FetchServiceError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *FetchServiceError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("service error %d %s: %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("service error %d: %s", e.StatusCode, msg)
}

func (e *FetchServiceError) Unwrap() error { return e.Err }
func (e *FetchServiceError) Cause() error  { return e.Err }

// TransportError is a network-level failure reaching an endpoint.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("transport: %v", e.Err)
	}
	return fmt.Sprintf("transport to %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
func (e *TransportError) Cause() error  { return e.Err }

// DecodeError means the payload could not be treated as text.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode: %v", e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }
func (e *DecodeError) Cause() error  { return e.Err }

// StageError attaches the pipeline stage that failed.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
func (e *StageError) Cause() error  { return e.Err }

// FailedStage returns the stage recorded in err, or Start if err does not
// carry one.
func FailedStage(err error) State {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return Start
}

// ExitCode maps a pipeline result to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
