package supervisor

// alreadyRunningError signals a start request for a session whose pipeline is
// already running (mapped to 409 by the HTTP layer).
type alreadyRunningError struct{ id string }

func (e alreadyRunningError) Error() string { return "processing already in progress for session " + e.id }

// IsAlreadyRunning reports whether err indicates a duplicate start request.
func IsAlreadyRunning(err error) bool {
	_, ok := err.(alreadyRunningError)
	return ok
}

// busyError signals the injected cap on simultaneous pipelines was reached
// (mapped to 429).
type busyError struct{ cap int }

func (e busyError) Error() string { return "too many running pipelines" }

// IsBusy reports whether err indicates backpressure on pipeline starts.
func IsBusy(err error) bool {
	_, ok := err.(busyError)
	return ok
}

// notRunningError signals a cancel request for a session with no active pipeline.
type notRunningError struct{ id string }

func (e notRunningError) Error() string { return "no running pipeline for session " + e.id }

// IsNotRunning reports whether err indicates there was nothing to cancel.
func IsNotRunning(err error) bool {
	_, ok := err.(notRunningError)
	return ok
}

// stillRunningError signals a cleanup request for a session that has not
// reached a terminal state yet.
type stillRunningError struct{ id string }

func (e stillRunningError) Error() string { return "session still running: " + e.id }

// IsStillRunning reports whether err indicates cleanup was refused.
func IsStillRunning(err error) bool {
	_, ok := err.(stillRunningError)
	return ok
}

// notReadyError signals a results request before the session completed.
type notReadyError struct{ id string }

func (e notReadyError) Error() string { return "results not ready for session " + e.id }

// IsNotReady reports whether err indicates results are not available yet.
func IsNotReady(err error) bool {
	_, ok := err.(notReadyError)
	return ok
}

// alreadyProcessedError signals a start request for a session already in a
// terminal state; a fresh start requires cleanup first since stages are not
// safe to blindly rerun over existing workspace state.
type alreadyProcessedError struct{ id string }

func (e alreadyProcessedError) Error() string {
	return "session " + e.id + " already processed; cleanup before restarting"
}

// IsAlreadyProcessed reports whether err indicates a restart without cleanup.
func IsAlreadyProcessed(err error) bool {
	_, ok := err.(alreadyProcessedError)
	return ok
}

// Exported constructors so other layers (and their tests) can produce the
// canonical error values without reaching into this package's internals.

func ErrAlreadyRunning(id string) error   { return alreadyRunningError{id: id} }
func ErrBusy(max int) error               { return busyError{cap: max} }
func ErrNotRunning(id string) error       { return notRunningError{id: id} }
func ErrStillRunning(id string) error     { return stillRunningError{id: id} }
func ErrNotReady(id string) error         { return notReadyError{id: id} }
func ErrAlreadyProcessed(id string) error { return alreadyProcessedError{id: id} }
