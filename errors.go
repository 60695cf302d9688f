package genflow

import "fmt"

// BuildError marks a failure that happened before any network call: the
// request could not be translated to the provider's wire format. Build
// errors are never retried.
type BuildError struct {
	Provider string
	Err      error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("failed to build %s request: %v", e.Provider, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }
