package remote

import "fmt"

// FetchError reports a failed calendar query: network failure, non-2xx
// status, or a malformed payload. The caller treats it as "no update" and
// leaves the local store untouched.
type FetchError struct {
	Status int
	Detail string
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("remote: fetch failed: %v", e.Err)
	case e.Detail != "":
		return fmt.Sprintf("remote: fetch failed: status %d: %s", e.Status, e.Detail)
	default:
		return fmt.Sprintf("remote: fetch failed: status %d", e.Status)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// MutationError reports a failed remote create, update or delete. The local
// operation proceeds regardless; the caller surfaces a warning.
type MutationError struct {
	Op       string
	RemoteID string
	Status   int
	Detail   string
	Err      error
}

func (e *MutationError) Error() string {
	target := e.Op
	if e.RemoteID != "" {
		target = fmt.Sprintf("%s %s", e.Op, e.RemoteID)
	}
	switch {
	case e.Err != nil:
		return fmt.Sprintf("remote: %s failed: %v", target, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("remote: %s failed: status %d: %s", target, e.Status, e.Detail)
	default:
		return fmt.Sprintf("remote: %s failed: status %d", target, e.Status)
	}
}

func (e *MutationError) Unwrap() error {
	return e.Err
}
