package imagebuilder

import "fmt"

// AuthError indicates the token endpoint rejected the credentials or was
// unreachable.
type AuthError struct {
	Status int // 0 when the endpoint was unreachable
	Detail string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("token endpoint returned %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("token endpoint unreachable: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RequestError indicates a non-2xx response from the image-builder API.
type RequestError struct {
	Method   string
	Endpoint string
	Status   int
	Detail   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.Endpoint, e.Status, e.Detail)
}

// MalformedResponseError indicates the upstream returned a collection
// shape the caller did not expect (e.g. a list where a keyed object was
// expected). Detected explicitly at the decode boundary rather than
// crashing on a missing key.
type MalformedResponseError struct {
	Endpoint string
	Expected string // "object" or "list"
	Got      string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("unexpected %s response from %s (expected %s)", e.Got, e.Endpoint, e.Expected)
}
