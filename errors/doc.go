// Package errors provides the structured error taxonomy shared by both sides
// of a frame transport.
//
// # Error Categories
//
//   - Transient: a later attempt may succeed (expired calls, closed channels)
//   - Permanent: retrying will not help (rejected origin, unknown type, bad args)
//   - Internal: bugs and recovered panics
//
// # Usage
//
//	err := errors.New(errors.ErrCodeUnknownType, "no client for storage")
//	if errors.Is(err, errors.ErrCodeUnknownType) {
//	    // register the client first
//	}
//
// # On the Wire
//
// Errors marshal to JSON so a failing remote method can report its failure
// inside a callback message. A decoded error keeps its code, category,
// message and metadata; the cause is reduced to its text.
package errors
