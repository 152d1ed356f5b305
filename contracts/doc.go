// Package contracts defines the error kinds and wire-level error shape
// shared by every other package in this module.
//
// Every error the transport surfaces to a caller is one of a small set
// of typed kinds (ValidationError, TimeoutError, DLXError, ...), each
// implementing error and an internal Kind() method so callers can
// switch on errors.As without depending on string matching. ErrorRecord
// is the JSON-safe projection of any error crossing the wire, used by
// the serialization package to encode error bodies and revive them on
// the other side.
package contracts
