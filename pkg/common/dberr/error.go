// Package dberr defines the structured error kinds that cross the wire as
// Exception packets and that the connection handler switches on to decide
// whether a connection survives a faulting query.
package dberr

import (
	"fmt"
	"net"
)

// Kind identifies one of the error kinds the core must distinguish (spec §7).
type Kind uint16

const (
	Unknown Kind = iota
	UnknownDatabase
	UnexpectedPacket
	UnknownPacket
	DuplicateColumn
	ShapeMismatch
	ProtocolMisuse
	CodecError
	UpstreamError
	Timeout
)

var kindNames = map[Kind]string{
	Unknown:           "UNKNOWN",
	UnknownDatabase:   "UNKNOWN_DATABASE",
	UnexpectedPacket:  "UNEXPECTED_PACKET",
	UnknownPacket:     "UNKNOWN_PACKET",
	DuplicateColumn:   "DUPLICATE_COLUMN",
	ShapeMismatch:     "SHAPE_MISMATCH",
	ProtocolMisuse:    "PROTOCOL_MISUSE",
	CodecError:        "CODEC_ERROR",
	UpstreamError:     "UPSTREAM_ERROR",
	Timeout:           "TIMEOUT",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// Error is the leaf error type every package in this module returns instead
// of a bare fmt.Errorf. It carries exactly what the Exception packet (spec
// §6) needs: a stable numeric code, the kind name, and a human message.
type Error struct {
	kind    Kind
	message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

// Code returns the stable wire code for this error's kind.
func (e *Error) Code() uint16 {
	return uint16(e.kind)
}

// Name returns the wire-stable kind name, e.g. "UNEXPECTED_PACKET".
func (e *Error) Name() string {
	return e.kind.String()
}

// Message returns the human-readable detail, distinct from Name.
func (e *Error) Message() string {
	return e.message
}

func (e *Error) Kind() Kind {
	return e.kind
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...)}
}

// KindOf reports the Kind of err if it is (or wraps, via errors.As semantics
// at the call site) a *Error, otherwise Unknown.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.kind
	}
	return Unknown
}

// IsFatal reports whether err should terminate the connection outright
// rather than merely end the current query (spec §7: UnknownPacket desyncs
// the framing, and Timeout means a deadline has already elapsed on the
// socket, so the connection cannot be trusted to still be in sync either).
func IsFatal(err error) bool {
	k := KindOf(err)
	return k == UnknownPacket || k == Timeout
}

func NewUnknownDatabase(name string) *Error {
	return New(UnknownDatabase, "unknown database %q", name)
}

func NewUnexpectedPacket(got, want string) *Error {
	return New(UnexpectedPacket, "unexpected packet: got %s, expected %s", got, want)
}

func NewUnknownPacket(code uint64) *Error {
	return New(UnknownPacket, "unknown packet type %d", code)
}

func NewDuplicateColumn(name string) *Error {
	return New(DuplicateColumn, "duplicate column %q", name)
}

func NewShapeMismatch(name string, got, want int) *Error {
	return New(ShapeMismatch, "column %q has %d rows, block has %d", name, got, want)
}

func NewProtocolMisuse(format string, args ...any) *Error {
	return New(ProtocolMisuse, format, args...)
}

func NewCodecError(format string, args ...any) *Error {
	return New(CodecError, format, args...)
}

// NewUpstreamError wraps err as an Error, preserving its Kind if it already
// is one. A net.Error reporting Timeout() is reclassified as Timeout rather
// than the generic UpstreamError: spec §7 requires a timeout mid-write be
// fatal, and IsFatal only recognizes errors of that Kind.
func NewUpstreamError(err error) *Error {
	if e, ok := err.(*Error); ok {
		return e
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return NewTimeout("%v", err)
	}
	return New(UpstreamError, "%v", err)
}

func NewTimeout(format string, args ...any) *Error {
	return New(Timeout, format, args...)
}
