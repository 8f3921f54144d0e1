// Package mrtderr defines the error taxonomy shared across the eMRTD
// reader core. Every component that can fail wraps the underlying cause
// in an *Error carrying one of the Kind values below, so the session
// orchestrator can classify failures without string-matching messages.
package mrtderr

import "fmt"

// Kind enumerates the error taxonomy from ICAO 9303 reader practice.
type Kind int

const (
	KindUnexpected Kind = iota
	KindNFCNotSupported
	KindTagNotValid
	KindMoreThanOneTagFound
	KindConnectionError
	KindUserCanceled
	KindTimeout
	KindInvalidMRZKey
	KindResponseError
	KindSMError
	KindPACEError
	KindChipAuthError
	KindPassiveAuthError
	KindPassiveAuthFailed
)

func (k Kind) String() string {
	switch k {
	case KindNFCNotSupported:
		return "NFCNotSupported"
	case KindTagNotValid:
		return "TagNotValid"
	case KindMoreThanOneTagFound:
		return "MoreThanOneTagFound"
	case KindConnectionError:
		return "ConnectionError"
	case KindUserCanceled:
		return "UserCanceled"
	case KindTimeout:
		return "Timeout"
	case KindInvalidMRZKey:
		return "InvalidMRZKey"
	case KindResponseError:
		return "ResponseError"
	case KindSMError:
		return "SMError"
	case KindPACEError:
		return "PACEError"
	case KindChipAuthError:
		return "ChipAuthError"
	case KindPassiveAuthError:
		return "PassiveAuthError"
	default:
		return "UnexpectedError"
	}
}

// Error wraps a Kind, the optional status word that produced it, and the
// underlying cause. It satisfies error and Unwrap.
type Error struct {
	Kind Kind
	SW1  byte
	SW2  byte
	Desc string // human description, used verbatim by ResponseError/PACEError/PassiveAuthError
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == KindResponseError {
		return fmt.Sprintf("%s: %s (0x%02X, 0x%02X)", e.Kind, e.Desc, e.SW1, e.SW2)
	}
	if e.Desc != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Desc)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// DefaultMessage renders the user-visible text from spec §7.
func (e *Error) DefaultMessage() string {
	switch e.Kind {
	case KindInvalidMRZKey:
		return "MRZ Key not valid for this document."
	case KindMoreThanOneTagFound:
		return "More than 1 tags was found. Please present only 1 tag."
	case KindTagNotValid:
		return "Tag not valid."
	case KindConnectionError:
		return "Connection error. Please try again."
	case KindResponseError:
		return fmt.Sprintf("Sorry, there was a problem reading the Document. %s - (0x%02X, 0x%02X)", e.Desc, e.SW1, e.SW2)
	default:
		return "Sorry, there was a problem reading the Document. Please try again"
	}
}

// New builds a plain *Error of the given kind wrapping err.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// NewDesc builds an *Error carrying a description (PACEError, PassiveAuthError, ...).
func NewDesc(kind Kind, desc string) *Error {
	return &Error{Kind: kind, Desc: desc}
}

// NewResponseError builds the ResponseError(description, sw1, sw2) kind.
func NewResponseError(desc string, sw1, sw2 byte) *Error {
	return &Error{Kind: KindResponseError, Desc: desc, SW1: sw1, SW2: sw2}
}

// Is reports whether err is an *Error of kind k (direct, no unwrap chasing
// beyond one level — matches how the orchestrator classifies immediate
// causes returned by C1-C4).
func Is(err error, k Kind) bool {
	me, ok := err.(*Error)
	return ok && me.Kind == k
}
