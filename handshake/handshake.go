// Package handshake implements the four eMRTD authentication protocols
// BAC, PACE, Chip Authentication, and Active Authentication. Each is a
// short-lived function that borrows a transceiver for its duration and
// returns either a new secure-messaging session or a verification
// result — never a persisted handler object, per spec §9's "do not
// persist handler objects across DG reads".
//
// Grounded on the teacher's globalplatform_scp02.go/globalplatform_scp03.go
// session-establishment functions (OpenSecureChannel-style: issue a
// handshake command, derive keys from the response, hand back a ready
// session) generalized from GlobalPlatform's static-key model to
// ICAO 9303's MRZ/PACE-password-derived and ephemeral-ECDH models.
package handshake

import (
	"context"

	"mrtdreader/apdu"
)

// Transceiver is the minimal capability a handshake needs: send one
// command APDU, get one response APDU. BAC and PACE run it directly
// over the raw transport (no SM session exists yet); Chip
// Authentication and Active Authentication run it over an established
// tagreader.Reader, which satisfies this interface by wrapping/
// unwrapping through the current SM session transparently.
type Transceiver interface {
	Transceive(ctx context.Context, cmd *apdu.Command) (*apdu.Response, error)
}
