package handshake

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // ISO/IEC 9796-2 scheme 1 as used by ICAO 9303 Active Authentication is specified over SHA-1.
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"math/big"

	"mrtdreader/apdu"
	"mrtdreader/mrtderr"
)

const insInternalAuthenticate = 0x88

// RunActiveAuth performs Active Authentication (ICAO 9303 Part 11
// §4.4): sends an 8-byte challenge via INTERNAL AUTHENTICATE and
// verifies the chip's signature against DG15's public key, proving
// possession of the chip's private key (and so that the chip is not a
// clone of a genuine document's data pages). Returns true only when
// the signature verifies.
func RunActiveAuth(ctx context.Context, t Transceiver, dg15PublicKey interface{}) (bool, error) {
	challenge := make([]byte, 8)
	if _, err := rand.Read(challenge); err != nil {
		return false, mrtderr.New(mrtderr.KindUnexpected, err)
	}

	cmd := &apdu.Command{INS: insInternalAuthenticate, Data: challenge, Le: 256}
	resp, err := t.Transceive(ctx, cmd)
	if err != nil {
		return false, mrtderr.New(mrtderr.KindConnectionError, err)
	}
	if !resp.IsOK() {
		return false, mrtderr.New(mrtderr.KindPassiveAuthError, fmt.Errorf("INTERNAL AUTHENTICATE failed: %s", apdu.Classify(resp.SW())))
	}

	switch pub := dg15PublicKey.(type) {
	case *rsa.PublicKey:
		ok, err := verifyISO9796Scheme1(pub, challenge, resp.Data)
		if err != nil {
			return false, mrtderr.New(mrtderr.KindPassiveAuthError, err)
		}
		return ok, nil
	case *ecdsa.PublicKey:
		return verifyECDSAChallenge(pub, challenge, resp.Data), nil
	default:
		return false, mrtderr.New(mrtderr.KindPassiveAuthError, fmt.Errorf("handshake: DG15 public key type %T is not supported for Active Authentication", dg15PublicKey))
	}
}

// verifyISO9796Scheme1 checks sig as an ISO/IEC 9796-2 scheme 1
// signature with full message recovery over challenge: the RSA public
// operation must yield 0x6A <padding> challenge SHA1(challenge) 0xBC.
func verifyISO9796Scheme1(pub *rsa.PublicKey, challenge, sig []byte) (bool, error) {
	c := new(big.Int).SetBytes(sig)
	if c.Cmp(pub.N) >= 0 {
		return false, fmt.Errorf("signature representative out of range")
	}
	e := big.NewInt(int64(pub.E))
	m := new(big.Int).Exp(c, e, pub.N)

	emLen := (pub.N.BitLen() + 7) / 8
	em := leftPad(m.Bytes(), emLen)

	if em[emLen-1] != 0xBC {
		return false, fmt.Errorf("ISO 9796-2 trailer byte missing")
	}
	if em[0] != 0x6A {
		return false, fmt.Errorf("ISO 9796-2 header byte missing")
	}

	const hashLen = sha1.Size
	if emLen < 2+hashLen {
		return false, fmt.Errorf("modulus too small for ISO 9796-2 scheme 1")
	}
	hash := em[emLen-1-hashLen : emLen-1]
	recovered := em[1 : emLen-1-hashLen]

	// Full recovery pads the recoverable field on the left with zero
	// bytes up to its capacity; the genuine message is the trailing
	// len(challenge) bytes.
	if len(recovered) < len(challenge) {
		return false, fmt.Errorf("recovered message shorter than challenge")
	}
	padding := recovered[:len(recovered)-len(challenge)]
	message := recovered[len(recovered)-len(challenge):]
	for _, b := range padding {
		if b != 0 {
			return false, fmt.Errorf("ISO 9796-2 padding not zero-filled")
		}
	}
	if !bytes.Equal(message, challenge) {
		return false, nil
	}

	sum := sha1.Sum(message)
	return bytes.Equal(sum[:], hash), nil
}

func verifyECDSAChallenge(pub *ecdsa.PublicKey, challenge, sig []byte) bool {
	digest := sha256.Sum256(challenge)
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}

// ParseDG15PublicKey re-exposes x509's SubjectPublicKeyInfo decode for
// callers that only have DG15's raw bytes, matching how
// lds.DecodeDataGroup already decodes DG15 with x509.ParsePKIXPublicKey.
func ParseDG15PublicKey(der []byte) (interface{}, error) {
	return x509.ParsePKIXPublicKey(der)
}
