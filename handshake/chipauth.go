package handshake

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"fmt"

	"mrtdreader/apdu"
	"mrtdreader/lds"
	"mrtdreader/mrtderr"
	"mrtdreader/securemessaging"
)

const (
	insMSESetATCA = 0x22
)

type caCipherSuite struct {
	keyAgreement string // "DH" or "ECDH"
	cipher       string // "3DES" or "AES"
	keyLen       int
}

func parseCAOID(oid string) (caCipherSuite, error) {
	switch oid {
	case "0.4.0.127.0.7.2.2.3.1.1":
		return caCipherSuite{"DH", "3DES", 16}, nil
	case "0.4.0.127.0.7.2.2.3.1.2":
		return caCipherSuite{"DH", "AES", 16}, nil
	case "0.4.0.127.0.7.2.2.3.1.3":
		return caCipherSuite{"DH", "AES", 24}, nil
	case "0.4.0.127.0.7.2.2.3.1.4":
		return caCipherSuite{"DH", "AES", 32}, nil
	case "0.4.0.127.0.7.2.2.3.2.1":
		return caCipherSuite{"ECDH", "3DES", 16}, nil
	case "0.4.0.127.0.7.2.2.3.2.2":
		return caCipherSuite{"ECDH", "AES", 16}, nil
	case "0.4.0.127.0.7.2.2.3.2.3":
		return caCipherSuite{"ECDH", "AES", 24}, nil
	case "0.4.0.127.0.7.2.2.3.2.4":
		return caCipherSuite{"ECDH", "AES", 32}, nil
	default:
		return caCipherSuite{}, fmt.Errorf("handshake: unrecognized Chip Authentication OID %s", oid)
	}
}

// RunChipAuth performs Chip Authentication (ICAO 9303 Part 11 §4.4):
// an ephemeral-static ECDH exchange against the chip's static public
// key advertised in DG14, replacing the current secure-messaging
// session with one derived from the shared secret. t must already be
// running under the session BAC or PACE established — CA's own
// MSE:SET AT / GENERAL AUTHENTICATE APDUs are themselves
// secure-messaging protected, unlike BAC/PACE's plaintext handshake
// APDUs.
func RunChipAuth(ctx context.Context, t Transceiver, protocolInfo, publicKeyInfo lds.SecurityInfo) (securemessaging.Session, error) {
	suite, err := parseCAOID(protocolInfo.Protocol)
	if err != nil {
		return nil, mrtderr.New(mrtderr.KindChipAuthError, err)
	}
	if suite.keyAgreement != "ECDH" {
		return nil, mrtderr.New(mrtderr.KindChipAuthError, fmt.Errorf("handshake: only ECDH Chip Authentication is wired (got %s)", suite.keyAgreement))
	}

	staticPub, err := x509.ParsePKIXPublicKey(publicKeyInfo.PublicKey)
	if err != nil {
		return nil, mrtderr.New(mrtderr.KindChipAuthError, fmt.Errorf("parse chip static CA public key: %w", err))
	}
	ecPub, ok := staticPub.(*ecdsa.PublicKey)
	if !ok {
		return nil, mrtderr.New(mrtderr.KindChipAuthError, fmt.Errorf("handshake: chip CA public key is not an EC point"))
	}
	curve := ecPub.Curve

	ephPriv, ephX, ephY, err := elliptic.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, mrtderr.New(mrtderr.KindChipAuthError, err)
	}

	if err := setATChipAuth(ctx, t, protocolInfo.Protocol, publicKeyInfo.KeyID); err != nil {
		return nil, mrtderr.New(mrtderr.KindChipAuthError, err)
	}

	ephPubBytes := elliptic.Marshal(curve, ephX, ephY)
	cmd := &apdu.Command{INS: insGeneralAuthenticate, Data: lds.Encode(0x7C, lds.Encode(0x80, ephPubBytes)), Le: 0}
	resp, err := t.Transceive(ctx, cmd)
	if err != nil {
		return nil, mrtderr.New(mrtderr.KindChipAuthError, err)
	}
	if !resp.IsOK() {
		// CA carries no authentication token of its own: a failure here
		// (or a later SM MAC failure on the next read) is the only
		// signal a wrong static key was used.
		return nil, mrtderr.New(mrtderr.KindChipAuthError, fmt.Errorf("GENERAL AUTHENTICATE (Chip Authentication) failed: %s", apdu.Classify(resp.SW())))
	}

	sharedX, _ := curve.ScalarMult(ecPub.X, ecPub.Y, ephPriv)
	sharedSecret := leftPad(sharedX.Bytes(), (curve.Params().BitSize+7)/8)

	var ksenc, ksmac []byte
	if suite.cipher == "3DES" {
		ksenc, ksmac = DeriveKDF3DES(sharedSecret, 1), DeriveKDF3DES(sharedSecret, 2)
		return &securemessaging.TDESSession{KSenc: ksenc, KSmac: ksmac, SSC: 0}, nil
	}
	ksenc = DeriveKDFAES(sharedSecret, 1, suite.keyLen)
	ksmac = DeriveKDFAES(sharedSecret, 2, suite.keyLen)
	return &securemessaging.AESSession{KSenc: ksenc, KSmac: ksmac}, nil
}

func setATChipAuth(ctx context.Context, t Transceiver, protocolOID string, keyID *int) error {
	oidBytes, err := paceOIDBytes(protocolOID)
	if err != nil {
		return err
	}
	data := lds.Encode(0x80, oidBytes)
	if keyID != nil {
		data = append(data, lds.Encode(0x84, encodeUint(uint64(*keyID)))...)
	}
	cmd := &apdu.Command{CLA: 0x00, INS: insMSESetATCA, P1: 0x41, P2: 0xA6, Data: data, Le: -1}
	resp, err := t.Transceive(ctx, cmd)
	if err != nil {
		return err
	}
	if !resp.IsOK() {
		return fmt.Errorf("MSE:SET AT (Chip Authentication) failed: %s", apdu.Classify(resp.SW()))
	}
	return nil
}

// encodeUint renders v as the shortest big-endian byte string (at
// least one byte), the form DO'84's key id value takes.
func encodeUint(v uint64) []byte {
	if v == 0 {
		return []byte{0x00}
	}
	var out []byte
	for v > 0 {
		out = append([]byte{byte(v)}, out...)
		v >>= 8
	}
	return out
}
