package handshake

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/aead/cmac"

	"mrtdreader/apdu"
	"mrtdreader/lds"
	"mrtdreader/mrtderr"
	"mrtdreader/securemessaging"
)

const (
	insMSESetAT            = 0x22
	insGeneralAuthenticate = 0x86
)

// paceCipherSuite is the (mapping, key agreement, cipher, key length)
// tuple one PACEInfo OID names, per BSI TR-03110's id-PACE-* arc.
type paceCipherSuite struct {
	mapping      string // "GM" or "IM"
	keyAgreement string // "DH" or "ECDH"
	cipher       string // "3DES" or "AES"
	keyLen       int    // bytes: 16 (3DES or AES-128), 24 (AES-192), 32 (AES-256)
}

func parsePACEOID(oid string) (paceCipherSuite, error) {
	switch oid {
	case "0.4.0.127.0.7.2.2.4.1.1":
		return paceCipherSuite{"GM", "DH", "3DES", 16}, nil
	case "0.4.0.127.0.7.2.2.4.1.2":
		return paceCipherSuite{"GM", "DH", "AES", 16}, nil
	case "0.4.0.127.0.7.2.2.4.1.3":
		return paceCipherSuite{"GM", "DH", "AES", 24}, nil
	case "0.4.0.127.0.7.2.2.4.1.4":
		return paceCipherSuite{"GM", "DH", "AES", 32}, nil
	case "0.4.0.127.0.7.2.2.4.2.1":
		return paceCipherSuite{"GM", "ECDH", "3DES", 16}, nil
	case "0.4.0.127.0.7.2.2.4.2.2":
		return paceCipherSuite{"GM", "ECDH", "AES", 16}, nil
	case "0.4.0.127.0.7.2.2.4.2.3":
		return paceCipherSuite{"GM", "ECDH", "AES", 24}, nil
	case "0.4.0.127.0.7.2.2.4.2.4":
		return paceCipherSuite{"GM", "ECDH", "AES", 32}, nil
	case "0.4.0.127.0.7.2.2.4.3.1":
		return paceCipherSuite{"IM", "DH", "3DES", 16}, nil
	case "0.4.0.127.0.7.2.2.4.3.2":
		return paceCipherSuite{"IM", "DH", "AES", 16}, nil
	case "0.4.0.127.0.7.2.2.4.3.3":
		return paceCipherSuite{"IM", "DH", "AES", 24}, nil
	case "0.4.0.127.0.7.2.2.4.3.4":
		return paceCipherSuite{"IM", "DH", "AES", 32}, nil
	case "0.4.0.127.0.7.2.2.4.4.1":
		return paceCipherSuite{"IM", "ECDH", "3DES", 16}, nil
	case "0.4.0.127.0.7.2.2.4.4.2":
		return paceCipherSuite{"IM", "ECDH", "AES", 16}, nil
	case "0.4.0.127.0.7.2.2.4.4.3":
		return paceCipherSuite{"IM", "ECDH", "AES", 24}, nil
	case "0.4.0.127.0.7.2.2.4.4.4":
		return paceCipherSuite{"IM", "ECDH", "AES", 32}, nil
	default:
		return paceCipherSuite{}, fmt.Errorf("handshake: unrecognized PACE protocol OID %s", oid)
	}
}

// paceCurve resolves an ICAO 9303 Part 11 standardized domain parameter
// id to a stdlib curve. Only the three NIST curves crypto/elliptic
// carries are supported; the Brainpool ids BSI TR-03110 also
// standardizes have no implementation anywhere in the corpus this
// reader was grounded on, so they are rejected explicitly rather than
// guessed at.
func paceCurve(parameterID int) (elliptic.Curve, error) {
	switch parameterID {
	case 12:
		return elliptic.P256(), nil
	case 15:
		return elliptic.P384(), nil
	case 18:
		return elliptic.P521(), nil
	default:
		return nil, fmt.Errorf("handshake: unsupported PACE domain parameter id %d (only NIST P-256/384/521 are wired)", parameterID)
	}
}

// paceOIDBytes returns the DER encoding (asn1.ObjectIdentifier marshal) of a
// PACE OID string, used both in MSE:SET AT and in the authentication
// token input.
func paceOIDBytes(oid string) ([]byte, error) {
	id, err := parseOIDString(oid)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(id)
}

func parseOIDString(oid string) (asn1.ObjectIdentifier, error) {
	var id asn1.ObjectIdentifier
	start := 0
	for i := 0; i <= len(oid); i++ {
		if i == len(oid) || oid[i] == '.' {
			var n int
			if _, err := fmt.Sscanf(oid[start:i], "%d", &n); err != nil {
				return nil, fmt.Errorf("handshake: malformed OID %q", oid)
			}
			id = append(id, n)
			start = i + 1
		}
	}
	return id, nil
}

// RunPACE performs Password Authenticated Connection Establishment
// (ICAO 9303 Part 11 §4.4 / BSI TR-03110) using Generic Mapping over an
// EC domain parameter, returning a ready secure-messaging session. Any
// error is non-terminal at the orchestrator level: spec.md has PACE
// failure fall through to RunBAC.
func RunPACE(ctx context.Context, t Transceiver, info lds.SecurityInfo, mrzInformation string) (securemessaging.Session, error) {
	suite, err := parsePACEOID(info.Protocol)
	if err != nil {
		return nil, mrtderr.New(mrtderr.KindPACEError, err)
	}
	if suite.mapping != "GM" || suite.keyAgreement != "ECDH" {
		return nil, mrtderr.New(mrtderr.KindPACEError, fmt.Errorf("handshake: only ECDH Generic Mapping is wired (got mapping=%s keyAgreement=%s)", suite.mapping, suite.keyAgreement))
	}
	parameterID := 12
	if info.ParameterID != nil {
		parameterID = *info.ParameterID
	}
	curve, err := paceCurve(parameterID)
	if err != nil {
		return nil, mrtderr.New(mrtderr.KindPACEError, err)
	}

	if err := setATPACE(ctx, t, info.Protocol); err != nil {
		return nil, mrtderr.New(mrtderr.KindPACEError, err)
	}

	kpi, err := derivePACEPasswordKey(suite, mrzInformation)
	if err != nil {
		return nil, mrtderr.New(mrtderr.KindPACEError, err)
	}

	encryptedNonce, err := generalAuthenticate(ctx, t, nil, 0x80)
	if err != nil {
		return nil, mrtderr.New(mrtderr.KindPACEError, err)
	}
	s, err := decryptPACENonce(suite, kpi, encryptedNonce)
	if err != nil {
		return nil, mrtderr.New(mrtderr.KindPACEError, err)
	}

	skPCD1, pkPCD1x, pkPCD1y, err := generateECKeypair(curve)
	if err != nil {
		return nil, mrtderr.New(mrtderr.KindPACEError, err)
	}
	pkPICC1Bytes, err := generalAuthenticate(ctx, t, lds.Encode(0x81, elliptic.Marshal(curve, pkPCD1x, pkPCD1y)), 0x82)
	if err != nil {
		return nil, mrtderr.New(mrtderr.KindPACEError, err)
	}
	pkPICC1x, pkPICC1y := elliptic.Unmarshal(curve, pkPICC1Bytes)
	if pkPICC1x == nil {
		return nil, mrtderr.New(mrtderr.KindPACEError, fmt.Errorf("handshake: malformed PICC mapping public key"))
	}

	hx, hy := curve.ScalarMult(pkPICC1x, pkPICC1y, skPCD1.Bytes())
	gpx, gpy := mapGenericGenerator(curve, s, hx, hy)

	skPCD2, err := generateScalar(curve)
	if err != nil {
		return nil, mrtderr.New(mrtderr.KindPACEError, err)
	}
	pkPCD2x, pkPCD2y := curve.ScalarMult(gpx, gpy, skPCD2.Bytes())
	pkPCD2Bytes := elliptic.Marshal(curve, pkPCD2x, pkPCD2y)

	pkPICC2Bytes, err := generalAuthenticate(ctx, t, lds.Encode(0x83, pkPCD2Bytes), 0x84)
	if err != nil {
		return nil, mrtderr.New(mrtderr.KindPACEError, err)
	}
	pkPICC2x, pkPICC2y := elliptic.Unmarshal(curve, pkPICC2Bytes)
	if pkPICC2x == nil {
		return nil, mrtderr.New(mrtderr.KindPACEError, fmt.Errorf("handshake: malformed PICC ephemeral public key"))
	}

	kx, _ := curve.ScalarMult(pkPICC2x, pkPICC2y, skPCD2.Bytes())
	sharedSecret := leftPad(kx.Bytes(), (curve.Params().BitSize+7)/8)

	ksenc, ksmac, err := derivePACESessionKeys(suite, sharedSecret)
	if err != nil {
		return nil, mrtderr.New(mrtderr.KindPACEError, err)
	}

	oidBytes, err := paceOIDBytes(info.Protocol)
	if err != nil {
		return nil, mrtderr.New(mrtderr.KindPACEError, err)
	}
	tPCD, err := paceAuthToken(suite, ksmac, oidBytes, pkPICC2Bytes)
	if err != nil {
		return nil, mrtderr.New(mrtderr.KindPACEError, err)
	}
	wantTPICC, err := paceAuthToken(suite, ksmac, oidBytes, pkPCD2Bytes)
	if err != nil {
		return nil, mrtderr.New(mrtderr.KindPACEError, err)
	}

	tPICC, err := generalAuthenticate(ctx, t, lds.Encode(0x85, tPCD), 0x86)
	if err != nil {
		return nil, mrtderr.New(mrtderr.KindPACEError, err)
	}
	if !bytes.Equal(tPICC, wantTPICC) {
		return nil, mrtderr.New(mrtderr.KindPACEError, fmt.Errorf("handshake: PICC authentication token mismatch"))
	}

	if suite.cipher == "3DES" {
		return &securemessaging.TDESSession{KSenc: ksenc, KSmac: ksmac, SSC: 0}, nil
	}
	return &securemessaging.AESSession{KSenc: ksenc, KSmac: ksmac}, nil
}

func setATPACE(ctx context.Context, t Transceiver, protocolOID string) error {
	oidBytes, err := paceOIDBytes(protocolOID)
	if err != nil {
		return err
	}
	data := append(lds.Encode(0x80, oidBytes), lds.Encode(0x83, []byte{0x01})...) // 0x01 = MRZ password reference
	cmd := &apdu.Command{CLA: 0x00, INS: insMSESetAT, P1: 0xC1, P2: 0xA4, Data: data, Le: -1}
	resp, err := t.Transceive(ctx, cmd)
	if err != nil {
		return err
	}
	if !resp.IsOK() {
		return fmt.Errorf("MSE:SET AT failed: %s", apdu.Classify(resp.SW()))
	}
	return nil
}

// generalAuthenticate wraps outgoingDO (already TLV-framed, may be nil
// for the first empty round) in the 0x7C dynamic authentication data
// template, sends it, and returns the value of the single expected
// response DO.
func generalAuthenticate(ctx context.Context, t Transceiver, outgoingDO []byte, wantTag byte) ([]byte, error) {
	cmd := &apdu.Command{INS: insGeneralAuthenticate, Data: lds.Encode(0x7C, outgoingDO), Le: 0}
	resp, err := t.Transceive(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if !resp.IsOK() {
		return nil, fmt.Errorf("GENERAL AUTHENTICATE failed: %s", apdu.Classify(resp.SW()))
	}
	root, _, err := lds.Parse(resp.Data)
	if err != nil {
		return nil, err
	}
	if root.Tag != 0x7C {
		return nil, fmt.Errorf("GENERAL AUTHENTICATE response missing dynamic authentication data template")
	}
	inner := root.Find(wantTag)
	if inner == nil {
		return nil, fmt.Errorf("GENERAL AUTHENTICATE response missing tag %02X", wantTag)
	}
	return inner.Value, nil
}

func derivePACEPasswordKey(suite paceCipherSuite, mrzInformation string) ([]byte, error) {
	seed := DeriveKeySeed(mrzInformation)
	if suite.cipher == "3DES" {
		return DerivePACEPasswordKey3DES(mrzInformation), nil
	}
	return DeriveKDFAES(seed[:], 3, suite.keyLen), nil
}

func derivePACESessionKeys(suite paceCipherSuite, sharedSecret []byte) (ksenc, ksmac []byte, err error) {
	if suite.cipher == "3DES" {
		return DeriveKDF3DES(sharedSecret, 1), DeriveKDF3DES(sharedSecret, 2), nil
	}
	return DeriveKDFAES(sharedSecret, 1, suite.keyLen), DeriveKDFAES(sharedSecret, 2, suite.keyLen), nil
}

func decryptPACENonce(suite paceCipherSuite, kpi, encryptedNonce []byte) (*big.Int, error) {
	zeroIV8 := make([]byte, 8)
	zeroIV16 := make([]byte, 16)
	var plain []byte
	var err error
	if suite.cipher == "3DES" {
		plain, err = securemessaging.TDESCBCDecrypt(kpi, zeroIV8, encryptedNonce)
	} else {
		plain, err = securemessaging.AESCBCDecrypt(kpi, zeroIV16, encryptedNonce)
	}
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(plain), nil
}

func paceAuthToken(suite paceCipherSuite, ksmac, oidDER, pointBytes []byte) ([]byte, error) {
	input := encodePublicKeyDO(oidDER, pointBytes)
	if suite.cipher == "3DES" {
		return securemessaging.RetailMAC(ksmac, input)
	}
	block, err := aes.NewCipher(ksmac)
	if err != nil {
		return nil, err
	}
	h, err := cmac.New(block)
	if err != nil {
		return nil, err
	}
	h.Write(input)
	return h.Sum(nil), nil
}

// encodePublicKeyDO builds the 0x7F49 "public key" data object
// (OID + uncompressed EC point) that BSI TR-03110 MACs to build a PACE
// authentication token.
func encodePublicKeyDO(oidDER, pointBytes []byte) []byte {
	inner := append(append([]byte{}, oidDER...), lds.Encode(0x86, pointBytes)...)
	out := append([]byte{0x7F, 0x49}, lds.EncodeLength(len(inner))...)
	return append(out, inner...)
}

func mapGenericGenerator(curve elliptic.Curve, s *big.Int, hx, hy *big.Int) (*big.Int, *big.Int) {
	params := curve.Params()
	sgx, sgy := curve.ScalarBaseMult(new(big.Int).Mod(s, params.N).Bytes())
	return curve.Add(sgx, sgy, hx, hy)
}

func generateECKeypair(curve elliptic.Curve) (priv *big.Int, x, y *big.Int, err error) {
	d, x, y, err := elliptic.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, nil, nil, err
	}
	return new(big.Int).SetBytes(d), x, y, nil
}

func generateScalar(curve elliptic.Curve) (*big.Int, error) {
	n := curve.Params().N
	k, err := rand.Int(rand.Reader, new(big.Int).Sub(n, big.NewInt(1)))
	if err != nil {
		return nil, err
	}
	return k.Add(k, big.NewInt(1)), nil
}

func leftPad(b []byte, size int) []byte {
	if len(b) >= size {
		return b[len(b)-size:]
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}
