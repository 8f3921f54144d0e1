package handshake

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // matches the scheme under test
	"crypto/sha256"
	"math/big"
	"testing"

	"mrtdreader/apdu"
)

// aaRSAPICC answers INTERNAL AUTHENTICATE with a correctly-built ISO
// 9796-2 scheme 1 signature over whatever challenge it receives, using
// its own RSA private key.
type aaRSAPICC struct {
	t    *testing.T
	priv *rsa.PrivateKey
}

func (p *aaRSAPICC) Transceive(ctx context.Context, cmd *apdu.Command) (*apdu.Response, error) {
	if cmd.INS != insInternalAuthenticate {
		p.t.Fatalf("unexpected instruction %02X", cmd.INS)
	}
	challenge := cmd.Data
	emLen := (p.priv.N.BitLen() + 7) / 8
	hash := sha1.Sum(challenge)
	paddingLen := emLen - 2 - sha1.Size - len(challenge)
	if paddingLen < 0 {
		p.t.Fatalf("modulus too small for this challenge length")
	}
	em := make([]byte, 0, emLen)
	em = append(em, 0x6A)
	em = append(em, make([]byte, paddingLen)...)
	em = append(em, challenge...)
	em = append(em, hash[:]...)
	em = append(em, 0xBC)

	m := new(big.Int).SetBytes(em)
	sig := new(big.Int).Exp(m, p.priv.D, p.priv.N)
	sigBytes := leftPad(sig.Bytes(), emLen)
	return &apdu.Response{Data: sigBytes, SW1: 0x90, SW2: 0x00}, nil
}

func TestRunActiveAuthRSARoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	picc := &aaRSAPICC{t: t, priv: priv}

	ok, err := RunActiveAuth(context.Background(), picc, &priv.PublicKey)
	if err != nil {
		t.Fatalf("RunActiveAuth: %v", err)
	}
	if !ok {
		t.Fatal("expected the ISO 9796-2 signature to verify")
	}
}

func TestRunActiveAuthRSARejectsWrongKey(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	otherPriv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generate second RSA key: %v", err)
	}
	picc := &aaRSAPICC{t: t, priv: priv}

	ok, err := RunActiveAuth(context.Background(), picc, &otherPriv.PublicKey)
	if err == nil && ok {
		t.Fatal("expected verification against the wrong public key to fail")
	}
}

func TestVerifyECDSAChallenge(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate EC key: %v", err)
	}
	challenge := []byte("01234567")
	digest := sha256.Sum256(challenge)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !verifyECDSAChallenge(&priv.PublicKey, challenge, sig) {
		t.Fatal("expected a genuine ECDSA signature to verify")
	}
	if verifyECDSAChallenge(&priv.PublicKey, []byte("wrongwrong"), sig) {
		t.Fatal("expected verification against a different challenge to fail")
	}
}
