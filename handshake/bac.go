package handshake

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"

	"mrtdreader/apdu"
	"mrtdreader/mrtderr"
	"mrtdreader/securemessaging"
)

const (
	insGetChallenge         = 0x84
	insExternalAuthenticate = 0x82
)

// RunBAC performs Basic Access Control (ICAO 9303 Part 11, Appendix D's
// worked example) over t and returns a ready 3DES secure-messaging
// session on success.
func RunBAC(ctx context.Context, t Transceiver, mrzInformation string) (*securemessaging.TDESSession, error) {
	kenc, kmac := DeriveMRZKey(mrzInformation)

	rndIC, err := getChallenge(ctx, t)
	if err != nil {
		return nil, err
	}

	rndIFD := make([]byte, 8)
	if _, err := rand.Read(rndIFD); err != nil {
		return nil, mrtderr.New(mrtderr.KindUnexpected, fmt.Errorf("handshake: generate RND.IFD: %w", err))
	}
	kifd := make([]byte, 16)
	if _, err := rand.Read(kifd); err != nil {
		return nil, mrtderr.New(mrtderr.KindUnexpected, fmt.Errorf("handshake: generate KIFD: %w", err))
	}

	authData, err := buildExternalAuthData(kenc, kmac, rndIC, rndIFD, kifd)
	if err != nil {
		return nil, mrtderr.New(mrtderr.KindUnexpected, err)
	}

	cmd := &apdu.Command{INS: insExternalAuthenticate, Data: authData, Le: 40}
	resp, err := t.Transceive(ctx, cmd)
	if err != nil {
		return nil, mrtderr.New(mrtderr.KindConnectionError, err)
	}
	if !resp.IsOK() {
		return nil, mrtderr.NewDesc(mrtderr.KindInvalidMRZKey, fmt.Sprintf("EXTERNAL AUTHENTICATE failed: %s", apdu.Classify(resp.SW())))
	}

	kic, err := verifyAndDecryptResponse(kenc, kmac, rndIC, rndIFD, resp.Data)
	if err != nil {
		return nil, mrtderr.NewDesc(mrtderr.KindInvalidMRZKey, err.Error())
	}

	ksenc, ksmac, ssc := computeBACSessionKeys(rndIC, rndIFD, kic, kifd)
	return &securemessaging.TDESSession{KSenc: ksenc, KSmac: ksmac, SSC: ssc}, nil
}

// buildExternalAuthData assembles the EXTERNAL AUTHENTICATE command
// data E||M: S = RND.IFD || RND.IC || KIFD, E = 3DES-CBC(Kenc, IV=0,
// S), M = retail MAC(Kmac, E). Split out from RunBAC so tests can drive
// it with ICAO 9303 Appendix D's fixed RND.IFD/KIFD instead of
// crypto/rand's.
func buildExternalAuthData(kenc, kmac, rndIC, rndIFD, kifd []byte) ([]byte, error) {
	s := append(append(append([]byte{}, rndIFD...), rndIC...), kifd...)
	zeroIV := make([]byte, 8)
	e, err := securemessaging.TDESCBCEncrypt(kenc, zeroIV, s)
	if err != nil {
		return nil, err
	}
	m, err := securemessaging.RetailMAC(kmac, e)
	if err != nil {
		return nil, err
	}
	return append(e, m...), nil
}

// verifyAndDecryptResponse checks the EXTERNAL AUTHENTICATE reply's MAC,
// decrypts it, confirms the RND.IC/RND.IFD echo, and returns the chip's
// KIC.
func verifyAndDecryptResponse(kenc, kmac, rndIC, rndIFD, respData []byte) ([]byte, error) {
	if len(respData) != 40 {
		return nil, fmt.Errorf("EXTERNAL AUTHENTICATE response has unexpected length (%d)", len(respData))
	}
	eResp, mResp := respData[:32], respData[32:]

	expectedMAC, err := securemessaging.RetailMAC(kmac, eResp)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(expectedMAC, mResp) {
		return nil, fmt.Errorf("EXTERNAL AUTHENTICATE response MAC mismatch")
	}

	zeroIV := make([]byte, 8)
	sResp, err := securemessaging.TDESCBCDecrypt(kenc, zeroIV, eResp)
	if err != nil {
		return nil, err
	}
	respRndIC, respRndIFD, kic := sResp[0:8], sResp[8:16], sResp[16:32]
	if !bytes.Equal(respRndIC, rndIC) || !bytes.Equal(respRndIFD, rndIFD) {
		return nil, fmt.Errorf("EXTERNAL AUTHENTICATE nonce echo mismatch")
	}
	return kic, nil
}

// computeBACSessionKeys derives KSenc/KSmac from KIFD xor KIC (counters
// 1/2) and assembles the initial SSC from the last 4 bytes of RND.IC
// and RND.IFD, per spec §4.4.
func computeBACSessionKeys(rndIC, rndIFD, kic, kifd []byte) (ksenc, ksmac []byte, ssc uint64) {
	seed := xorBytes(kifd, kic)
	ksenc = DeriveKDF3DES(seed, 1)
	ksmac = DeriveKDF3DES(seed, 2)
	sscBytes := append(append([]byte{}, rndIC[4:8]...), rndIFD[4:8]...)
	return ksenc, ksmac, bytesToUint64(sscBytes)
}

func getChallenge(ctx context.Context, t Transceiver) ([]byte, error) {
	cmd := &apdu.Command{INS: insGetChallenge, Le: 8}
	resp, err := t.Transceive(ctx, cmd)
	if err != nil {
		return nil, mrtderr.New(mrtderr.KindConnectionError, err)
	}
	if !resp.IsOK() || len(resp.Data) != 8 {
		return nil, mrtderr.NewResponseError("GET CHALLENGE failed", resp.SW1, resp.SW2)
	}
	return resp.Data, nil
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func bytesToUint64(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}
