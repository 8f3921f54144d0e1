// Package securemessaging implements ICAO 9303 Part 11 secure messaging:
// wrapping plaintext command APDUs and unwrapping protected responses
// under session keys established by BAC or PACE, for both the 3DES
// retail-MAC cipher suite and the AES-CMAC cipher suite.
//
// The two concrete Sessions (TDESSession, AESSession) both satisfy the
// Session interface so tagreader never branches on cipher family — the
// same shape as the teacher's SCP02Session/SCP03Session both satisfying
// GPSession.WrapAndSend in card/globalplatform_scp02.go and
// card/globalplatform_scp03.go.
package securemessaging

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"fmt"

	"github.com/aead/cmac"
)

// Session is the secure-messaging contract the tag reader wraps every
// post-handshake APDU through.
type Session interface {
	// Wrap masks CLA, pads, encrypts, MACs, and reassembles cmd into a
	// protected APDU ready to transmit.
	Wrap(cmd []byte) ([]byte, error)
	// Unwrap verifies and decrypts a protected response, returning the
	// plaintext body and status word bytes.
	Unwrap(resp []byte) (body []byte, sw1, sw2 byte, err error)
	// Zero overwrites key material. Called once the session is retired
	// (CA replacement, or readDocument exit).
	Zero()
}

// iso7816Pad appends 0x80 then zero bytes up to the next blockSize
// boundary.
func iso7816Pad(in []byte, blockSize int) []byte {
	out := make([]byte, len(in), len(in)+blockSize)
	copy(out, in)
	out = append(out, 0x80)
	for len(out)%blockSize != 0 {
		out = append(out, 0x00)
	}
	return out
}

// iso7816Unpad strips trailing zero bytes then the 0x80 marker.
func iso7816Unpad(in []byte) ([]byte, error) {
	i := len(in) - 1
	for i >= 0 && in[i] == 0x00 {
		i--
	}
	if i < 0 || in[i] != 0x80 {
		return nil, fmt.Errorf("securemessaging: invalid ISO 7816-4 padding")
	}
	return in[:i], nil
}

// cbcEncrypt / cbcDecrypt wrap stdlib CBC with an explicit IV, used by
// both cipher suites for DO'87 confidentiality.
func cbcEncrypt(block cipher.Block, iv, data []byte) []byte {
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	return out
}

func cbcDecrypt(block cipher.Block, iv, data []byte) []byte {
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return out
}

// buildDO87 / buildDO97 / buildDO8E assemble the BER-TLV data objects
// used by ICAO 9303 Part 11 SM, in the fixed order the unwrap side
// expects: DO'87 (encrypted data, 0x01-prefixed), DO'97 (Le), DO'8E
// (MAC).
func buildDO(tag byte, value []byte) []byte {
	out := []byte{tag}
	out = append(out, tlvLen(len(value))...)
	out = append(out, value...)
	return out
}

func tlvLen(n int) []byte {
	if n < 0x80 {
		return []byte{byte(n)}
	}
	if n <= 0xFF {
		return []byte{0x81, byte(n)}
	}
	return []byte{0x82, byte(n >> 8), byte(n)}
}

// parseTLV parses one BER-TLV object (1-byte tag, short/long-form
// length) from the start of data, returning the tag, value, and the
// number of bytes consumed.
func parseTLV(data []byte) (tag byte, value []byte, consumed int, err error) {
	if len(data) < 2 {
		return 0, nil, 0, fmt.Errorf("securemessaging: TLV too short")
	}
	tag = data[0]
	idx := 1
	length := int(data[idx])
	idx++
	if length == 0x81 {
		if len(data) < idx+1 {
			return 0, nil, 0, fmt.Errorf("securemessaging: truncated length")
		}
		length = int(data[idx])
		idx++
	} else if length == 0x82 {
		if len(data) < idx+2 {
			return 0, nil, 0, fmt.Errorf("securemessaging: truncated length")
		}
		length = int(data[idx])<<8 | int(data[idx+1])
		idx += 2
	}
	if len(data) < idx+length {
		return 0, nil, 0, fmt.Errorf("securemessaging: truncated value")
	}
	return tag, data[idx : idx+length], idx + length, nil
}

// ---- 3DES retail-MAC cipher suite (post-BAC, post-GM/IM-PACE-3DES) ----

// TDESSession implements Session using 3DES-CBC confidentiality and
// ISO/IEC 9797-1 MAC Algorithm 3 ("retail MAC") integrity, with an
// 8-byte SSC, matching spec §3/§4.2.
type TDESSession struct {
	KSenc, KSmac []byte // 16-byte 3DES keys (K1||K2), expanded to 24 internally
	SSC          uint64
}

func expand16to24(k []byte) []byte {
	out := make([]byte, 24)
	copy(out[0:16], k)
	copy(out[16:24], k[0:8])
	return out
}

func tdesCipher(key16 []byte) (cipher.Block, error) {
	return des.NewTripleDESCipher(expand16to24(key16))
}

func retailMAC(key16, data []byte) ([]byte, error) {
	key24 := expand16to24(key16)
	k1, k2 := key24[0:8], key24[8:16]

	padded := iso7816Pad(data, 8)
	c1, err := des.NewCipher(k1)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, 8)
	tmp := make([]byte, 8)
	for i := 0; i < len(padded); i += 8 {
		xor8(tmp, padded[i:i+8], iv)
		c1.Encrypt(iv, tmp)
	}

	c2, err := des.NewCipher(k2)
	if err != nil {
		return nil, err
	}
	last := make([]byte, 8)
	c2.Decrypt(last, iv)
	final := make([]byte, 8)
	c1.Encrypt(final, last)
	return final, nil
}

func xor8(dst, a, b []byte) {
	for i := 0; i < 8; i++ {
		dst[i] = a[i] ^ b[i]
	}
}

func sscBytes8(ssc uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(ssc)
		ssc >>= 8
	}
	return b
}

// Wrap implements Session for the 3DES cipher suite.
func (s *TDESSession) Wrap(cmd []byte) ([]byte, error) {
	if len(cmd) < 4 {
		return nil, fmt.Errorf("securemessaging: command too short")
	}
	s.SSC++

	header := []byte{cmd[0] | 0x0C, cmd[1], cmd[2], cmd[3]}
	paddedHeader := iso7816Pad(header, 8)

	body, le := splitBody(cmd)

	var do87, do97 []byte
	if len(body) > 0 {
		block, err := tdesCipher(s.KSenc)
		if err != nil {
			return nil, err
		}
		plain := iso7816Pad(body, 8)
		iv := make([]byte, 8)
		ct := cbcEncrypt(block, iv, plain)
		do87 = buildDO(0x87, append([]byte{0x01}, ct...))
	}
	if le != nil {
		do97 = buildDO(0x97, le)
	}

	macInput := append(append([]byte{}, sscBytes8(s.SSC)...), paddedHeader...)
	macInput = append(macInput, do87...)
	macInput = append(macInput, do97...)
	mac, err := retailMAC(s.KSmac, macInput)
	if err != nil {
		return nil, err
	}
	do8E := buildDO(0x8E, mac)

	data := append(append(append([]byte{}, do87...), do97...), do8E...)
	out := append([]byte{header[0], cmd[1], cmd[2], cmd[3]}, byte(len(data)))
	out = append(out, data...)
	out = append(out, 0x00)
	return out, nil
}

// Unwrap implements Session for the 3DES cipher suite.
func (s *TDESSession) Unwrap(resp []byte) ([]byte, byte, byte, error) {
	s.SSC++

	var do87, do99, do8E []byte
	rest := resp
	for len(rest) > 0 {
		tag, value, n, err := parseTLV(rest)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("securemessaging: %w", err)
		}
		switch tag {
		case 0x87:
			do87 = value
		case 0x99:
			do99 = value
		case 0x8E:
			do8E = value
		}
		rest = rest[n:]
	}
	if do99 == nil || do8E == nil {
		return nil, 0, 0, fmt.Errorf("securemessaging: response missing DO'99/DO'8E")
	}

	macInput := append([]byte{}, sscBytes8(s.SSC)...)
	if do87 != nil {
		macInput = append(macInput, buildDO(0x87, do87)...)
	}
	macInput = append(macInput, buildDO(0x99, do99)...)
	expectedMAC, err := retailMAC(s.KSmac, macInput)
	if err != nil {
		return nil, 0, 0, err
	}
	if !bytes.Equal(expectedMAC, do8E) {
		return nil, 0, 0, fmt.Errorf("securemessaging: MAC verification failed")
	}

	var plain []byte
	if do87 != nil {
		if len(do87) < 1 || do87[0] != 0x01 {
			return nil, 0, 0, fmt.Errorf("securemessaging: DO'87 missing 0x01 padding indicator")
		}
		block, err := tdesCipher(s.KSenc)
		if err != nil {
			return nil, 0, 0, err
		}
		iv := make([]byte, 8)
		dec := cbcDecrypt(block, iv, do87[1:])
		plain, err = iso7816Unpad(dec)
		if err != nil {
			return nil, 0, 0, err
		}
	}
	if len(do99) != 2 {
		return nil, 0, 0, fmt.Errorf("securemessaging: malformed DO'99")
	}
	return plain, do99[0], do99[1], nil
}

// Zero overwrites key material.
func (s *TDESSession) Zero() {
	zero(s.KSenc)
	zero(s.KSmac)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func splitBody(cmd []byte) (body []byte, le []byte) {
	// cmd here is CLA INS P1 P2 [Lc Data] [Le] in short form, as produced
	// by the handshake/tagreader layer before wrapping.
	if len(cmd) == 4 {
		return nil, nil
	}
	lc := int(cmd[4])
	if lc == 0 {
		if len(cmd) == 5 {
			return nil, []byte{cmd[4]} // actually Le with no data: cmd[4] is Le
		}
		return nil, nil
	}
	if len(cmd) >= 5+lc+1 {
		return cmd[5 : 5+lc], []byte{cmd[5+lc]}
	}
	if len(cmd) == 5+lc {
		return cmd[5 : 5+lc], nil
	}
	return nil, nil
}

// ---- AES-CMAC cipher suite (post-GM/IM/CAM-PACE-AES, post-CA) ----

// AESSession implements Session using AES-CBC confidentiality and
// AES-CMAC integrity with a 16-byte SSC, per spec §3/§4.2.
type AESSession struct {
	KSenc, KSmac []byte // 16/24/32-byte AES keys
	SSC          [16]byte
}

func (s *AESSession) incSSC() {
	for i := 15; i >= 0; i-- {
		s.SSC[i]++
		if s.SSC[i] != 0 {
			return
		}
	}
}

func aesCMAC(key, data []byte) ([]byte, error) {
	h, err := cmac.New(mustAES(key))
	if err != nil {
		return nil, err
	}
	h.Write(data)
	return h.Sum(nil), nil
}

func mustAES(key []byte) cipher.Block {
	b, err := aes.NewCipher(key)
	if err != nil {
		panic(err) // key length invariant enforced by handshake key derivation
	}
	return b
}

// Wrap implements Session for the AES cipher suite. IV for DO'87 is
// E_KSenc(SSC), per spec §4.2 step 3.
func (s *AESSession) Wrap(cmd []byte) ([]byte, error) {
	if len(cmd) < 4 {
		return nil, fmt.Errorf("securemessaging: command too short")
	}
	s.incSSC()

	header := []byte{cmd[0] | 0x0C, cmd[1], cmd[2], cmd[3]}
	paddedHeader := iso7816Pad(header, 16)

	body, le := splitBody(cmd)

	encBlock := mustAES(s.KSenc)
	iv := make([]byte, 16)
	encBlock.Encrypt(iv, s.SSC[:])

	var do87, do97 []byte
	if len(body) > 0 {
		plain := iso7816Pad(body, 16)
		ct := cbcEncrypt(encBlock, iv, plain)
		do87 = buildDO(0x87, append([]byte{0x01}, ct...))
	}
	if le != nil {
		do97 = buildDO(0x97, le)
	}

	macInput := append(append([]byte{}, s.SSC[:]...), paddedHeader...)
	macInput = append(macInput, do87...)
	macInput = append(macInput, do97...)
	mac, err := aesCMAC(s.KSmac, macInput)
	if err != nil {
		return nil, err
	}
	do8E := buildDO(0x8E, mac[:8])

	data := append(append(append([]byte{}, do87...), do97...), do8E...)
	out := append([]byte{header[0], cmd[1], cmd[2], cmd[3]}, byte(len(data)))
	out = append(out, data...)
	out = append(out, 0x00)
	return out, nil
}

// Unwrap implements Session for the AES cipher suite.
func (s *AESSession) Unwrap(resp []byte) ([]byte, byte, byte, error) {
	s.incSSC()

	var do87, do99, do8E []byte
	rest := resp
	for len(rest) > 0 {
		tag, value, n, err := parseTLV(rest)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("securemessaging: %w", err)
		}
		switch tag {
		case 0x87:
			do87 = value
		case 0x99:
			do99 = value
		case 0x8E:
			do8E = value
		}
		rest = rest[n:]
	}
	if do99 == nil || do8E == nil {
		return nil, 0, 0, fmt.Errorf("securemessaging: response missing DO'99/DO'8E")
	}

	macInput := append([]byte{}, s.SSC[:]...)
	if do87 != nil {
		macInput = append(macInput, buildDO(0x87, do87)...)
	}
	macInput = append(macInput, buildDO(0x99, do99)...)
	expectedMAC, err := aesCMAC(s.KSmac, macInput)
	if err != nil {
		return nil, 0, 0, err
	}
	if !bytes.Equal(expectedMAC[:8], do8E) {
		return nil, 0, 0, fmt.Errorf("securemessaging: MAC verification failed")
	}

	var plain []byte
	if do87 != nil {
		if len(do87) < 1 || do87[0] != 0x01 {
			return nil, 0, 0, fmt.Errorf("securemessaging: DO'87 missing 0x01 padding indicator")
		}
		encBlock := mustAES(s.KSenc)
		iv := make([]byte, 16)
		encBlock.Encrypt(iv, s.SSC[:])
		dec := cbcDecrypt(encBlock, iv, do87[1:])
		plain, err = iso7816Unpad(dec)
		if err != nil {
			return nil, 0, 0, err
		}
	}
	if len(do99) != 2 {
		return nil, 0, 0, fmt.Errorf("securemessaging: malformed DO'99")
	}
	return plain, do99[0], do99[1], nil
}

// RetailMAC exposes the ISO/IEC 9797-1 MAC Algorithm 3 computation used
// internally by TDESSession, so handshake.RunBAC can authenticate its
// EXTERNAL AUTHENTICATE payload with the exact same primitive the SM
// layer uses afterwards.
func RetailMAC(key16, data []byte) ([]byte, error) { return retailMAC(key16, data) }

// TDESCBCEncrypt / TDESCBCDecrypt expose the 3DES-CBC primitive
// TDESSession uses for DO'87, for handshake.RunBAC's one-shot E/E'
// computation (which runs before any Session exists).
func TDESCBCEncrypt(key16, iv, data []byte) ([]byte, error) {
	block, err := tdesCipher(key16)
	if err != nil {
		return nil, err
	}
	return cbcEncrypt(block, iv, data), nil
}

func TDESCBCDecrypt(key16, iv, data []byte) ([]byte, error) {
	block, err := tdesCipher(key16)
	if err != nil {
		return nil, err
	}
	return cbcDecrypt(block, iv, data), nil
}

// Zero overwrites key material.
func (s *AESSession) Zero() {
	zero(s.KSenc)
	zero(s.KSmac)
	for i := range s.SSC {
		s.SSC[i] = 0
	}
}

// AESCBCEncrypt / AESCBCDecrypt expose the AES-CBC primitive AESSession
// uses for DO'87, for handshake.RunPACE's one-shot nonce decryption and
// any other pre-session use of the AES cipher suite's confidentiality
// primitive.
func AESCBCEncrypt(key, iv, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cbcEncrypt(block, iv, data), nil
}

func AESCBCDecrypt(key, iv, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cbcDecrypt(block, iv, data), nil
}
