package handshake

import (
	"crypto/sha1" //nolint:gosec // ICAO 9303 Appendix D.1 mandates SHA-1 for the basic key derivation function.
	"crypto/sha256"
)

// KeySeed is the 16-byte K_seed ICAO 9303 Appendix D.1 derives from the
// MRZ information string (document number + check digit, date of
// birth + check digit, date of expiry + check digit, concatenated).
type KeySeed [16]byte

// DeriveKeySeed computes K_seed = SHA-1(mrzInformation)[0:16].
func DeriveKeySeed(mrzInformation string) KeySeed {
	sum := sha1.Sum([]byte(mrzInformation))
	var seed KeySeed
	copy(seed[:], sum[:16])
	return seed
}

// DeriveKDF3DES runs the Appendix D.1 key derivation function for a
// 3DES/retail-MAC key: D = seed || counter (4-byte big-endian), K = the
// first 16 bytes of SHA-1(D) with DES odd parity applied per byte.
func DeriveKDF3DES(seed []byte, counter uint32) []byte {
	d := make([]byte, len(seed)+4)
	copy(d, seed)
	d[len(seed)+0] = byte(counter >> 24)
	d[len(seed)+1] = byte(counter >> 16)
	d[len(seed)+2] = byte(counter >> 8)
	d[len(seed)+3] = byte(counter)

	sum := sha1.Sum(d)
	key := append([]byte(nil), sum[:16]...)
	adjustDESParity(key)
	return key
}

// adjustDESParity sets each byte's low bit so the byte carries odd
// parity, the convention every ICAO 9303 3DES key uses.
func adjustDESParity(key []byte) {
	for i, b := range key {
		var ones int
		for bit := 1; bit < 8; bit++ {
			if b&(1<<uint(bit)) != 0 {
				ones++
			}
		}
		if ones%2 == 0 {
			key[i] = b | 1
		} else {
			key[i] = b &^ 1
		}
	}
}

// DeriveMRZKey returns the Kenc/Kmac pair BAC's EXTERNAL AUTHENTICATE
// step uses, per ICAO 9303 Appendix D's worked example (counters 1/2).
func DeriveMRZKey(mrzInformation string) (kenc, kmac []byte) {
	seed := DeriveKeySeed(mrzInformation)
	return DeriveKDF3DES(seed[:], 1), DeriveKDF3DES(seed[:], 2)
}

// DerivePACEPasswordKey3DES returns Kπ, the password key PACE's
// encrypted nonce is decrypted under (counter 3), for the 3DES cipher
// suite.
func DerivePACEPasswordKey3DES(mrzInformation string) []byte {
	seed := DeriveKeySeed(mrzInformation)
	return DeriveKDF3DES(seed[:], 3)
}

// DeriveKDFAES runs BSI TR-03110's key derivation function for an AES
// session or password key: SHA-1 for a 16-byte key (AES-128), SHA-256
// for 24/32-byte keys (AES-192/256), truncated to keyLen. Unlike the
// 3DES KDF, no parity adjustment applies.
func DeriveKDFAES(seed []byte, counter uint32, keyLen int) []byte {
	d := make([]byte, len(seed)+4)
	copy(d, seed)
	d[len(seed)+0] = byte(counter >> 24)
	d[len(seed)+1] = byte(counter >> 16)
	d[len(seed)+2] = byte(counter >> 8)
	d[len(seed)+3] = byte(counter)

	if keyLen <= 16 {
		sum := sha1.Sum(d)
		return append([]byte(nil), sum[:keyLen]...)
	}
	sum := sha256.Sum256(d)
	return append([]byte(nil), sum[:keyLen]...)
}
