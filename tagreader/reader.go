// Package tagreader implements the eMRTD chip's high-level file and
// protocol operations: SELECT, READ BINARY with chunking, GET
// CHALLENGE, MSE:SET, GENERAL AUTHENTICATE, INTERNAL AUTHENTICATE.
// Every operation is built on apdu.Command/Response over a
// transport.Transport, optionally wrapped through a
// securemessaging.Session once BAC/PACE has established one.
//
// Grounded on the teacher's card.Reader (card/reader.go) for the
// plain-struct-fields idiom (ctx/card/name/atr, no config object) and
// card/apdu.go's Select/ReadBinary/ReadAllBinary for the chunked-read
// loop and SELECT P1/P2 fallback logic, generalized from SIM/UICC file
// identifiers to ICAO 9303 LDS file identifiers and from a single
// plaintext channel to an optional secure-messaging layer.
package tagreader

import (
	"context"
	"fmt"

	"mrtdreader/apdu"
	"mrtdreader/document"
	"mrtdreader/lds"
	"mrtdreader/mrtderr"
	"mrtdreader/securemessaging"
	"mrtdreader/transport"
)

const (
	insSelect               = 0xA4
	insReadBinary           = 0xB0
	insGetChallenge         = 0x84
	insMSESetAT             = 0x22
	insGeneralAuthenticate  = 0x86
	insInternalAuthenticate = 0x88

	defaultReadChunk = 0xA0
	minReadChunk     = 0x01
)

// ApplicationAID is the LDS1 eMRTD application identifier (ICAO 9303
// Part 10 §2.1).
var ApplicationAID = []byte{0xA0, 0x00, 0x00, 0x02, 0x47, 0x10, 0x01}

// cardAccessFileID is EF.CardAccess's ICAO 9303 Part 10 Table 13
// short file identifier, kept alongside document.DataGroupID's
// table since EF.CardAccess is read before any DG and has no DG number
// of its own.
var cardAccessFileID = [2]byte{0x01, 0x1C}

// Reader drives one chip session's file and protocol operations. The
// zero value talks plaintext; installing Session after a successful
// BAC/PACE/CA switches every subsequent Transceive to wrap/unwrap
// transparently, matching the invariant that no plaintext APDU is sent
// once secure messaging is established (SELECT MF/application, GET
// CHALLENGE, and the BAC/PACE handshake APDUs happen before Session is
// ever set).
type Reader struct {
	Transport transport.Transport
	Session   securemessaging.Session

	// ReduceDataReadingAmount lowers the first READ BINARY chunk size
	// below defaultReadChunk, down to a floor of minReadChunk. Zero
	// means use defaultReadChunk.
	ReduceDataReadingAmount int

	// OnProgress, if set, is called during ReadFile with a percentage
	// in [0,100], reset to 0 at the start of every file. Called from
	// the same goroutine driving the read, never concurrently.
	OnProgress func(percent int)
}

// New returns a Reader with no secure-messaging session installed.
func New(t transport.Transport) *Reader {
	return &Reader{Transport: t}
}

// Transceive implements handshake.Transceiver: it wraps/unwraps
// through the current Session when one is installed, otherwise sends
// the command APDU as-is.
func (r *Reader) Transceive(ctx context.Context, cmd *apdu.Command) (*apdu.Response, error) {
	if r.Session == nil {
		raw, err := r.Transport.Transceive(ctx, cmd.Bytes())
		if err != nil {
			return nil, mrtderr.New(mrtderr.KindConnectionError, err)
		}
		resp, err := apdu.Parse(raw)
		if err != nil {
			return nil, mrtderr.New(mrtderr.KindConnectionError, err)
		}
		return resp, nil
	}

	wrapped, err := r.Session.Wrap(cmd.Bytes())
	if err != nil {
		return nil, mrtderr.New(mrtderr.KindSMError, err)
	}
	raw, err := r.Transport.Transceive(ctx, wrapped)
	if err != nil {
		return nil, mrtderr.New(mrtderr.KindConnectionError, err)
	}
	body, sw1, sw2, err := r.Session.Unwrap(raw)
	if err != nil {
		return nil, mrtderr.New(mrtderr.KindSMError, err)
	}
	return &apdu.Response{Data: body, SW1: sw1, SW2: sw2}, nil
}

func respErr(resp *apdu.Response) error {
	return mrtderr.NewResponseError(apdu.Classify(resp.SW()), resp.SW1, resp.SW2)
}

// SelectApplication issues SELECT by AID (P1=0x04), used once at the
// start of a session to pick the eMRTD LDS1 application.
func (r *Reader) SelectApplication(ctx context.Context, aid []byte) error {
	cmd := &apdu.Command{INS: insSelect, P1: 0x04, P2: 0x0C, Data: aid}
	resp, err := r.Transceive(ctx, cmd)
	if err != nil {
		return err
	}
	if !resp.IsOK() {
		return respErr(resp)
	}
	return nil
}

// SelectFile selects a 2-byte short EF identifier under the current
// DF. Some reader/chip combinations reject the FCI-return P2 value;
// SelectFile falls back to the same P2 candidates card.Select tries
// (0x00, 0x04) on a 0x6A86 before giving up.
func (r *Reader) SelectFile(ctx context.Context, fileID [2]byte) error {
	tryOnce := func(p2 byte) (*apdu.Response, error) {
		cmd := &apdu.Command{INS: insSelect, P1: 0x02, P2: p2, Data: fileID[:], Le: 0}
		return r.Transceive(ctx, cmd)
	}

	resp, err := tryOnce(0x0C)
	if err != nil {
		return err
	}
	if !resp.IsOK() && resp.SW() == apdu.SWWrongP1P2 {
		for _, p2 := range []byte{0x00, 0x04} {
			resp2, err2 := tryOnce(p2)
			if err2 != nil {
				return err2
			}
			if resp2.IsOK() {
				resp = resp2
				break
			}
		}
	}
	if !resp.IsOK() {
		return respErr(resp)
	}
	return nil
}

// GetChallenge issues GET CHALLENGE, returning the 8-byte RND.IC used
// by BAC.
func (r *Reader) GetChallenge(ctx context.Context) ([]byte, error) {
	cmd := &apdu.Command{INS: insGetChallenge, Le: 8}
	resp, err := r.Transceive(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if !resp.IsOK() {
		return nil, respErr(resp)
	}
	return resp.Data, nil
}

// MSESetAT issues MSE:SET AT with P1=0xC1 (key agreement template, BSI
// TR-03110), the form that announces a protocol OID and parameters
// before the first GENERAL AUTHENTICATE. The handshake package builds
// its own MSE:SET AT commands (Chip Authentication with P1=0x41) and
// does not call this helper.
func (r *Reader) MSESetAT(ctx context.Context, p2 byte, data []byte) error {
	cmd := &apdu.Command{INS: insMSESetAT, P1: 0xC1, P2: p2, Data: data}
	resp, err := r.Transceive(ctx, cmd)
	if err != nil {
		return err
	}
	if !resp.IsOK() {
		return respErr(resp)
	}
	return nil
}

// GeneralAuthenticate sends one GENERAL AUTHENTICATE round. data is
// the already-built 0x7C dynamic authentication data template: PACE
// and Chip Authentication each shape their own template per round, so
// this is a thin pass-through rather than a protocol-aware helper.
func (r *Reader) GeneralAuthenticate(ctx context.Context, data []byte) (*apdu.Response, error) {
	cmd := &apdu.Command{INS: insGeneralAuthenticate, Data: data, Le: 256}
	return r.Transceive(ctx, cmd)
}

// InternalAuthenticate sends INTERNAL AUTHENTICATE with the given
// challenge, used by Active Authentication.
func (r *Reader) InternalAuthenticate(ctx context.Context, challenge []byte) (*apdu.Response, error) {
	cmd := &apdu.Command{INS: insInternalAuthenticate, Data: challenge, Le: 256}
	return r.Transceive(ctx, cmd)
}

// errWrongLengthRecurred signals that a chunk's retry also failed with
// a wrong-length status, meaning ReadFile should halve the chunk size
// and retry the same offset rather than retry again with a
// card-suggested Le.
var errWrongLengthRecurred = fmt.Errorf("tagreader: wrong-length status recurred")

// readChunkAt sends one READ BINARY at offset/le, transparently
// retrying once on 0x6Cxx with the card-suggested Le (per spec §4.3).
// If that retry (or the original attempt) still reports a wrong-length
// status, it returns errWrongLengthRecurred so the caller can shrink
// the chunk size instead of retrying forever.
func (r *Reader) readChunkAt(ctx context.Context, offset, le int) (*apdu.Response, error) {
	cmd := &apdu.Command{INS: insReadBinary, P1: byte(offset >> 8), P2: byte(offset), Le: le}
	resp, err := r.Transceive(ctx, cmd)
	if err != nil {
		return nil, err
	}

	if resp.NeedsRetry() {
		retryCmd := &apdu.Command{INS: insReadBinary, P1: byte(offset >> 8), P2: byte(offset), Le: int(resp.SW2)}
		resp2, err := r.Transceive(ctx, retryCmd)
		if err != nil {
			return nil, err
		}
		if resp2.NeedsRetry() || resp2.SW() == apdu.SWWrongLength {
			return resp2, errWrongLengthRecurred
		}
		return resp2, nil
	}

	if resp.SW() == apdu.SWWrongLength {
		return resp, errWrongLengthRecurred
	}
	return resp, nil
}

// ReadFile reads the currently selected EF in full. The first chunk's
// BER-TLV header yields the total file length (per spec §4.3); a
// second consecutive wrong-length status on the same chunk size halves
// it, down to a floor of minReadChunk, before retrying the same
// offset. OnProgress, if set, is called after every chunk with the
// percentage of the file read so far.
func (r *Reader) ReadFile(ctx context.Context) ([]byte, error) {
	chunk := defaultReadChunk
	if r.ReduceDataReadingAmount > 0 && r.ReduceDataReadingAmount < chunk {
		chunk = r.ReduceDataReadingAmount
	}

	var data []byte
	total := -1 // unknown until the first chunk's TLV header is parsed

	for total < 0 || len(data) < total {
		le := chunk
		if total >= 0 {
			if remaining := total - len(data); remaining < le {
				le = remaining
			}
		}
		if le <= 0 {
			break
		}

		resp, err := r.readChunkAt(ctx, len(data), le)
		if err == errWrongLengthRecurred {
			chunk /= 2
			if chunk < minReadChunk {
				return nil, mrtderr.NewResponseError("file read chunk size exhausted", resp.SW1, resp.SW2)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if !resp.IsOK() && !resp.IsEndOfFile() {
			return nil, respErr(resp)
		}

		data = append(data, resp.Data...)

		if total < 0 && len(data) > 0 {
			if _, headerTotal, err := peekTLVLength(data); err == nil {
				total = headerTotal
			}
		}

		if r.OnProgress != nil && total > 0 {
			pct := len(data) * 100 / total
			if pct > 100 {
				pct = 100
			}
			r.OnProgress(pct)
		}

		if resp.IsEndOfFile() || len(resp.Data) == 0 {
			break
		}
	}

	if r.OnProgress != nil && total > 0 && len(data) >= total {
		r.OnProgress(100)
	}
	return data, nil
}

// peekTLVLength reads just the tag+length header from buf, which may
// be only a prefix of the full TLV encoding, and returns the total
// encoded size (header + value). It follows the same BER-TLV header
// algorithm as lds.Parse, but unlike lds.Parse it does not require the
// value octets to already be present — ReadFile calls it right after
// the very first chunk, long before the rest of the file is read.
func peekTLVLength(buf []byte) (headerLen, total int, err error) {
	if len(buf) < 2 {
		return 0, 0, fmt.Errorf("tagreader: too few bytes to read a TLV header")
	}
	pos := 1
	if buf[0]&0x1F == 0x1F {
		for {
			if pos >= len(buf) {
				return 0, 0, fmt.Errorf("tagreader: truncated long-form tag")
			}
			b := buf[pos]
			pos++
			if b&0x80 == 0 {
				break
			}
		}
	}
	if pos >= len(buf) {
		return 0, 0, fmt.Errorf("tagreader: truncated length octet")
	}
	lengthByte := buf[pos]
	pos++

	var length int
	switch {
	case lengthByte < 0x80:
		length = int(lengthByte)
	case lengthByte == 0x80:
		return 0, 0, fmt.Errorf("tagreader: indefinite-length BER-TLV not supported")
	default:
		numLenBytes := int(lengthByte & 0x7F)
		if pos+numLenBytes > len(buf) {
			return 0, 0, fmt.Errorf("tagreader: truncated long-form length")
		}
		for i := 0; i < numLenBytes; i++ {
			length = length<<8 | int(buf[pos])
			pos++
		}
	}
	return pos, pos + length, nil
}

// ReadCardAccess selects and reads EF.CardAccess, the PACE parameter
// catalogue read before any handshake runs.
func (r *Reader) ReadCardAccess(ctx context.Context) (*lds.CardAccess, error) {
	if err := r.SelectFile(ctx, cardAccessFileID); err != nil {
		return nil, err
	}
	raw, err := r.ReadFile(ctx)
	if err != nil {
		return nil, err
	}
	return lds.DecodeCardAccess(raw)
}

// ReadDataGroup selects and reads the EF for the given data group,
// then decodes it via lds.DecodeDataGroup.
func (r *Reader) ReadDataGroup(ctx context.Context, id document.DataGroupID) (document.DataGroup, error) {
	if err := r.SelectFile(ctx, id.FileID()); err != nil {
		return nil, err
	}
	raw, err := r.ReadFile(ctx)
	if err != nil {
		return nil, err
	}
	return lds.DecodeDataGroup(id, raw)
}
