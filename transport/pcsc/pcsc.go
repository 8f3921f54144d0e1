// Package pcsc adapts a PC/SC contactless reader (e.g. an ACR122U
// talking T=CL to an eMRTD chip) to the transport.Transport interface.
// It is the one concrete Transport this module ships; a host OS's own
// NFC stack (CoreNFC, Android's IsoDep) is out of this module's scope
// per spec §1 and is expected to provide its own thin Transport adapter.
//
// Grounded on card/reader.go's PC/SC session handling from the teacher.
package pcsc

import (
	"context"
	"fmt"

	"github.com/ebfe/scard"
)

// Transport talks to a contactless card through a PC/SC reader.
type Transport struct {
	ctx  *scard.Context
	card *scard.Card
	name string
	atr  []byte
}

// ListReaders enumerates PC/SC reader names.
func ListReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("pcsc: establish context: %w", err)
	}
	defer ctx.Release()

	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("pcsc: list readers: %w", err)
	}
	return readers, nil
}

// Open connects to the reader at the given index. The card is expected
// to already be presented; Connect (below) then warm-resets it.
func Open(readerIndex int) (*Transport, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("pcsc: establish context: %w", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("pcsc: list readers: %w", err)
	}
	if len(readers) == 0 {
		ctx.Release()
		return nil, fmt.Errorf("pcsc: no readers found")
	}
	if readerIndex < 0 || readerIndex >= len(readers) {
		ctx.Release()
		return nil, fmt.Errorf("pcsc: reader index %d out of range (0-%d)", readerIndex, len(readers)-1)
	}

	readerName := readers[readerIndex]
	card, err := ctx.Connect(readerName, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("pcsc: connect to '%s': %w", readerName, err)
	}

	status, err := card.Status()
	if err != nil {
		card.Disconnect(scard.LeaveCard)
		ctx.Release()
		return nil, fmt.Errorf("pcsc: card status: %w", err)
	}

	return &Transport{ctx: ctx, card: card, name: readerName, atr: status.Atr}, nil
}

// Connect performs a warm reset so the chip starts from a known state,
// matching the teacher's connectAndPrepareReader reset-before-use idiom.
func (t *Transport) Connect(ctx context.Context) error {
	if t.card == nil {
		return fmt.Errorf("pcsc: no card connected")
	}
	if err := t.card.Reconnect(scard.ShareShared, scard.ProtocolAny, scard.ResetCard); err != nil {
		return fmt.Errorf("pcsc: reconnect: %w", err)
	}
	status, err := t.card.Status()
	if err == nil {
		t.atr = status.Atr
	}
	return nil
}

// Transceive sends the raw APDU bytes and returns the raw response.
func (t *Transport) Transceive(ctx context.Context, cmd []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := t.card.Transmit(cmd)
	if err != nil {
		return nil, fmt.Errorf("pcsc: transmit: %w", err)
	}
	return resp, nil
}

// Invalidate releases the card/context. Idempotent.
func (t *Transport) Invalidate(message string) {
	if t.card != nil {
		t.card.Disconnect(scard.LeaveCard)
		t.card = nil
	}
	if t.ctx != nil {
		t.ctx.Release()
		t.ctx = nil
	}
}

// Name returns the underlying PC/SC reader name.
func (t *Transport) Name() string { return t.name }

// ATRHex returns the Answer-To-Reset as a hex string.
func (t *Transport) ATRHex() string { return fmt.Sprintf("%X", t.atr) }
