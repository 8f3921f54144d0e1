package handshake

import (
	"context"
	"fmt"

	"mrtdreader/apdu"
	"mrtdreader/transport"
)

// RawTransceiver sends command APDUs straight to a Transport with no
// secure-messaging wrapping. Used for BAC and PACE, which establish the
// SM session rather than run over it.
type RawTransceiver struct {
	Transport transport.Transport
}

func (r *RawTransceiver) Transceive(ctx context.Context, cmd *apdu.Command) (*apdu.Response, error) {
	raw, err := r.Transport.Transceive(ctx, cmd.Bytes())
	if err != nil {
		return nil, fmt.Errorf("handshake: transceive: %w", err)
	}
	resp, err := apdu.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("handshake: parse response: %w", err)
	}
	return resp, nil
}
