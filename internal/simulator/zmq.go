package simulator

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/pebbe/zmq4"

	"thermal-view-go/internal/ingest"
	"thermal-view-go/internal/types"
)

// Push binds a PUSH socket on endpoint and sends every little-endian frame
// wrapped in the CBOR image envelope.
func Push(ctx context.Context, endpoint string, camera types.Camera, frames <-chan []byte) error {
	sock, err := zmq4.NewSocket(zmq4.PUSH)
	if err != nil {
		return errors.Wrap(err, "create push socket")
	}
	defer sock.Close()
	if err := sock.SetLinger(0); err != nil {
		return errors.Wrap(err, "set linger")
	}
	if err := sock.SetSndhwm(4); err != nil {
		return errors.Wrap(err, "set send hwm")
	}
	if err := sock.Bind(endpoint); err != nil {
		return errors.Wrapf(err, "bind %s", endpoint)
	}
	log.Infow("pushing synthetic frames", "endpoint", endpoint)

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-frames:
			if !ok {
				return nil
			}
			msg, err := ingest.EncodeEnvelope(payload, camera)
			if err != nil {
				return err
			}
			if _, err := sock.SendBytes(msg, zmq4.DONTWAIT); err != nil {
				log.Debugw("push dropped frame", "error", err)
			}
		}
	}
}
