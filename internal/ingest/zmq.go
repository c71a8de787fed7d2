package ingest

import (
	"context"
	"syscall"
	"time"

	"github.com/go-faster/errors"
	"github.com/pebbe/zmq4"

	"thermal-view-go/internal/types"
)

// ZMQSource pulls frames from a ZeroMQ PUSH socket. Messages are either the
// raw frame bytes or a CBOR image envelope.
type ZMQSource struct {
	frames <-chan types.Datagram
	cancel context.CancelFunc
	done   chan struct{}
}

func StreamZMQ(ctx context.Context, endpoint string, camera types.Camera, logEvery int) (*ZMQSource, error) {
	socket, err := zmq4.NewSocket(zmq4.PULL)
	if err != nil {
		return nil, errors.Wrap(err, "zmq socket")
	}
	if err := socket.SetRcvtimeo(250 * time.Millisecond); err != nil {
		_ = socket.Close()
		return nil, errors.Wrap(err, "zmq rcvtimeo")
	}
	if err := socket.Connect(endpoint); err != nil {
		_ = socket.Close()
		return nil, errors.Wrapf(err, "zmq connect %s", endpoint)
	}
	log.Infow("pulling frames", "endpoint", endpoint)

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan types.Datagram, 4)
	done := make(chan struct{})
	throttle := NewThrottle(logEvery)
	go func() {
		defer close(done)
		defer close(out)
		defer socket.Close()

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msg, err := socket.RecvBytes(0)
			if err != nil {
				if zmq4.AsErrno(err) != zmq4.Errno(syscall.EAGAIN) {
					if n, ok := throttle.Allow(); ok {
						log.Warnw("zmq recv error", "error", err, "count", n)
					}
				}
				continue
			}

			d := types.Datagram{Payload: msg, From: endpoint}
			if len(msg) != camera.FrameBytes() {
				env, err := DecodeEnvelope(msg, camera)
				if err != nil {
					// Leave the payload untouched so the size check reports it.
					if n, ok := throttle.Allow(); ok {
						log.Warnw("zmq message is neither a raw frame nor an envelope", "error", err, "count", n)
					}
				} else {
					d.Payload = env.Payload
					d.Order = env.Order
				}
			}
			d.Received = time.Now()

			select {
			case <-ctx.Done():
				return
			case out <- d:
			}
		}
	}()

	return &ZMQSource{frames: out, cancel: cancel, done: done}, nil
}

func (s *ZMQSource) Receive(ctx context.Context) (types.Datagram, error) {
	select {
	case <-ctx.Done():
		return types.Datagram{}, ctx.Err()
	case d, ok := <-s.frames:
		if !ok {
			return types.Datagram{}, ErrSourceClosed
		}
		return d, nil
	}
}

func (s *ZMQSource) Close() error {
	s.cancel()
	<-s.done
	return nil
}
