package ingest

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	logging "github.com/ipfs/go-log/v2"

	"thermal-view-go/internal/types"
)

var log = logging.Logger("ingest")

// Source yields one frame payload per call.
type Source interface {
	Receive(ctx context.Context) (types.Datagram, error)
	Close() error
}

// UDPSource reads one frame per datagram from a bound UDP socket.
type UDPSource struct {
	conn *net.UDPConn
	buf  []byte
}

// Listen binds addr. The read buffer is one byte larger than a frame so an
// oversized datagram is visible instead of silently truncated.
func Listen(addr string, expected int) (*UDPSource, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", addr)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "bind %s", addr)
	}
	log.Infow("listening for frames", "addr", conn.LocalAddr().String(), "frame_bytes", expected)
	return &UDPSource{
		conn: conn,
		buf:  make([]byte, expected+1),
	}, nil
}

func (s *UDPSource) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Receive blocks until a datagram arrives or ctx is cancelled.
func (s *UDPSource) Receive(ctx context.Context) (types.Datagram, error) {
	if err := ctx.Err(); err != nil {
		return types.Datagram{}, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	n, addr, err := s.conn.ReadFromUDP(s.buf)
	if err != nil {
		if ctx.Err() != nil {
			return types.Datagram{}, ctx.Err()
		}
		return types.Datagram{}, errors.Wrap(err, "udp read")
	}
	payload := make([]byte, n)
	copy(payload, s.buf[:n])
	return types.Datagram{
		Payload:  payload,
		From:     addr.String(),
		Received: time.Now(),
	}, nil
}

func (s *UDPSource) Close() error {
	return s.conn.Close()
}

// ChannelSource adapts an in-process stream of payloads.
type ChannelSource struct {
	frames <-chan []byte
	name   string
}

func NewChannelSource(name string, frames <-chan []byte) *ChannelSource {
	return &ChannelSource{frames: frames, name: name}
}

func (s *ChannelSource) Receive(ctx context.Context) (types.Datagram, error) {
	select {
	case <-ctx.Done():
		return types.Datagram{}, ctx.Err()
	case payload, ok := <-s.frames:
		if !ok {
			return types.Datagram{}, ErrSourceClosed
		}
		return types.Datagram{
			Payload:  payload,
			From:     s.name,
			Received: time.Now(),
		}, nil
	}
}

func (s *ChannelSource) Close() error {
	return nil
}

var ErrSourceClosed = errors.New("source closed")

// Throttle admits the first event and then every Nth one, so repeated
// failures are visible without flooding the log.
type Throttle struct {
	every uint64
	count atomic.Uint64
}

func NewThrottle(every int) *Throttle {
	if every < 1 {
		every = 1
	}
	return &Throttle{every: uint64(every)}
}

// Allow counts one event and reports the running total and whether it should
// be logged.
func (t *Throttle) Allow() (uint64, bool) {
	n := t.count.Add(1)
	return n, (n-1)%t.every == 0
}
