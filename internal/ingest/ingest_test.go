package ingest

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/go-faster/errors"
)

func listenLoopback(t *testing.T) *UDPSource {
	t.Helper()
	src, err := Listen("127.0.0.1:0", lepton.FrameBytes())
	if err != nil {
		t.Fatalf("Listen error: %v", err)
	}
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func send(t *testing.T, addr net.Addr, payload []byte) {
	t.Helper()
	conn, err := net.Dial("udp", addr.String())
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write error: %v", err)
	}
}

func TestUDPSourceReceivesFullFrame(t *testing.T) {
	src := listenLoopback(t)
	send(t, src.LocalAddr(), constantPayload(29815))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d, err := src.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive error: %v", err)
	}
	if len(d.Payload) != 38400 {
		t.Fatalf("unexpected payload length %d", len(d.Payload))
	}
	frame, err := Decode(d, lepton, "little")
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if frame.Pix[60][80] != 29815 {
		t.Fatalf("unexpected center value %d", frame.Pix[60][80])
	}
}

func TestUDPSourceDetectsOversizedDatagram(t *testing.T) {
	src := listenLoopback(t)
	send(t, src.LocalAddr(), make([]byte, lepton.FrameBytes()+100))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d, err := src.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive error: %v", err)
	}
	if _, err := Decode(d, lepton, "little"); !errors.Is(err, ErrOversizedDatagram) {
		t.Fatalf("expected oversized error, got %v", err)
	}
}

func TestUDPSourceCancel(t *testing.T) {
	src := listenLoopback(t)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := src.Receive(ctx)
		errCh <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Receive did not return after cancel")
	}
}

func TestListenFailsWhenPortInUse(t *testing.T) {
	src := listenLoopback(t)
	if _, err := Listen(src.LocalAddr().String(), lepton.FrameBytes()); err == nil {
		t.Fatalf("expected bind error for %s", src.LocalAddr())
	}
}

func TestChannelSource(t *testing.T) {
	frames := make(chan []byte, 1)
	frames <- []byte{1, 2}
	close(frames)
	src := NewChannelSource("sim", frames)

	d, err := src.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive error: %v", err)
	}
	if d.From != "sim" || len(d.Payload) != 2 {
		t.Fatalf("unexpected datagram %+v", d)
	}
	if _, err := src.Receive(context.Background()); !errors.Is(err, ErrSourceClosed) {
		t.Fatalf("expected ErrSourceClosed, got %v", err)
	}
}

func TestThrottleAdmitsFirstThenEveryNth(t *testing.T) {
	throttle := NewThrottle(3)
	var admitted []uint64
	for i := 0; i < 7; i++ {
		if n, ok := throttle.Allow(); ok {
			admitted = append(admitted, n)
		}
	}
	want := []uint64{1, 4, 7}
	if len(admitted) != len(want) {
		t.Fatalf("admitted %v, want %v", admitted, want)
	}
	for i := range want {
		if admitted[i] != want[i] {
			t.Fatalf("admitted %v, want %v", admitted, want)
		}
	}

	every := NewThrottle(0)
	for i := 0; i < 3; i++ {
		if _, ok := every.Allow(); !ok {
			t.Fatal("throttle of 0 should admit every event")
		}
	}
}
