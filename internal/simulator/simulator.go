package simulator

import (
	"context"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/go-faster/errors"
	logging "github.com/ipfs/go-log/v2"

	"thermal-view-go/internal/ingest"
	"thermal-view-go/internal/types"
)

var log = logging.Logger("simulator")

const (
	// Background is 25.00 °C in centi-Kelvin.
	Background = 29815
	// HotspotPeak is the extra heat at the hotspot centre, about 12 °C.
	HotspotPeak = 1200
)

// Frame renders one synthetic frame: a warm background, a Gaussian hotspot
// drifting around the sensor centre and a little sensor noise.
func Frame(camera types.Camera, tick int, rng *rand.Rand) [][]uint16 {
	pix := make([][]uint16, camera.Height)
	phase := float64(tick) / 20
	hx := float64(camera.Width)/2 + math.Cos(phase)*float64(camera.Width)/6
	hy := float64(camera.Height)/2 + math.Sin(phase)*float64(camera.Height)/6
	spread := float64(camera.Width*camera.Height) / 60

	for y := range pix {
		pix[y] = make([]uint16, camera.Width)
		for x := range pix[y] {
			dx := float64(x) - hx
			dy := float64(y) - hy
			v := Background + HotspotPeak*math.Exp(-(dx*dx+dy*dy)/spread)
			if rng != nil {
				v += rng.NormFloat64() * 5
			}
			pix[y][x] = uint16(math.Max(0, math.Min(math.MaxUint16, v)))
		}
	}
	return pix
}

// Stream emits encoded frames at fps until ctx ends.
func Stream(ctx context.Context, camera types.Camera, fps float64, order types.ByteOrder) <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)
		if fps <= 0 {
			fps = 9
		}
		ticker := time.NewTicker(time.Duration(float64(time.Second) / fps))
		defer ticker.Stop()
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))

		for tick := 0; ; tick++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			payload := ingest.Encode(Frame(camera, tick, rng), order)
			select {
			case <-ctx.Done():
				return
			case out <- payload:
			}
		}
	}()
	return out
}

// Send transmits every frame from frames to addr as one UDP datagram each.
func Send(ctx context.Context, addr string, frames <-chan []byte) error {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return errors.Wrapf(err, "dial %s", addr)
	}
	defer conn.Close()
	log.Infow("sending synthetic frames", "target", addr)

	var sent uint64
	for {
		select {
		case <-ctx.Done():
			log.Infow("simulator stopped", "frames", sent)
			return nil
		case payload, ok := <-frames:
			if !ok {
				return nil
			}
			if _, err := conn.Write(payload); err != nil {
				// Nothing listening yet yields ECONNREFUSED on the next write.
				log.Debugw("send failed", "error", err)
				continue
			}
			sent++
		}
	}
}
