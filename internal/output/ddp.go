package output

import (
	"image"

	"github.com/coral/ddp"
	"github.com/go-faster/errors"

	"thermal-view-go/internal/types"
)

// ddpMaxData is the largest payload a single DDP packet carries.
const ddpMaxData = ddp.DDP_MAX_DATALEN

type ddpWriter interface {
	WriteOffset(data []byte, offset uint32) (int, error)
	Close() error
}

// DDPSink mirrors the display frame to a DDP pixel display (WLED matrix and
// similar) as RGB24 grey.
type DDPSink struct {
	target string
	out    ddpWriter
	buf    []byte
}

func DialDDP(target string) (*DDPSink, error) {
	controller := ddp.NewDDPController()
	if err := controller.ConnectUDP(target); err != nil {
		return nil, errors.Wrapf(err, "ddp connect %s", target)
	}
	log.Infow("mirroring frames over ddp", "target", target)
	return &DDPSink{target: target, out: controller}, nil
}

func (s *DDPSink) Name() string {
	return "ddp"
}

func (s *DDPSink) Emit(result types.Result) error {
	if result.Display == nil {
		return nil
	}
	s.buf = greyToRGB(s.buf[:0], result.Display)
	for offset := 0; offset < len(s.buf); offset += ddpMaxData {
		end := offset + ddpMaxData
		if end > len(s.buf) {
			end = len(s.buf)
		}
		if _, err := s.out.WriteOffset(s.buf[offset:end], uint32(offset)); err != nil {
			return errors.Wrapf(err, "ddp write to %s at offset %d", s.target, offset)
		}
	}
	return nil
}

func (s *DDPSink) Close() error {
	return s.out.Close()
}

func greyToRGB(dst []byte, img *image.Gray) []byte {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]
		for _, v := range row {
			dst = append(dst, v, v, v)
		}
	}
	return dst
}
