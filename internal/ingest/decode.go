package ingest

import (
	"encoding/binary"

	"github.com/TheCacophonyProject/go-cptv/cptvframe"
	"github.com/go-faster/errors"

	"thermal-view-go/internal/types"
)

var (
	ErrShortDatagram     = errors.New("short datagram")
	ErrOversizedDatagram = errors.New("oversized datagram")
)

// IsMalformed reports whether err came from a datagram of the wrong size.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrShortDatagram) || errors.Is(err, ErrOversizedDatagram)
}

// Decode reinterprets a datagram as a row-major grid of uint16 centi-Kelvin
// values. The length is checked before any pixel is read.
func Decode(d types.Datagram, camera types.Camera, order types.ByteOrder) (*cptvframe.Frame, error) {
	want := camera.FrameBytes()
	switch n := len(d.Payload); {
	case n < want:
		return nil, errors.Wrapf(ErrShortDatagram, "got %d bytes from %s, want %d", n, d.From, want)
	case n > want:
		return nil, errors.Wrapf(ErrOversizedDatagram, "got at least %d bytes from %s, want %d", n, d.From, want)
	}

	if d.Order != "" {
		order = d.Order
	}
	var bo binary.ByteOrder = binary.LittleEndian
	if order == types.BigEndian {
		bo = binary.BigEndian
	}

	frame := cptvframe.NewFrame(camera)
	i := 0
	for y, row := range frame.Pix {
		for x := range row {
			frame.Pix[y][x] = bo.Uint16(d.Payload[i : i+2])
			i += 2
		}
	}
	return frame, nil
}

// Encode is the inverse of Decode.
func Encode(pix [][]uint16, order types.ByteOrder) []byte {
	var bo binary.ByteOrder = binary.LittleEndian
	if order == types.BigEndian {
		bo = binary.BigEndian
	}
	size := 0
	for _, row := range pix {
		size += len(row) * 2
	}
	out := make([]byte, size)
	i := 0
	for _, row := range pix {
		for _, v := range row {
			bo.PutUint16(out[i:i+2], v)
			i += 2
		}
	}
	return out
}
