package types

import (
	"image"
	"time"

	"github.com/TheCacophonyProject/go-cptv/cptvframe"
)

// Camera describes the sensor geometry. It satisfies cptvframe.CameraSpec.
type Camera struct {
	Width  int
	Height int
	Rate   int
}

func (c Camera) ResX() int { return c.Width }
func (c Camera) ResY() int { return c.Height }
func (c Camera) FPS() int  { return c.Rate }

// FrameBytes is the exact datagram length for one frame.
func (c Camera) FrameBytes() int {
	return c.Width * c.Height * 2
}

var _ cptvframe.CameraSpec = Camera{}

// Datagram is one received frame payload. Order overrides the configured byte
// order when the transport carries it (CBOR typed arrays).
type Datagram struct {
	Payload  []byte
	From     string
	Received time.Time
	Order    ByteOrder
}

type ByteOrder string

const (
	LittleEndian ByteOrder = "little"
	BigEndian    ByteOrder = "big"
)

// Sample is the temperature read at a single pixel.
type Sample struct {
	Point    image.Point `json:"point"`
	Raw      uint16      `json:"raw"`
	Celsius  float64     `json:"temperature_c"`
	Sequence uint64      `json:"seq"`
}

// Result is everything one loop iteration produced.
type Result struct {
	Frame    *cptvframe.Frame
	Sample   Sample
	Display  *image.Gray
	Received time.Time
}
