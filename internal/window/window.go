package window

import (
	"image"

	"github.com/go-faster/errors"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("window")

// ErrUnavailable is returned when the binary was built without a window
// backend.
var ErrUnavailable = errors.New("window display not available; rebuild without -tags nogui or use --display web")

// Options sizes and names the native window.
type Options struct {
	Title  string
	Width  int
	Height int
	Scale  int
}

func (o Options) windowSize() (int, int) {
	scale := o.Scale
	if scale < 1 {
		scale = 1
	}
	return o.Width * scale, o.Height * scale
}

// grayToRGBA expands an 8-bit grey image into the RGBA byte layout the
// backend uploads. dst is reused when large enough.
func grayToRGBA(dst []byte, src *image.Gray) []byte {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	if cap(dst) < w*h*4 {
		dst = make([]byte, w*h*4)
	}
	dst = dst[:w*h*4]
	i := 0
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+w]
		for _, v := range row {
			dst[i] = v
			dst[i+1] = v
			dst[i+2] = v
			dst[i+3] = 0xff
			i += 4
		}
	}
	return dst
}
