package processing

import (
	"image"
	"math"

	"github.com/TheCacophonyProject/go-cptv/cptvframe"
	"github.com/go-faster/errors"

	"thermal-view-go/internal/types"
)

// Range fixes the scaling bounds in centi-Kelvin. A zero bound is computed
// from each frame.
type Range struct {
	Min uint16
	Max uint16
}

func (r Range) Auto() bool {
	return r.Min == 0 && r.Max == 0
}

type Options struct {
	Center       image.Point
	MarkerRadius int
	MarkerValue  uint8
	Range        Range
}

// DefaultCenter is the pixel at row height/2, column width/2.
func DefaultCenter(camera types.Camera) image.Point {
	return image.Point{X: camera.Width / 2, Y: camera.Height / 2}
}

// CentiKelvinToCelsius converts a raw sensor value.
func CentiKelvinToCelsius(v uint16) float64 {
	return float64(v)/100.0 - 273.15
}

func SampleAt(frame *cptvframe.Frame, p image.Point) (types.Sample, error) {
	if p.Y < 0 || p.Y >= len(frame.Pix) || p.X < 0 || p.X >= len(frame.Pix[p.Y]) {
		return types.Sample{}, errors.Errorf("sample point %v outside frame", p)
	}
	raw := frame.Pix[p.Y][p.X]
	return types.Sample{
		Point:    p,
		Raw:      raw,
		Celsius:  CentiKelvinToCelsius(raw),
		Sequence: uint64(frame.Status.FrameCount),
	}, nil
}

// Normalize stretches the frame linearly onto 0..65535. With an automatic
// range the frame minimum maps to 0 and its maximum to 65535; a flat frame
// maps to 0 everywhere.
func Normalize(frame *cptvframe.Frame, r Range) [][]uint16 {
	lo, hi := Bounds(frame)
	if !r.Auto() {
		// A manual bound wins over the frame-derived one on the other side.
		if r.Min != 0 {
			lo = r.Min
			if hi < lo {
				hi = lo
			}
		}
		if r.Max != 0 {
			hi = r.Max
			if lo > hi {
				lo = hi
			}
		}
	}

	scale := 0.0
	if hi > lo {
		scale = math.MaxUint16 / float64(hi-lo)
	}

	out := make([][]uint16, len(frame.Pix))
	for y, row := range frame.Pix {
		dst := make([]uint16, len(row))
		for x, v := range row {
			switch {
			case v <= lo:
				dst[x] = 0
			case v >= hi:
				dst[x] = math.MaxUint16
			default:
				dst[x] = saturate16(math.RoundToEven(float64(v-lo) * scale))
			}
		}
		out[y] = dst
	}
	return out
}

// Bounds returns the smallest and largest pixel values.
func Bounds(frame *cptvframe.Frame) (uint16, uint16) {
	lo, hi := uint16(math.MaxUint16), uint16(0)
	for _, row := range frame.Pix {
		for _, v := range row {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	if lo > hi {
		return 0, 0
	}
	return lo, hi
}

// Reduce8 keeps the high byte of every pixel.
func Reduce8(pix [][]uint16) *image.Gray {
	height := len(pix)
	width := 0
	if height > 0 {
		width = len(pix[0])
	}
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y, row := range pix {
		off := y * img.Stride
		for x, v := range row {
			img.Pix[off+x] = uint8(v >> 8)
		}
	}
	return img
}

// DrawMarker fills the disc of the given radius around center, clipped to the
// image bounds.
func DrawMarker(img *image.Gray, center image.Point, radius int, value uint8) {
	b := img.Bounds()
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy > radius*radius {
				continue
			}
			p := image.Point{X: center.X + dx, Y: center.Y + dy}
			if !p.In(b) {
				continue
			}
			img.Pix[img.PixOffset(p.X, p.Y)] = value
		}
	}
}

// Process turns one decoded frame into its sample and display image.
func Process(frame *cptvframe.Frame, opts Options) (types.Result, error) {
	sample, err := SampleAt(frame, opts.Center)
	if err != nil {
		return types.Result{}, err
	}
	img := Reduce8(Normalize(frame, opts.Range))
	DrawMarker(img, opts.Center, opts.MarkerRadius, opts.MarkerValue)
	return types.Result{
		Frame:   frame,
		Sample:  sample,
		Display: img,
	}, nil
}

func saturate16(v float64) uint16 {
	if v <= 0 {
		return 0
	}
	if v >= math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}
