package processing

import (
	"github.com/TheCacophonyProject/go-cptv/cptvframe"
)

// FrameStats summarises a frame in degrees Celsius.
type FrameStats struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

func Stats(frame *cptvframe.Frame) FrameStats {
	lo, hi := Bounds(frame)
	sum := 0.0
	count := 0
	for _, row := range frame.Pix {
		for _, v := range row {
			sum += float64(v)
			count++
		}
	}
	mean := 0.0
	if count > 0 {
		mean = sum/float64(count)/100.0 - 273.15
	}
	return FrameStats{
		Min:  CentiKelvinToCelsius(lo),
		Max:  CentiKelvinToCelsius(hi),
		Mean: mean,
	}
}
