package output

import (
	"fmt"
	"io"
	"sync"

	"thermal-view-go/internal/types"
)

// SamplePrinter writes one temperature line per frame.
type SamplePrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewSamplePrinter(w io.Writer) *SamplePrinter {
	return &SamplePrinter{w: w}
}

func (p *SamplePrinter) Print(sample types.Sample) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintln(p.w, FormatTemperature(sample.Celsius))
	return err
}

// FormatTemperature renders degrees Celsius with two decimals and no unit.
func FormatTemperature(celsius float64) string {
	return fmt.Sprintf("%.2f", celsius)
}
