package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	logging "github.com/ipfs/go-log/v2"

	"thermal-view-go/internal/ingest"
	"thermal-view-go/internal/output"
	"thermal-view-go/internal/processing"
	"thermal-view-go/internal/types"
)

var log = logging.Logger("pipeline")

// QuitKey is the character that ends the loop.
const QuitKey = 'q'

// NoKey is returned by PollKey when nothing was pressed.
const NoKey = -1

// ErrDisplayClosed is returned by Show when the user closed the display. The
// loop ends as if the quit key had been pressed.
var ErrDisplayClosed = errors.New("display closed")

// Display shows processed frames and reports key presses.
type Display interface {
	Show(result types.Result) error
	// PollKey returns the next pending key code or NoKey.
	PollKey() int
	Close() error
}

// IsQuitKey compares the low byte of the key code with the quit character.
func IsQuitKey(key int) bool {
	return key >= 0 && key&0xFF == QuitKey
}

type Config struct {
	Camera        types.Camera
	ByteOrder     types.ByteOrder
	SkipMalformed bool
	LogEvery      int
	Options       processing.Options
}

// Viewer runs the receive → transform → display loop.
type Viewer struct {
	cfg     Config
	source  ingest.Source
	display Display
	printer *output.SamplePrinter
	sinks   []output.Sink

	opts         atomic.Pointer[processing.Options]
	metrics      Metrics
	malformedLog *ingest.Throttle
	seq          uint64

	latestMu sync.Mutex
	latest   types.Sample
	stats    processing.FrameStats
	hasFrame bool
}

func New(cfg Config, source ingest.Source, display Display, printer *output.SamplePrinter, sinks ...output.Sink) *Viewer {
	if cfg.LogEvery < 1 {
		cfg.LogEvery = 1
	}
	v := &Viewer{
		cfg:     cfg,
		source:  source,
		display: display,
		printer: printer,
		sinks:   sinks,

		malformedLog: ingest.NewThrottle(cfg.LogEvery),
	}
	opts := cfg.Options
	v.opts.Store(&opts)
	return v
}

// SetOptions takes effect from the next frame.
func (v *Viewer) SetOptions(opts processing.Options) {
	v.opts.Store(&opts)
}

func (v *Viewer) Options() processing.Options {
	return *v.opts.Load()
}

// Run loops until the quit key is seen (nil), ctx ends (ctx.Err()) or a
// frame cannot be handled.
func (v *Viewer) Run(ctx context.Context) error {
	for {
		quit, err := v.Step(ctx)
		if err != nil {
			return err
		}
		if quit {
			log.Infow("quit key pressed", "frames", v.metrics.framesShown.Load())
			return nil
		}
	}
}

// Step handles exactly one datagram.
func (v *Viewer) Step(ctx context.Context) (bool, error) {
	d, err := v.source.Receive(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, errors.Wrap(err, "receive")
	}
	v.metrics.datagrams.Add(1)

	start := time.Now()
	frame, err := ingest.Decode(d, v.cfg.Camera, v.cfg.ByteOrder)
	if err != nil {
		if ingest.IsMalformed(err) {
			v.metrics.malformed.Add(1)
			if v.cfg.SkipMalformed {
				if n, ok := v.malformedLog.Allow(); ok {
					log.Warnw("dropping malformed datagram", "error", err, "dropped", n)
				}
				return IsQuitKey(v.display.PollKey()), nil
			}
		}
		return false, err
	}
	v.seq++
	frame.Status.FrameCount = int(v.seq)

	result, err := processing.Process(frame, v.Options())
	if err != nil {
		return false, errors.Wrap(err, "process frame")
	}
	result.Received = d.Received
	v.metrics.processCount.Add(1)
	v.metrics.processNanos.Add(uint64(time.Since(start).Nanoseconds()))

	if err := v.printer.Print(result.Sample); err != nil {
		return false, errors.Wrap(err, "print sample")
	}
	if err := v.display.Show(result); err != nil {
		if errors.Is(err, ErrDisplayClosed) {
			log.Infow("display closed", "frames", v.metrics.framesShown.Load())
			return true, nil
		}
		return false, errors.Wrap(err, "display frame")
	}
	v.metrics.framesShown.Add(1)

	for _, sink := range v.sinks {
		if err := sink.Emit(result); err != nil {
			v.metrics.sinkErrors.Add(1)
			log.Warnw("sink failed", "sink", sink.Name(), "error", err)
		}
	}

	v.latestMu.Lock()
	v.latest = result.Sample
	v.stats = processing.Stats(frame)
	v.hasFrame = true
	v.latestMu.Unlock()

	return IsQuitKey(v.display.PollKey()), nil
}

// Latest returns the most recent sample and frame statistics.
func (v *Viewer) Latest() (types.Sample, processing.FrameStats, bool) {
	v.latestMu.Lock()
	defer v.latestMu.Unlock()
	return v.latest, v.stats, v.hasFrame
}

func (v *Viewer) Metrics() *Metrics {
	return &v.metrics
}
