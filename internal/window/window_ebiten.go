//go:build !nogui

package window

import (
	"image"
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"
	"github.com/hajimehoshi/ebiten/v2"

	"thermal-view-go/internal/pipeline"
	"thermal-view-go/internal/types"
)

// Window shows frames in a native window. Run must be called from the main
// goroutine; Show and PollKey are safe from any other goroutine.
type Window struct {
	opts Options

	mu     sync.Mutex
	latest *image.Gray
	dirty  bool

	keys   chan int
	closed atomic.Bool

	img   *ebiten.Image
	rgba  []byte
	runes []rune
}

var _ pipeline.Display = (*Window)(nil)

func New(opts Options) (*Window, error) {
	if opts.Width < 1 || opts.Height < 1 {
		return nil, errors.Errorf("invalid window size %dx%d", opts.Width, opts.Height)
	}
	return &Window{
		opts: opts,
		keys: make(chan int, 16),
	}, nil
}

// Run opens the window and blocks until Close is called or the user closes
// it.
func (w *Window) Run() error {
	ebiten.SetWindowTitle(w.opts.Title)
	ebiten.SetWindowSize(w.opts.windowSize())
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetTPS(60)
	log.Infow("window open", "title", w.opts.Title, "width", w.opts.Width, "height", w.opts.Height)

	err := ebiten.RunGame(w)
	w.closed.Store(true)
	if err != nil && !errors.Is(err, ebiten.Termination) {
		return errors.Wrap(err, "run window")
	}
	return nil
}

func (w *Window) Show(result types.Result) error {
	if w.closed.Load() {
		return pipeline.ErrDisplayClosed
	}
	frame := image.NewGray(result.Display.Rect)
	copy(frame.Pix, result.Display.Pix)

	w.mu.Lock()
	w.latest = frame
	w.dirty = true
	w.mu.Unlock()
	return nil
}

func (w *Window) PollKey() int {
	select {
	case key := <-w.keys:
		return key
	default:
		return pipeline.NoKey
	}
}

func (w *Window) Close() error {
	w.closed.Store(true)
	return nil
}

func (w *Window) Update() error {
	if w.closed.Load() {
		return ebiten.Termination
	}
	w.runes = ebiten.AppendInputChars(w.runes[:0])
	for _, r := range w.runes {
		select {
		case w.keys <- int(r):
		default:
		}
	}
	return nil
}

func (w *Window) Draw(screen *ebiten.Image) {
	w.mu.Lock()
	if w.dirty && w.latest != nil {
		if w.img == nil {
			w.img = ebiten.NewImage(w.opts.Width, w.opts.Height)
		}
		w.rgba = grayToRGBA(w.rgba, w.latest)
		w.img.WritePixels(w.rgba)
		w.dirty = false
	}
	w.mu.Unlock()

	if w.img != nil {
		screen.DrawImage(w.img, nil)
	}
}

func (w *Window) Layout(_, _ int) (int, int) {
	return w.opts.Width, w.opts.Height
}
