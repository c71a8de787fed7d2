//go:build nogui

package window

import (
	"thermal-view-go/internal/pipeline"
	"thermal-view-go/internal/types"
)

type Window struct{}

var _ pipeline.Display = (*Window)(nil)

func New(_ Options) (*Window, error) {
	return nil, ErrUnavailable
}

func (w *Window) Run() error                { return ErrUnavailable }
func (w *Window) Show(_ types.Result) error { return ErrUnavailable }
func (w *Window) PollKey() int              { return pipeline.NoKey }
func (w *Window) Close() error              { return nil }
