package pipeline

import "thermal-view-go/internal/types"

// Headless shows nothing and never reports a key; the loop then ends only
// when its context does.
type Headless struct{}

func (Headless) Show(types.Result) error { return nil }
func (Headless) PollKey() int            { return NoKey }
func (Headless) Close() error            { return nil }
