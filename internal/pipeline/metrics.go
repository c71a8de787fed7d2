package pipeline

import (
	"context"
	"sync/atomic"
	"time"
)

type Metrics struct {
	datagrams    atomic.Uint64
	malformed    atomic.Uint64
	framesShown  atomic.Uint64
	sinkErrors   atomic.Uint64
	processCount atomic.Uint64
	processNanos atomic.Uint64
}

func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"datagrams_total":     m.datagrams.Load(),
		"malformed_total":     m.malformed.Load(),
		"frames_shown_total":  m.framesShown.Load(),
		"sink_errors_total":   m.sinkErrors.Load(),
		"process_total":       m.processCount.Load(),
		"process_nanos_total": m.processNanos.Load(),
	}
}

// LogStats writes a summary line every interval until ctx ends.
func (m *Metrics) LogStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Infow("ingest stats",
				"datagrams", m.datagrams.Load(),
				"frames", m.framesShown.Load(),
				"malformed", m.malformed.Load(),
				"sink_errors", m.sinkErrors.Load(),
			)
		}
	}
}
