package audio

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"lautenbacher.net/golights/util"
)

// RunModulation drains the modulation queue and publishes a snapshot of the
// newest frame. When frames pile up only the latest one is analysed. It
// returns when ctx is done or the queue is closed.
func RunModulation(ctx context.Context, queue *util.DropQueue[Frame], analyzer *Analyzer, out *util.AtomicEvent[Snapshot], poll time.Duration) {
	slog.Info("Modulation worker started")
	defer slog.Info("Modulation worker stopped")
	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := queue.Pop(poll)
		if errors.Is(err, util.ErrQueueClosed) {
			return
		}
		if err != nil {
			continue
		}
		for {
			next, ok := queue.TryPop()
			if !ok {
				break
			}
			frame = next
		}
		out.Send(analyzer.Analyze(frame))
	}
}
