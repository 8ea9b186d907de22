package main

import (
	"io"
	stdsync "sync"

	"github.com/cheggaaa/pb/v3"

	"github.com/propscout/propsync/internal/sync"
)

// pushProgressTemplate shows queue items pushed out of the queue length.
const pushProgressTemplate = `pushing {{counters . }} {{bar . }} {{percent . }}`

// pushProgress drives a terminal progress bar from push progress events.
// The bar is created on the first event so an empty queue draws nothing.
type pushProgress struct {
	out io.Writer

	mu  stdsync.Mutex
	bar *pb.ProgressBar
}

func newPushProgress(out io.Writer) *pushProgress {
	return &pushProgress{out: out}
}

// Handle is a sync.Handler.
func (p *pushProgress) Handle(ev sync.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Type {
	case sync.EventProgress:
		if ev.Phase != sync.PhasePush || ev.Total <= 0 {
			return
		}

		if p.bar == nil {
			p.bar = pb.New(ev.Total)
			p.bar.SetTemplateString(pushProgressTemplate)
			p.bar.SetWriter(p.out)
			p.bar.Start()
		}

		p.bar.SetTotal(int64(ev.Total))
		p.bar.SetCurrent(int64(ev.Processed))
	case sync.EventCompleted, sync.EventFailed:
		p.finish()
	}
}

// finish stops the bar if one was drawn. Safe to call more than once.
func (p *pushProgress) finish() {
	if p.bar != nil {
		p.bar.Finish()
		p.bar = nil
	}
}
