package config

import "sync/atomic"

// Holder shares the effective configuration between the watch daemon's
// goroutines. Reload swaps in a new *Resolved; readers keep whichever
// snapshot they loaded for the rest of their operation.
type Holder struct {
	cfg  atomic.Pointer[Resolved]
	path string
}

// NewHolder returns a Holder serving cfg, loaded from path.
func NewHolder(cfg *Resolved, path string) *Holder {
	h := &Holder{path: path}
	h.cfg.Store(cfg)

	return h
}

// Config returns the current snapshot.
func (h *Holder) Config() *Resolved {
	return h.cfg.Load()
}

// Path returns the config file being watched.
func (h *Holder) Path() string {
	return h.path
}

// Swap installs next and returns the snapshot it replaced.
func (h *Holder) Swap(next *Resolved) (prev *Resolved) {
	return h.cfg.Swap(next)
}
