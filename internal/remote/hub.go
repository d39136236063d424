package remote

import (
	"context"
	"sync"
)

// ReadFunc returns the exported value at path.
type ReadFunc func(path string) (any, error)

// Hub fans store changes out to listeners. Every listener runs on its own
// goroutine with a single-slot mailbox that always holds the latest value,
// so a slow listener never blocks writers and only sees the newest state.
//
// Callers hold their store lock around Add and Publish so that snapshots are
// taken in commit order.
type Hub struct {
	mu        sync.Mutex
	listeners map[*listener]struct{}
	closed    bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{listeners: make(map[*listener]struct{})}
}

type listener struct {
	path     string
	onChange ChangeFunc
	onError  ErrorFunc

	mu      sync.Mutex
	pending *Snapshot
	err     error

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// Add registers a listener on path and queues initial as its first value.
func (h *Hub) Add(ctx context.Context, path string, initial any, onChange ChangeFunc, onError ErrorFunc) Unsubscribe {
	l := &listener{
		path:     path,
		onChange: onChange,
		onError:  onError,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return func() {}
	}
	h.listeners[l] = struct{}{}
	h.mu.Unlock()

	l.offer(Snapshot{Path: path, Value: initial})
	go l.run(func() { h.drop(l) })

	stopWatch := context.AfterFunc(ctx, func() { h.drop(l) })
	return func() {
		stopWatch()
		h.drop(l)
	}
}

// Publish re-reads the value of every listener whose path is related to
// changed and queues it for delivery. A read error ends that listener.
func (h *Hub) Publish(changed string, read ReadFunc) {
	for _, l := range h.snapshot() {
		if !Related(l.path, changed) {
			continue
		}
		v, err := read(l.path)
		if err != nil {
			l.fail(err)
			continue
		}
		l.offer(Snapshot{Path: l.path, Value: v})
	}
}

// Len returns the number of live listeners.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// Close stops every listener. Later Adds are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	ls := h.listeners
	h.listeners = make(map[*listener]struct{})
	h.mu.Unlock()
	for l := range ls {
		l.stop()
	}
}

func (h *Hub) snapshot() []*listener {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*listener, 0, len(h.listeners))
	for l := range h.listeners {
		out = append(out, l)
	}
	return out
}

func (h *Hub) drop(l *listener) {
	h.mu.Lock()
	delete(h.listeners, l)
	h.mu.Unlock()
	l.stop()
}

func (l *listener) offer(s Snapshot) {
	l.mu.Lock()
	l.pending = &s
	l.mu.Unlock()
	l.signal()
}

func (l *listener) fail(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
	l.signal()
}

func (l *listener) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *listener) stop() {
	l.once.Do(func() { close(l.done) })
}

func (l *listener) stopped() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *listener) run(drop func()) {
	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
		}

		l.mu.Lock()
		snap, err := l.pending, l.err
		l.pending, l.err = nil, nil
		l.mu.Unlock()

		if snap != nil && !l.stopped() {
			l.onChange(*snap)
		}
		if err != nil {
			drop()
			if l.onError != nil {
				l.onError(err)
			}
			return
		}
	}
}
