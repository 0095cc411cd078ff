package sync

import "sync"

// dispatcher serializes all engine state changes and transport writes onto
// a single goroutine.
//
// The clipboard monitor fires change notifications from its own goroutine;
// marshaling that work through the dispatcher keeps the debounce/echo state
// and the websocket writes in one execution context instead of sharing a
// lock around the socket.
type dispatcher struct {
	q    chan func()
	quit chan struct{}
	once sync.Once
}

func newDispatcher(queueSize int) *dispatcher {
	d := &dispatcher{
		q:    make(chan func(), queueSize),
		quit: make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *dispatcher) loop() {
	for {
		select {
		case fn := <-d.q:
			if fn != nil {
				fn()
			}
		case <-d.quit:
			return
		}
	}
}

// do enqueues fn for execution on the dispatch goroutine. It reports false
// once the dispatcher has stopped.
func (d *dispatcher) do(fn func()) bool {
	select {
	case d.q <- fn:
		return true
	case <-d.quit:
		return false
	}
}

// call runs fn on the dispatch goroutine and waits for it to complete.
func (d *dispatcher) call(fn func()) bool {
	done := make(chan struct{})
	if !d.do(func() {
		fn()
		close(done)
	}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-d.quit:
		return false
	}
}

func (d *dispatcher) stop() {
	d.once.Do(func() {
		close(d.quit)
	})
}
