package realtime

import "sync"

// outbox is the bounded delivery queue behind a hub connection. Send never
// blocks; a full queue is reported as a send failure so the registry can drop
// the slow consumer.
type outbox struct {
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newOutbox(size int) outbox {
	return outbox{
		send: make(chan []byte, size),
		done: make(chan struct{}),
	}
}

func (o *outbox) Send(frame []byte) error {
	select {
	case <-o.done:
		return ErrConnClosed
	default:
	}
	select {
	case o.send <- frame:
		return nil
	case <-o.done:
		return ErrConnClosed
	default:
		return ErrSendQueueFull
	}
}

func (o *outbox) Close() {
	o.closeOnce.Do(func() {
		close(o.done)
	})
}
