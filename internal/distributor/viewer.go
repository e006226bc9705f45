package distributor

import "sync"

// ViewerSubscription is a bounded, drop-oldest queue of encoded (JPEG)
// frames for one connected viewer. Created by Distributor.SubscribeViewer,
// destroyed by calling Close (normally on viewer disconnect). Multiple
// instances may coexist independently; a slow or disconnected viewer never
// affects any other subscriber.
type ViewerSubscription struct {
	id string
	ch chan []byte

	mu     sync.Mutex
	closed bool

	onClose func(id string)
}

func newViewerSubscription(id string, capacity int, onClose func(string)) *ViewerSubscription {
	return &ViewerSubscription{
		id:      id,
		ch:      make(chan []byte, capacity),
		onClose: onClose,
	}
}

// ID returns the subscription's unique identity (for logging).
func (v *ViewerSubscription) ID() string { return v.id }

// Frames returns the channel viewers should range over to receive frames.
// The channel is closed when Close is called.
func (v *ViewerSubscription) Frames() <-chan []byte { return v.ch }

// TrySendMessage attempts a non-blocking enqueue. If the queue is full, the
// oldest queued frame is dropped to make room (drop-oldest semantics), and
// dropped reports that a drop occurred. sent is false only if the
// subscription is already closed.
func (v *ViewerSubscription) TrySendMessage(payload []byte) (sent, dropped bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return false, false
	}
	for {
		select {
		case v.ch <- payload:
			return true, dropped
		default:
		}
		select {
		case <-v.ch:
			dropped = true
		default:
			// channel drained concurrently by the consumer; retry enqueue
		}
	}
}

// Close terminates the subscription and unregisters it from its
// Distributor. Safe to call more than once.
func (v *ViewerSubscription) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()
	close(v.ch)
	if v.onClose != nil {
		v.onClose(v.id)
	}
}
