package exec

import (
	"sync"
	"time"
)

// subscriberBuffer bounds each subscriber's channel. When a slow consumer
// falls behind, the oldest progress message is dropped to make room;
// terminal messages are never dropped.
const subscriberBuffer = 64

type (
	// ProgressStats is the running tally carried by progress messages.
	ProgressStats struct {
		Ran     int `json:"ran"`
		Passed  int `json:"passed"`
		Failed  int `json:"failed"`
		Skipped int `json:"skipped"`
	}

	// Progress is one message on an execution's stream.
	Progress struct {
		Stage         Stage         `json:"stage"`
		Percent       float64       `json:"percent"`
		CurrentEntity string        `json:"current_entity,omitempty"`
		Stats         ProgressStats `json:"stats"`
		TS            time.Time     `json:"ts"`
	}

	// broadcaster fans one execution's progress out to its subscribers.
	broadcaster struct {
		mu     sync.Mutex
		subs   map[chan Progress]struct{}
		closed bool
		last   Progress
	}
)

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: map[chan Progress]struct{}{}}
}

// subscribe returns a receive channel and its cancel function. Subscribing
// to a finished execution delivers the terminal message immediately.
func (b *broadcaster) subscribe() (<-chan Progress, func()) {
	ch := make(chan Progress, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch <- b.last
		close(ch)

		return ch, func() {}
	}

	b.subs[ch] = struct{}{}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}

	return ch, cancel
}

// publish delivers msg to every subscriber, dropping each subscriber's
// oldest buffered message when its channel is full.
func (b *broadcaster) publish(msg Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.last = msg

	for ch := range b.subs {
		b.send(ch, msg)
	}
}

// finish delivers the terminal message and closes every subscriber channel.
func (b *broadcaster) finish(msg Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true
	b.last = msg

	for ch := range b.subs {
		b.send(ch, msg)
		close(ch)
		delete(b.subs, ch)
	}
}

func (b *broadcaster) send(ch chan Progress, msg Progress) {
	for {
		select {
		case ch <- msg:
			return
		default:
			// Full buffer: evict the oldest message and retry.
			select {
			case <-ch:
			default:
			}
		}
	}
}
