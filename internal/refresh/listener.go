package refresh

import (
	"monerosync/internal/metrics"
	"monerosync/internal/models"
	"monerosync/internal/monero"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// Listener receives ledger updates of a session. Calls for one listener are
// sequential and in the order the events were produced.
type Listener interface {
	// OnPartial carries one chunk of the full transaction history. More
	// chunks follow.
	OnPartial(chunk []models.TxRecord)

	// OnFinalized carries the last chunk of the history along with the
	// complete sub-address list.
	OnFinalized(chunk []models.TxRecord, subAddresses []string, t monero.BlockchainTime)

	// OnRefreshed reports a new chain tip without balance changes.
	OnRefreshed(t monero.BlockchainTime)

	OnSubAddressListUpdated(subAddresses []string)
}

const listenerQueueSize = 16

type event func(Listener)

// listenerQueue delivers events to one listener from a dedicated goroutine
// so a slow listener never blocks the session.
type listenerQueue struct {
	listener Listener
	events   *fn.ConcurrentQueue[event]
	quit     chan struct{}
	done     chan struct{}
}

func newListenerQueue(l Listener) *listenerQueue {
	q := &listenerQueue{
		listener: l,
		events:   fn.NewConcurrentQueue[event](listenerQueueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	q.events.Start()
	go q.drain()
	return q
}

func (q *listenerQueue) drain() {
	defer close(q.done)
	for {
		select {
		case ev, ok := <-q.events.ChanOut():
			if !ok {
				return
			}
			ev(q.listener)

		case <-q.quit:
			return
		}
	}
}

func (q *listenerQueue) push(name string, ev event) {
	select {
	case q.events.ChanIn() <- ev:
		metrics.ListenerEvents.WithLabelValues(name).Inc()
	case <-q.quit:
	}
}

// stop discards undelivered events. It does not wait for an event being
// delivered, so a listener may remove itself from a callback.
func (q *listenerQueue) stop() {
	close(q.quit)
	q.events.Stop()
}

// pushHistory splits records into chunks of batchSize. All chunks but the
// last are partial events; the last one is finalized. An empty history is
// a finalized event with an empty chunk.
func (q *listenerQueue) pushHistory(records []models.TxRecord, subAddresses []string,
	t monero.BlockchainTime, batchSize int) {

	if len(records) == 0 {
		q.push("finalized", func(l Listener) {
			l.OnFinalized([]models.TxRecord{}, subAddresses, t)
		})
		return
	}

	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		chunk := records[start:end:end]

		if end < len(records) {
			q.push("partial", func(l Listener) {
				l.OnPartial(chunk)
			})
			continue
		}
		q.push("finalized", func(l Listener) {
			l.OnFinalized(chunk, subAddresses, t)
		})
	}
}
