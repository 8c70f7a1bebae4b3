package shadownotify

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// BlockHashBroadcaster fans a stream of indexed block hashes out to any
// number of subscribers. Unlike event.Feed, a send to a lagging subscriber
// never blocks the broadcaster: a full subscriber channel simply drops the
// notification, so one slow shadow_subscribe client can never stall
// indexing for the rest of the node.
type BlockHashBroadcaster struct {
	mu   sync.Mutex
	subs map[int]chan common.Hash
	next int
}

// NewBlockHashBroadcaster returns an empty broadcaster.
func NewBlockHashBroadcaster() *BlockHashBroadcaster {
	return &BlockHashBroadcaster{subs: make(map[int]chan common.Hash)}
}

// Subscribe registers a new subscriber with the given channel buffer size
// and returns its receive channel along with a function to cancel it. The
// channel is closed once cancel is called.
func (b *BlockHashBroadcaster) Subscribe(buffer int) (<-chan common.Hash, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan common.Hash, buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Broadcast delivers hash to every current subscriber, dropping it for any
// subscriber whose channel is currently full.
func (b *BlockHashBroadcaster) Broadcast(hash common.Hash) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- hash:
		default:
			log.Warn("shadownotify: dropping block hash notification for lagging subscriber",
				"subscriber", id, "hash", hash)
		}
	}
}

// SubscriberCount reports the number of currently active subscribers.
func (b *BlockHashBroadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
