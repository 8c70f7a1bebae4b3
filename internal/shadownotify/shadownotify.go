// Package shadownotify consumes chain commit/revert notifications and
// orchestrates shadow re-execution and persistence for each one.
package shadownotify

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/shadow-hq/shadow-geth/internal/shadowcfg"
	"github.com/shadow-hq/shadow-geth/internal/shadowexec"
	"github.com/shadow-hq/shadow-geth/internal/shadowstate"
	"github.com/shadow-hq/shadow-geth/internal/shadowstore"
)

var processedBlocksCounter = metrics.NewRegisteredCounter("shadow/notify/blocks", nil)

// ChainReader is the subset of core.BlockChain this package depends on: the
// two event feeds that drive it, plus the historical state and header
// lookups needed to re-execute a committed block's pre-state.
type ChainReader interface {
	SubscribeChainEvent(ch chan<- core.ChainEvent) event.Subscription
	SubscribeChainSideEvent(ch chan<- core.ChainSideEvent) event.Subscription
	GetHeader(hash common.Hash, number uint64) *types.Header
	StateAt(root common.Hash) (*state.StateDB, error)
}

// Handler consumes a ChainReader's commit and revert notifications,
// re-executing every newly committed block against shadow-overridden state
// and persisting the resulting logs, and marking reverted blocks' logs
// removed.
type Handler struct {
	chain       ChainReader
	shadow      *shadowcfg.Set
	exec        *shadowexec.Executor
	store       *shadowstore.Store
	broadcaster *BlockHashBroadcaster

	finished chan uint64
	quit     chan struct{}
}

// New returns a Handler. exec must already be configured for the chain
// ChainReader serves.
func New(chain ChainReader, shadow *shadowcfg.Set, exec *shadowexec.Executor, store *shadowstore.Store) *Handler {
	return &Handler{
		chain:       chain,
		shadow:      shadow,
		exec:        exec,
		store:       store,
		broadcaster: NewBlockHashBroadcaster(),
		finished:    make(chan uint64, 64),
		quit:        make(chan struct{}),
	}
}

// Broadcaster exposes the handler's indexed-block-hash broadcaster for
// shadowrpc's live subscription path.
func (h *Handler) Broadcaster() *BlockHashBroadcaster {
	return h.broadcaster
}

// FinishedHeight reports the number of the most recently fully-indexed
// block. It is the closest analog this module has to the original source's
// ExExEvent::FinishedHeight acknowledgment, there used to let the host
// prune state no longer needed by any extension - go-ethereum's BlockChain
// has no equivalent pruning hook for external consumers, so here it is
// exposed for metrics and operator visibility only. Sends are
// non-blocking: once the 64-entry buffer is full, each newly finished
// height is dropped until the reader drains it, so a slow reader misses the
// most recent heights but never stalls indexing.
func (h *Handler) FinishedHeight() <-chan uint64 {
	return h.finished
}

// Stop terminates Run.
func (h *Handler) Stop() {
	close(h.quit)
}

// Run processes chain notifications until Stop is called or the
// underlying subscriptions fail. It blocks the calling goroutine.
func (h *Handler) Run() {
	chainCh := make(chan core.ChainEvent, 16)
	chainSub := h.chain.SubscribeChainEvent(chainCh)
	defer chainSub.Unsubscribe()

	sideCh := make(chan core.ChainSideEvent, 16)
	sideSub := h.chain.SubscribeChainSideEvent(sideCh)
	defer sideSub.Unsubscribe()

	for {
		select {
		case ev := <-chainCh:
			h.handleCommit(ev.Block)
		case ev := <-sideCh:
			h.handleRevert(ev.Block)
		case err := <-chainSub.Err():
			log.Error("shadownotify: chain event subscription failed", "err", err)
			return
		case err := <-sideSub.Err():
			log.Error("shadownotify: chain side event subscription failed", "err", err)
			return
		case <-h.quit:
			return
		}
	}
}

// handleCommit re-executes a newly canonical block against its pre-state
// and persists the shadow logs it produces.
func (h *Handler) handleCommit(block *types.Block) {
	parent := h.chain.GetHeader(block.ParentHash(), block.NumberU64()-1)
	if parent == nil {
		log.Error("shadownotify: missing parent header, cannot re-execute block",
			"block", block.NumberU64(), "hash", block.Hash())
		return
	}

	inner, err := h.chain.StateAt(parent.Root)
	if err != nil {
		log.Error("shadownotify: failed to open historical state",
			"block", block.NumberU64(), "root", parent.Root, "err", err)
		return
	}

	sdb := shadowstate.New(inner, h.shadow)
	logs, err := h.exec.ExecuteBlock(block, sdb)
	if err != nil {
		log.Error("shadownotify: block re-execution failed",
			"block", block.NumberU64(), "hash", block.Hash(), "err", err)
		return
	}

	if err := h.store.BulkInsert(logs); err != nil {
		log.Error("shadownotify: failed to persist shadow logs",
			"block", block.NumberU64(), "hash", block.Hash(), "err", err)
		return
	}

	processedBlocksCounter.Inc(1)
	h.broadcaster.Broadcast(block.Hash())

	select {
	case h.finished <- block.NumberU64():
	default:
		log.Debug("shadownotify: dropping finished-height notification, no reader keeping up",
			"block", block.NumberU64())
	}
}

// handleRevert marks every shadow log produced from block as removed,
// without deleting it - satisfying the same removed-not-deleted semantics
// shadow_getLogs and shadow_subscribe rely on to surface reorgs - and
// broadcasts the invalidated block hash so a live shadow_subscribe client
// observes the reorg as soon as it happens, the same as for a freshly
// indexed block.
func (h *Handler) handleRevert(block *types.Block) {
	if err := h.store.MarkRemoved(block.Hash()); err != nil {
		log.Error("shadownotify: failed to mark shadow logs removed",
			"block", block.NumberU64(), "hash", block.Hash(), "err", err)
		return
	}
	h.broadcaster.Broadcast(block.Hash())
}
