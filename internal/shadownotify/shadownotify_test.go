package shadownotify

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/consensus"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/require"

	"github.com/shadow-hq/shadow-geth/internal/shadowcfg"
	"github.com/shadow-hq/shadow-geth/internal/shadowexec"
	"github.com/shadow-hq/shadow-geth/internal/shadowlog"
	"github.com/shadow-hq/shadow-geth/internal/shadowstore"
)

type fakeChainContext struct{}

func (fakeChainContext) Engine() consensus.Engine                   { return nil }
func (fakeChainContext) GetHeader(common.Hash, uint64) *types.Header { return nil }

type fakeChain struct {
	db        state.Database
	headers   map[common.Hash]*types.Header
	chainFeed event.Feed
	sideFeed  event.Feed
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		db:      state.NewDatabase(rawdb.NewMemoryDatabase()),
		headers: make(map[common.Hash]*types.Header),
	}
}

func (f *fakeChain) SubscribeChainEvent(ch chan<- core.ChainEvent) event.Subscription {
	return f.chainFeed.Subscribe(ch)
}

func (f *fakeChain) SubscribeChainSideEvent(ch chan<- core.ChainSideEvent) event.Subscription {
	return f.sideFeed.Subscribe(ch)
}

func (f *fakeChain) GetHeader(hash common.Hash, number uint64) *types.Header {
	return f.headers[hash]
}

func (f *fakeChain) StateAt(root common.Hash) (*state.StateDB, error) {
	return state.New(root, f.db, nil)
}

func newEmptyBlock(t *testing.T, chain *fakeChain) *types.Block {
	t.Helper()

	parent := &types.Header{Number: big.NewInt(0), Root: common.Hash{}}
	chain.headers[parent.Hash()] = parent

	header := &types.Header{
		Number:     big.NewInt(1),
		ParentHash: parent.Hash(),
		Time:       1700000000,
		GasLimit:   8_000_000,
		BaseFee:    big.NewInt(1_000_000_000),
		Difficulty: big.NewInt(0),
	}
	return types.NewBlockWithHeader(header).WithBody(types.Body{})
}

func newTestHandler(t *testing.T, chain *fakeChain) (*Handler, *shadowstore.Store) {
	t.Helper()

	shadowAddr := common.HexToAddress("0x0fbc0a9be1e87391ed2c7d2bb275bec02f53241f")
	shadowSet, err := shadowcfg.Parse([]byte(`{"` + shadowAddr.Hex() + `": "0x60006000a0"}`))
	require.NoError(t, err)

	store, err := shadowstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	exec := shadowexec.New(params.TestChainConfig, fakeChainContext{})
	return New(chain, shadowSet, exec, store), store
}

func TestHandleCommitPersistsAndBroadcasts(t *testing.T) {
	chain := newFakeChain()
	block := newEmptyBlock(t, chain)
	handler, store := newTestHandler(t, chain)

	hashes, cancel := handler.Broadcaster().Subscribe(1)
	defer cancel()

	handler.handleCommit(block)

	logs, err := store.Query("")
	require.NoError(t, err)
	require.Empty(t, logs)

	select {
	case got := <-hashes:
		require.Equal(t, block.Hash(), got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for block hash broadcast")
	}

	select {
	case height := <-handler.FinishedHeight():
		require.Equal(t, uint64(1), height)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for finished-height notification")
	}
}

func TestHandleRevertMarksLogsRemoved(t *testing.T) {
	chain := newFakeChain()
	block := newEmptyBlock(t, chain)
	handler, store := newTestHandler(t, chain)

	require.NoError(t, store.BulkInsert([]shadowlog.Log{{
		Address:     common.HexToAddress("0x0fbc0a9be1e87391ed2c7d2bb275bec02f53241f"),
		BlockNumber: block.NumberU64(),
		BlockHash:   block.Hash(),
	}}))

	hashes, cancel := handler.Broadcaster().Subscribe(1)
	defer cancel()

	handler.handleRevert(block)

	logs, err := store.Query("")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.True(t, logs[0].Removed)

	select {
	case got := <-hashes:
		require.Equal(t, block.Hash(), got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for revert block hash broadcast")
	}
}
