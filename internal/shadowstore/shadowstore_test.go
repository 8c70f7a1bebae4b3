package shadowstore

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/shadow-hq/shadow-geth/internal/shadowlog"
)

// Fixture values below reuse the block hash, transaction hash, shadowed
// address and indexed topics from the original project's own seed data, so
// a reader cross-referencing the two implementations sees the same blocks.
var (
	fixtureBlockHash = common.HexToHash("0x4131d538cf705c267da7f448ec7460b177f40d28115ad290ba6a1fd734afe280")
	fixtureTxHash    = common.HexToHash("0x8bf2361656e0ea6f338ad17ac3cd616f8eea9bb17e1afa1580802e9d3231c203")
	fixtureAddress   = common.HexToAddress("0x0fbc0a9be1e87391ed2c7d2bb275bec02f53241f")
	fixtureTopic0    = common.HexToHash("0xd78ad95fa46c994b6551d0da85fc275fe613ce37657fb8d5e3d130840159d822")
	fixtureTopic1    = common.HexToHash("0x0000000000000000000000003fc91a3afd70395cd496c647d5a6cc9d4b2b7fad")
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleLog() shadowlog.Log {
	return shadowlog.Log{
		Address:             fixtureAddress,
		Topics:              []common.Hash{fixtureTopic0, fixtureTopic1, fixtureTopic1},
		Data:                []byte{0xde, 0xad, 0xbe, 0xef},
		BlockNumber:         18870000,
		BlockHash:           fixtureBlockHash,
		BlockTimestamp:      1703595263,
		TransactionIndex:    167,
		TransactionHash:     fixtureTxHash,
		BlockLogIndex:       0,
		TransactionLogIndex: 26,
	}
}

func TestBulkInsertAndQueryRoundTrip(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.BulkInsert([]shadowlog.Log{sampleLog()}))

	got, err := store.Query("")
	require.NoError(t, err)
	require.Len(t, got, 1)

	l := got[0]
	require.Equal(t, fixtureAddress, l.Address)
	require.Equal(t, fixtureBlockHash, l.BlockHash)
	require.Equal(t, fixtureTxHash, l.TransactionHash)
	require.Equal(t, uint64(18870000), l.BlockNumber)
	require.Equal(t, uint64(167), l.TransactionIndex)
	require.Equal(t, uint64(26), l.TransactionLogIndex)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, l.Data)
	require.False(t, l.Removed)
	require.Equal(t, []common.Hash{fixtureTopic0, fixtureTopic1, fixtureTopic1}, l.Topics)
}

func TestBulkInsertEmptyIsNoop(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.BulkInsert(nil))

	got, err := store.Query("")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestQueryWithWhereClauseFiltersByAddress(t *testing.T) {
	store := newTestStore(t)

	other := sampleLog()
	other.Address = common.HexToAddress("0x1111111111111111111111111111111111111111")
	other.BlockNumber = 18870001

	require.NoError(t, store.BulkInsert([]shadowlog.Log{sampleLog(), other}))

	where := "WHERE address = X'" + fixtureAddress.Hex()[2:] + "'"
	got, err := store.Query(where)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, fixtureAddress, got[0].Address)
}

func TestMarkRemovedIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.BulkInsert([]shadowlog.Log{sampleLog()}))

	require.NoError(t, store.MarkRemoved(fixtureBlockHash))
	got, err := store.Query("")
	require.NoError(t, err)
	require.True(t, got[0].Removed)

	// Calling it again for the same block must not error and must leave
	// the row removed.
	require.NoError(t, store.MarkRemoved(fixtureBlockHash))
	got, err = store.Query("")
	require.NoError(t, err)
	require.True(t, got[0].Removed)
}
