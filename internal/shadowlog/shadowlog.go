// Package shadowlog defines the shadow log data model shared by the block
// re-executor, the log store, and the RPC surface.
package shadowlog

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Log is a single synthetic log entry produced by re-executing a canonical
// block against shadow bytecode. It mirrors the original EVM log plus the
// positional and removal bookkeeping the store and RPC surface need.
type Log struct {
	Address            common.Address
	Topics             []common.Hash // 0-4 entries
	Data               []byte
	BlockNumber        uint64
	BlockHash          common.Hash // hash of the original, canonical header
	BlockTimestamp     uint64
	TransactionIndex   uint64
	TransactionHash    common.Hash
	BlockLogIndex      uint64 // zero-based, monotonic across the block
	TransactionLogIndex uint64 // zero-based, monotonic within the transaction
	Removed            bool
}

// Topic returns the i'th topic, or nil if the log has fewer than i+1
// topics. i must be in [0,3].
func (l *Log) Topic(i int) *common.Hash {
	if i < 0 || i >= len(l.Topics) {
		return nil
	}
	return &l.Topics[i]
}

// LowerHex renders b as a lowercase 0x-prefixed string, matching the
// original source's ToLowerHex convention for all wire and storage
// representations of hashes, addresses and byte strings.
func LowerHex(b []byte) string {
	return strings.ToLower("0x" + common.Bytes2Hex(b))
}
