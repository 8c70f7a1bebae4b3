// Package shadowstate implements the override state adapter: a decorator
// over a read-only historical StateDB that transparently substitutes shadow
// bytecode for the original code of a configured set of addresses.
package shadowstate

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/shadow-hq/shadow-geth/internal/shadowcfg"
)

// ErrBlockNumberOverflow is returned when a requested block number cannot be
// represented as a uint64, mirroring spec §4.B's block_hash_ref contract.
var ErrBlockNumberOverflow = errors.New("shadowstate: block number overflow")

// BlockHashFunc resolves a canonical block hash by number from the
// underlying historical snapshot. It returns the zero hash if the number is
// unknown, matching core.BlockChain.GetCanonicalHash's own semantics.
type BlockHashFunc func(number uint64) common.Hash

// Source is the concrete state snapshot this adapter decorates. It is
// satisfied by *core/state.StateDB: the full vm.StateDB surface plus the
// two bookkeeping methods (SetTxContext, GetLogs) the re-executor needs to
// pull per-transaction logs back out after applying a message.
type Source interface {
	vm.StateDB
	SetTxContext(txHash common.Hash, txIndex int)
	GetLogs(txHash common.Hash, blockNumber uint64, blockHash common.Hash) []*types.Log
}

// StateDB wraps a read-only Source - scoped to the pre-state of the first
// block of a notification batch - and overrides code/code-hash reads for
// addresses present in a shadowcfg.Set. It is a stateless decorator: every
// other method is delegated to the embedded Source unchanged, and all
// mutations accumulate there exactly as they would without shadowing, so
// state changes never leak anywhere the embedded Source itself wouldn't
// write them.
type StateDB struct {
	Source
	shadow *shadowcfg.Set
}

// New returns a StateDB decorating inner with shadow's overrides.
func New(inner Source, shadow *shadowcfg.Set) *StateDB {
	return &StateDB{Source: inner, shadow: shadow}
}

// GetCodeHash returns the shadow code hash for addr if addr is shadowed,
// else the hash the underlying snapshot reports.
func (s *StateDB) GetCodeHash(addr common.Address) common.Hash {
	if hash, ok := s.shadow.CodeHash(addr); ok {
		return hash
	}
	return s.Source.GetCodeHash(addr)
}

// GetCode returns the shadow bytecode for addr if addr is shadowed, else the
// code the underlying snapshot reports.
func (s *StateDB) GetCode(addr common.Address) []byte {
	if code, ok := s.shadow.Code(addr); ok {
		return code
	}
	return s.Source.GetCode(addr)
}

// GetCodeSize returns len(shadow code) for a shadowed address, else the size
// the underlying snapshot reports. core/vm.StateDB has no address-agnostic
// code-by-hash lookup (unlike the DatabaseRef this adapter is modeled on);
// code is always resolved by address, so a shadowed address's code is never
// visible under its original hash once shadowed.
func (s *StateDB) GetCodeSize(addr common.Address) int {
	if code, ok := s.shadow.Code(addr); ok {
		return len(code)
	}
	return s.Source.GetCodeSize(addr)
}

// IsShadowed reports whether addr has been overridden by this adapter.
func (s *StateDB) IsShadowed(addr common.Address) bool {
	return s.shadow.IsShadowed(addr)
}

// BlockHash resolves the block hash for an arbitrary-precision block number
// using lookup as the underlying historical source. It fails with
// ErrBlockNumberOverflow if number cannot be represented as a uint64,
// satisfying spec §4.B and the property tested in §8 scenario 6. The EVM
// itself never calls this method directly - core/vm.BlockContext.GetHash
// takes a plain uint64 and the interpreter already clears BLOCKHASH to zero
// before an overflowing value would reach a GetHash closure - so this is the
// adapter-level operation the spec names. It is exercised directly by tests;
// shadowexec does not call it.
func (s *StateDB) BlockHash(number *big.Int, lookup BlockHashFunc) (common.Hash, error) {
	if !number.IsUint64() {
		return common.Hash{}, ErrBlockNumberOverflow
	}
	return lookup(number.Uint64()), nil
}
