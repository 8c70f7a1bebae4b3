// Package shadowexec replays a canonical block against shadow-overridden
// state and synthesizes the shadow logs the shadowed addresses would have
// emitted.
package shadowexec

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/params"

	"github.com/shadow-hq/shadow-geth/internal/shadowlog"
	"github.com/shadow-hq/shadow-geth/internal/shadowstate"
)

var blockExecutionTimer = metrics.NewRegisteredTimer("shadow/exec/block", nil)

// Executor re-executes canonical blocks against a shadow-overridden state
// snapshot, one block at a time.
type Executor struct {
	chainConfig *params.ChainConfig
	chain       core.ChainContext
}

// New returns an Executor for the given chain configuration. chain supplies
// the historical header lookups the EVM's BLOCKHASH opcode needs and is
// typically the host node's *core.BlockChain.
func New(chainConfig *params.ChainConfig, chain core.ChainContext) *Executor {
	return &Executor{chainConfig: chainConfig, chain: chain}
}

// ExecuteBlock replays every transaction in block against statedb with a
// zero base fee and pre-verified execution (no nonce or sender-is-EOA
// checks), then returns the shadow logs emitted by shadowed addresses.
// block_log_index and transaction_log_index are assigned while enumerating
// every emitted log, shadowed or not, so a returned log's index reflects its
// position among all logs in the block/transaction - shadow-address
// filtering happens only after indices are assigned.
//
// block's own hash is captured before anything in this call can mutate the
// state or context derived from its header, so every returned log carries
// the true canonical block hash regardless of the zeroed base fee used to
// drive execution.
func (e *Executor) ExecuteBlock(block *types.Block, statedb *shadowstate.StateDB) ([]shadowlog.Log, error) {
	defer func(start time.Time) { blockExecutionTimer.UpdateSince(start) }(time.Now())

	canonicalHash := block.Hash()
	header := block.Header()

	// The beneficiary is taken from the header directly, so chain is only
	// consulted for header lookups and never for its consensus engine.
	blockCtx := core.NewEVMBlockContext(header, e.chain, &header.Coinbase)
	blockCtx.BaseFee = new(big.Int)

	vmConfig := vm.Config{NoBaseFee: true}
	signer := types.MakeSigner(e.chainConfig, block.Number(), block.Time())

	evm := vm.NewEVM(blockCtx, vm.TxContext{}, statedb, e.chainConfig, vmConfig)
	gp := new(core.GasPool).AddGas(header.GasLimit)

	var logs []shadowlog.Log
	var blockLogIndex uint64

	for txIndex, tx := range block.Transactions() {
		sender, err := types.Sender(signer, tx)
		if err != nil {
			log.Debug("shadowexec: skipping transaction, could not recover sender",
				"block", block.NumberU64(), "tx", tx.Hash(), "err", err)
			continue
		}

		msg, err := core.TransactionToMessage(tx, signer, new(big.Int))
		if err != nil {
			log.Debug("shadowexec: skipping transaction, could not build message",
				"block", block.NumberU64(), "tx", tx.Hash(), "err", err)
			continue
		}
		msg.From = sender
		msg.SkipAccountChecks = true

		statedb.SetTxContext(tx.Hash(), txIndex)
		evm.Reset(core.NewEVMTxContext(msg), statedb)

		if _, err := core.ApplyMessage(evm, msg, gp); err != nil {
			if isValidationError(err) {
				log.Debug("shadowexec: skipping transaction, failed pre-verified validation",
					"block", block.NumberU64(), "tx", tx.Hash(), "err", err)
			} else {
				log.Error("shadowexec: skipping transaction, execution error",
					"block", block.NumberU64(), "tx", tx.Hash(), "err", err)
			}
			continue
		}

		txLogs := statedb.GetLogs(tx.Hash(), header.Number.Uint64(), canonicalHash)
		for txLogIndex, evmLog := range txLogs {
			shadowed := statedb.IsShadowed(evmLog.Address)
			currentBlockLogIndex := blockLogIndex
			blockLogIndex++

			if !shadowed {
				continue
			}

			logs = append(logs, shadowlog.Log{
				Address:             evmLog.Address,
				Topics:               evmLog.Topics,
				Data:                evmLog.Data,
				BlockNumber:          header.Number.Uint64(),
				BlockHash:            canonicalHash,
				BlockTimestamp:       header.Time,
				TransactionIndex:     uint64(txIndex),
				TransactionHash:      tx.Hash(),
				BlockLogIndex:        currentBlockLogIndex,
				TransactionLogIndex:  uint64(txLogIndex),
			})
		}
	}

	return logs, nil
}

// isValidationError reports whether err reflects a transaction that should
// never have been pre-verified as executable - the pre-verified path this
// executor takes skips nonce and sender-is-EOA checks, so these should not
// normally occur, but are handled the way the original source treats a
// transaction validation failure: a per-transaction skip logged at debug
// rather than error severity.
func isValidationError(err error) bool {
	for _, known := range []error{
		core.ErrNonceTooLow,
		core.ErrNonceTooHigh,
		core.ErrNonceMax,
		core.ErrInsufficientFunds,
		core.ErrInsufficientFundsForTransfer,
		core.ErrIntrinsicGas,
		core.ErrGasLimitReached,
		core.ErrSenderNoEOA,
		core.ErrTipAboveFeeCap,
		core.ErrFeeCapTooLow,
	} {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}
