package shadowrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// rpcError implements rpc.Error so go-ethereum's JSON-RPC server encodes it
// with the original source's custom error code instead of the default -32000.
type rpcError struct {
	code    int
	message string
}

func (e *rpcError) Error() string  { return e.message }
func (e *rpcError) ErrorCode() int { return e.code }

// errConflictingBlockRange is returned when blockHash and fromBlock/toBlock
// are both present, mirroring the original source's -32001 error.
var errConflictingBlockRange = &rpcError{
	code:    -32001,
	message: "fromBlock and toBlock cannot be used if blockHash parameter is present",
}

// errTooManyTopics is returned when more than four topics are requested,
// mirroring the original source's 32002 error.
var errTooManyTopics = &rpcError{
	code:    32002,
	message: "only up to four topics are allowed",
}

// Backend supplies the header lookups needed to resolve block tags and
// hashes to concrete numbers, the same role eth/filters.Backend plays for
// eth_getLogs.
type Backend interface {
	HeaderByNumber(ctx context.Context, number rpc.BlockNumber) (*types.Header, error)
	HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error)
}

// validatedFilter is a well-formed shadow log filter, ready for SQL
// compilation.
type validatedFilter struct {
	addresses []common.Address
	topics    [4]*common.Hash

	blockHash        *common.Hash // set only for an unresolved (subscribe-path) block hash match
	fromBlock, toBlock uint64
	isRange          bool
}

// whereClause compiles the filter into the shadow_logs table's WHERE
// clause, omitting the keyword entirely when the filter matches everything.
func (f validatedFilter) whereClause() string {
	var clauses []string

	if len(f.addresses) > 0 {
		parts := make([]string, len(f.addresses))
		for i, a := range f.addresses {
			parts[i] = fmt.Sprintf("X'%x'", a.Bytes())
		}
		clauses = append(clauses, "address IN ("+strings.Join(parts, ", ")+")")
	}

	if f.isRange {
		clauses = append(clauses, fmt.Sprintf("block_number BETWEEN %d AND %d", f.fromBlock, f.toBlock))
	} else if f.blockHash != nil {
		clauses = append(clauses, fmt.Sprintf("block_hash = X'%x'", f.blockHash.Bytes()))
	}

	for i, t := range f.topics {
		if t != nil {
			clauses = append(clauses, fmt.Sprintf("topic_%d = X'%x'", i, t.Bytes()))
		}
	}

	if len(clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(clauses, " AND ")
}

func validateTopics(topics []string) ([4]*common.Hash, error) {
	var out [4]*common.Hash
	if len(topics) > 4 {
		return out, errTooManyTopics
	}
	for i, t := range topics {
		if t == "" {
			continue
		}
		if !isHexHash(t) {
			return out, fmt.Errorf("shadowrpc: invalid topic %q", t)
		}
		h := common.HexToHash(t)
		out[i] = &h
	}
	return out, nil
}

func isHexHash(s string) bool {
	return len(s) == 66 && strings.HasPrefix(s, "0x")
}

// resolveBlockNumber parses a fromBlock/toBlock-style string, which is
// either a tag ("latest", "earliest", "pending") or a 0x-prefixed hex
// number, into a concrete block number.
func resolveBlockNumber(ctx context.Context, backend Backend, raw string) (uint64, error) {
	quoted, err := json.Marshal(raw)
	if err != nil {
		return 0, err
	}

	var bn rpc.BlockNumber
	if err := bn.UnmarshalJSON(quoted); err != nil {
		return 0, fmt.Errorf("shadowrpc: invalid block number or tag %q: %w", raw, err)
	}
	if bn >= 0 {
		return uint64(bn), nil
	}

	header, err := backend.HeaderByNumber(ctx, bn)
	if err != nil {
		return 0, err
	}
	if header == nil {
		return 0, fmt.Errorf("shadowrpc: no block found for %q", raw)
	}
	return header.Number.Uint64(), nil
}

func latestBlockNumber(ctx context.Context, backend Backend) (uint64, error) {
	header, err := backend.HeaderByNumber(ctx, rpc.LatestBlockNumber)
	if err != nil {
		return 0, err
	}
	if header == nil {
		return 0, fmt.Errorf("shadowrpc: no block found for tag: latest")
	}
	return header.Number.Uint64(), nil
}

// validateBlockID reproduces the original source's exhaustive
// (blockHash, fromBlock, toBlock) match: exactly one of a concrete block
// range or a (possibly unresolved) block hash comes out, or an error if
// blockHash conflicts with a range. resolveHash controls whether a given
// blockHash is resolved to a concrete block range (the shadow_getLogs path,
// which queries a snapshot) or kept as a literal hash match (the
// shadow_subscribe path, which matches newly indexed blocks one at a time).
func validateBlockID(ctx context.Context, backend Backend, blockHash, fromBlock, toBlock *string, resolveHash bool) (validatedFilter, error) {
	switch {
	case blockHash == nil && fromBlock == nil && toBlock == nil:
		num, err := latestBlockNumber(ctx, backend)
		if err != nil {
			return validatedFilter{}, err
		}
		return validatedFilter{fromBlock: num, toBlock: num, isRange: true}, nil

	case blockHash == nil && fromBlock == nil && toBlock != nil:
		from, err := latestBlockNumber(ctx, backend)
		if err != nil {
			return validatedFilter{}, err
		}
		to, err := resolveBlockNumber(ctx, backend, *toBlock)
		if err != nil {
			return validatedFilter{}, err
		}
		return validatedFilter{fromBlock: from, toBlock: to, isRange: true}, nil

	case blockHash == nil && fromBlock != nil && toBlock == nil:
		from, err := resolveBlockNumber(ctx, backend, *fromBlock)
		if err != nil {
			return validatedFilter{}, err
		}
		to, err := latestBlockNumber(ctx, backend)
		if err != nil {
			return validatedFilter{}, err
		}
		return validatedFilter{fromBlock: from, toBlock: to, isRange: true}, nil

	case blockHash == nil && fromBlock != nil && toBlock != nil:
		from, err := resolveBlockNumber(ctx, backend, *fromBlock)
		if err != nil {
			return validatedFilter{}, err
		}
		to, err := resolveBlockNumber(ctx, backend, *toBlock)
		if err != nil {
			return validatedFilter{}, err
		}
		return validatedFilter{fromBlock: from, toBlock: to, isRange: true}, nil

	case blockHash != nil && fromBlock == nil && toBlock == nil:
		hash := common.HexToHash(*blockHash)
		if resolveHash {
			header, err := backend.HeaderByHash(ctx, hash)
			if err != nil {
				return validatedFilter{}, err
			}
			if header == nil {
				return validatedFilter{}, fmt.Errorf("shadowrpc: no block found for hash %s", hash)
			}
			num := header.Number.Uint64()
			return validatedFilter{fromBlock: num, toBlock: num, isRange: true}, nil
		}
		return validatedFilter{blockHash: &hash}, nil

	default:
		return validatedFilter{}, errConflictingBlockRange
	}
}
