package shadowrpc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shadow-hq/shadow-geth/internal/shadowlog"
)

// AddressParam decodes the flexible `address` RPC parameter shape shared by
// shadow_getLogs and shadow_subscribe: a single address string, an array of
// address strings, or a raw 20-byte value.
type AddressParam struct {
	addresses []common.Address
}

// UnmarshalJSON implements json.Unmarshaler, trying each accepted shape in
// turn: array of strings, then raw bytes, then a single string.
func (p *AddressParam) UnmarshalJSON(data []byte) error {
	var asArray []string
	if err := json.Unmarshal(data, &asArray); err == nil {
		p.addresses = make([]common.Address, len(asArray))
		for i, s := range asArray {
			if !common.IsHexAddress(s) {
				return fmt.Errorf("shadowrpc: invalid address %q", s)
			}
			p.addresses[i] = common.HexToAddress(s)
		}
		return nil
	}

	var asBytes [20]byte
	if err := json.Unmarshal(data, &asBytes); err == nil {
		p.addresses = []common.Address{common.BytesToAddress(asBytes[:])}
		return nil
	}

	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		if !common.IsHexAddress(asString) {
			return fmt.Errorf("shadowrpc: invalid address %q", asString)
		}
		p.addresses = []common.Address{common.HexToAddress(asString)}
		return nil
	}

	return fmt.Errorf("shadowrpc: address must be a string, array of strings, or 20 bytes")
}

// Addresses returns the decoded addresses, or nil if the parameter was
// omitted.
func (p *AddressParam) Addresses() []common.Address {
	if p == nil {
		return nil
	}
	return p.addresses
}

// GetLogsParams are the unvalidated parameters of a shadow_getLogs call.
type GetLogsParams struct {
	Address   *AddressParam `json:"address,omitempty"`
	BlockHash *string       `json:"blockHash,omitempty"`
	FromBlock *string       `json:"fromBlock,omitempty"`
	ToBlock   *string       `json:"toBlock,omitempty"`
	Topics    []string      `json:"topics,omitempty"`
}

// SubscribeParams are the unvalidated parameters of a shadow_subscribe call.
type SubscribeParams struct {
	Address *AddressParam `json:"address,omitempty"`
	Topics  []string      `json:"topics,omitempty"`
}

// RpcLog is the shadow_getLogs / shadow_subscribe wire representation of a
// shadow log, mirroring eth_getLogs's RpcLog shape field-for-field except
// that every integer here is carried as a string or plain hex rather than
// a quantity-style 0x-prefixed hex integer, matching the original source's
// own (non-standard) wire format.
type RpcLog struct {
	Address          string     `json:"address"`
	BlockHash        string     `json:"blockHash"`
	BlockNumber      string     `json:"blockNumber"`
	Data             *string    `json:"data"`
	LogIndex         string     `json:"logIndex"`
	Removed          bool       `json:"removed"`
	Topics           [4]*string `json:"topics"`
	TransactionHash  string     `json:"transactionHash"`
	TransactionIndex string     `json:"transactionIndex"`
}

// NewRpcLog converts a stored shadow log into its wire representation.
func NewRpcLog(l shadowlog.Log) RpcLog {
	var topics [4]*string
	for i := 0; i < 4; i++ {
		if t := l.Topic(i); t != nil {
			s := shadowlog.LowerHex(t.Bytes())
			topics[i] = &s
		}
	}

	var data *string
	if l.Data != nil {
		s := shadowlog.LowerHex(l.Data)
		data = &s
	}

	var blockNumber [8]byte
	binary.BigEndian.PutUint64(blockNumber[:], l.BlockNumber)

	return RpcLog{
		Address:          shadowlog.LowerHex(l.Address.Bytes()),
		BlockHash:        shadowlog.LowerHex(l.BlockHash.Bytes()),
		BlockNumber:      fmt.Sprintf("%x", blockNumber[:]),
		Data:             data,
		LogIndex:         strconv.FormatUint(l.BlockLogIndex, 10),
		Removed:          l.Removed,
		Topics:           topics,
		TransactionHash:  shadowlog.LowerHex(l.TransactionHash.Bytes()),
		TransactionIndex: strconv.FormatUint(l.TransactionIndex, 10),
	}
}
