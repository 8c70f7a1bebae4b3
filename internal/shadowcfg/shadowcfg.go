// Package shadowcfg loads the shadow.json configuration file and holds the
// immutable address -> bytecode map used to override contract code during
// shadow execution.
package shadowcfg

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// entry is the resolved bytecode and its content hash for a single shadowed
// address.
type entry struct {
	code []byte
	hash common.Hash
}

// Set is an immutable address -> shadow bytecode mapping. A zero Set behaves
// as an empty one - no address is shadowed.
type Set struct {
	entries map[common.Address]entry
}

// Load reads path (a JSON object mapping 0x-prefixed addresses to 0x-prefixed
// bytecode strings) and builds a Set. An error in any entry aborts
// construction - partial loads are never returned.
func Load(path string) (*Set, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("shadow config: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse builds a Set from the raw JSON bytes of a shadow.json document.
func Parse(raw []byte) (*Set, error) {
	var obj map[string]string
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("shadow config: `shadow.json` must be a JSON object of address -> bytecode: %w", err)
	}

	entries := make(map[common.Address]entry, len(obj))
	for addrStr, codeStr := range obj {
		if !common.IsHexAddress(addrStr) {
			return nil, fmt.Errorf("shadow config invalid at %s: invalid address", addrStr)
		}
		addr := common.HexToAddress(addrStr)

		code, err := hexutil.Decode(codeStr)
		if err != nil {
			return nil, fmt.Errorf("shadow config invalid at %s: invalid bytecode: %w", addr, err)
		}

		entries[addr] = entry{
			code: code,
			hash: crypto.Keccak256Hash(code),
		}
	}

	return &Set{entries: entries}, nil
}

// Len returns the number of shadowed addresses.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// IsShadowed reports whether addr has shadow bytecode installed.
func (s *Set) IsShadowed(addr common.Address) bool {
	if s == nil {
		return false
	}
	_, ok := s.entries[addr]
	return ok
}

// Code returns the shadow bytecode for addr, and whether it exists.
func (s *Set) Code(addr common.Address) ([]byte, bool) {
	if s == nil {
		return nil, false
	}
	e, ok := s.entries[addr]
	if !ok {
		return nil, false
	}
	return e.code, true
}

// CodeHash returns the shadow code hash for addr, and whether it exists.
func (s *Set) CodeHash(addr common.Address) (common.Hash, bool) {
	if s == nil {
		return common.Hash{}, false
	}
	e, ok := s.entries[addr]
	if !ok {
		return common.Hash{}, false
	}
	return e.hash, true
}

// CodeByHash returns the shadow bytecode registered under the given content
// hash, and whether any shadowed address maps to it.
func (s *Set) CodeByHash(hash common.Hash) ([]byte, bool) {
	if s == nil {
		return nil, false
	}
	for _, e := range s.entries {
		if e.hash == hash {
			return e.code, true
		}
	}
	return nil, false
}

// Addresses returns the shadowed addresses in no particular order.
func (s *Set) Addresses() []common.Address {
	if s == nil {
		return nil
	}
	addrs := make([]common.Address, 0, len(s.entries))
	for addr := range s.entries {
		addrs = append(addrs, addr)
	}
	return addrs
}
