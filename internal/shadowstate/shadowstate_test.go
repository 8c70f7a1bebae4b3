package shadowstate

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadow-hq/shadow-geth/internal/shadowcfg"
)

var (
	shadowedAddr    = common.HexToAddress("0x0fbc0a9be1e87391ed2c7d2bb275bec02f53241f")
	notShadowedAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

// fakeStateDB implements shadowstate.Source with just enough behavior to
// exercise the decorator; every method the decorator doesn't override
// panics if called, since the tests never need it.
type fakeStateDB struct {
	vm.StateDB
	code     []byte
	codeHash common.Hash
}

func (f *fakeStateDB) GetCode(common.Address) []byte          { return f.code }
func (f *fakeStateDB) GetCodeHash(common.Address) common.Hash { return f.codeHash }
func (f *fakeStateDB) GetCodeSize(common.Address) int         { return len(f.code) }
func (f *fakeStateDB) SetTxContext(common.Hash, int)          {}
func (f *fakeStateDB) GetLogs(common.Hash, uint64, common.Hash) []*types.Log { return nil }

func newShadowSet(t *testing.T) *shadowcfg.Set {
	t.Helper()
	set, err := shadowcfg.Parse([]byte(`{"` + shadowedAddr.Hex() + `": "0x6001600101"}`))
	require.NoError(t, err)
	return set
}

func TestGetCodeReturnsShadowForShadowedAddress(t *testing.T) {
	inner := &fakeStateDB{code: []byte{0xde, 0xad}, codeHash: common.HexToHash("0xdead")}
	sdb := New(inner, newShadowSet(t))

	code := sdb.GetCode(shadowedAddr)
	assert.Equal(t, []byte{0x60, 0x01, 0x60, 0x01, 0x01}, code)
	assert.Equal(t, len(code), sdb.GetCodeSize(shadowedAddr))

	wantHash, ok := newShadowSet(t).CodeHash(shadowedAddr)
	require.True(t, ok)
	assert.Equal(t, wantHash, sdb.GetCodeHash(shadowedAddr))
}

func TestGetCodePassesThroughForNonShadowedAddress(t *testing.T) {
	inner := &fakeStateDB{code: []byte{0xbe, 0xef}, codeHash: common.HexToHash("0xbeef")}
	sdb := New(inner, newShadowSet(t))

	assert.Equal(t, inner.code, sdb.GetCode(notShadowedAddr))
	assert.Equal(t, inner.codeHash, sdb.GetCodeHash(notShadowedAddr))
	assert.Equal(t, len(inner.code), sdb.GetCodeSize(notShadowedAddr))
}

func TestIsShadowed(t *testing.T) {
	sdb := New(&fakeStateDB{}, newShadowSet(t))
	assert.True(t, sdb.IsShadowed(shadowedAddr))
	assert.False(t, sdb.IsShadowed(notShadowedAddr))
}

func TestBlockHashResolvesThroughLookup(t *testing.T) {
	sdb := New(&fakeStateDB{}, newShadowSet(t))
	want := common.HexToHash("0x1234")
	lookup := func(number uint64) common.Hash {
		if number == 18870000 {
			return want
		}
		return common.Hash{}
	}

	got, err := sdb.BlockHash(big.NewInt(18870000), lookup)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestBlockHashOverflow(t *testing.T) {
	sdb := New(&fakeStateDB{}, newShadowSet(t))

	overflowing := new(big.Int).Lsh(big.NewInt(1), 64) // 2^64
	_, err := sdb.BlockHash(overflowing, func(uint64) common.Hash { return common.Hash{} })
	require.ErrorIs(t, err, ErrBlockNumberOverflow)
}
