package chanvalidator

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/decred/dcrlnd-statechannel/chancrypto"
	"github.com/decred/dcrlnd-statechannel/chanstate"
)

func sampleState() *chanstate.ChannelState {
	alice := common.HexToAddress("0xa11ce00000000000000000000000000000000a")
	bob := common.HexToAddress("0xb0b0000000000000000000000000000000000b")
	asset := common.HexToAddress("0x0000000000000000000000000000000000dead")

	return &chanstate.ChannelState{
		ChannelAddress: common.HexToAddress("0xc4a4000000000000000000000000000000000c"),
		Alice:          alice,
		Bob:            bob,
		Nonce:          3,
		AssetIds:       []common.Address{asset},
		Balances: []chanstate.Balance{{
			To:     [2]common.Address{alice, bob},
			Amount: [2]*big.Int{big.NewInt(100), big.NewInt(50)},
		}},
		ProcessedDepositsA: []*big.Int{big.NewInt(100)},
		ProcessedDepositsB: []*big.Int{big.NewInt(50)},
		DefundNonces:       []uint64{0},
		MerkleRoot:         [32]byte{},
		Timeout:            3600,
		NetworkContext: chanstate.NetworkContext{
			ChainID: big.NewInt(1),
		},
	}
}

func TestHashCoreStateDeterministic(t *testing.T) {
	s1 := sampleState()
	s2 := sampleState()

	h1, err := HashCoreState(s1)
	require.NoError(t, err)
	h2, err := HashCoreState(s2)
	require.NoError(t, err)

	require.Equal(t, h1, h2, "identical core state must hash identically")
}

func TestHashCoreStateIgnoresNetworkContextAndSignatures(t *testing.T) {
	base, err := HashCoreState(sampleState())
	require.NoError(t, err)

	withNetworkChanged := sampleState()
	withNetworkChanged.NetworkContext.ChainID = big.NewInt(99999)
	withNetworkChanged.LatestUpdate = &chanstate.ChannelUpdate{
		AliceSignature: chanstate.Signature{1, 2, 3},
		BobSignature:   chanstate.Signature{4, 5, 6},
	}

	changed, err := HashCoreState(withNetworkChanged)
	require.NoError(t, err)

	require.Equal(t, base, changed,
		"core(S) drops NetworkContext and LatestUpdate signatures, so the hash must not depend on them")
}

func TestHashCoreStateSensitiveToNonce(t *testing.T) {
	base, err := HashCoreState(sampleState())
	require.NoError(t, err)

	mutated := sampleState()
	mutated.Nonce++

	changed, err := HashCoreState(mutated)
	require.NoError(t, err)

	require.NotEqual(t, base, changed)
}

func TestMerkleRootEmpty(t *testing.T) {
	require.Equal(t, [32]byte{}, MerkleRoot(nil))
}

func TestMerkleRootOrderIndependent(t *testing.T) {
	a := chancrypto.Keccak256Hash([]byte("a"))
	b := chancrypto.Keccak256Hash([]byte("b"))
	c := chancrypto.Keccak256Hash([]byte("c"))

	r1 := MerkleRoot([][32]byte{a, b, c})
	r2 := MerkleRoot([][32]byte{c, a, b})

	require.Equal(t, r1, r2, "the merkle root is computed over the sorted leaf set")
}

func TestMerkleRootSingleLeaf(t *testing.T) {
	a := chancrypto.Keccak256Hash([]byte("solo"))
	require.Equal(t, [32]byte(a), MerkleRoot([][32]byte{a}))
}
