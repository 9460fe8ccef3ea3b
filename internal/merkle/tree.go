// Package merkle commits a portfolio of trades to a single root and
// recomputes the aggregate outcome from exit prices.
//
// Leaf:  keccak256(abi.encode(string ticker, uint256 entryPrice, string method, bool position))
// Node:  keccak256(left || right)
// An odd node at any level is paired with itself. A single leaf is the root.
// This layout is shared with every other implementation of the protocol and
// must not change: the root is what both parties sign.
package merkle

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mselser95/p2p-wager/internal/resolver"
	"github.com/mselser95/p2p-wager/pkg/types"
)

var (
	// ErrEmptyPortfolio is returned when no trades are supplied.
	ErrEmptyPortfolio = errors.New("portfolio has no trades")

	// ErrLengthMismatch is returned when the per-trade inputs disagree in length.
	ErrLengthMismatch = errors.New("tickers, entry prices and methods must have equal length")
)

var leafArgs = mustLeafArgs()

func mustLeafArgs() abi.Arguments {
	stringT, err := abi.NewType("string", "", nil)
	if err != nil {
		panic(err)
	}
	uintT, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	boolT, err := abi.NewType("bool", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: stringT}, {Type: uintT}, {Type: stringT}, {Type: boolT}}
}

// Tree is an immutable commitment to a set of trades at entry time.
type Tree struct {
	SnapshotID string
	Trades     []types.Trade
	Positions  Bitmap
	Root       common.Hash

	levels [][]common.Hash // levels[0] are the leaves, last level is {Root}
}

// BuildTree commits trades built from parallel slices. Exit prices are never
// part of the commitment.
func BuildTree(snapshotID string, positions Bitmap, entryPrices []int64, tickers []string, methods []string) (*Tree, error) {
	if len(tickers) == 0 {
		return nil, ErrEmptyPortfolio
	}
	if len(entryPrices) != len(tickers) || len(methods) != len(tickers) {
		return nil, ErrLengthMismatch
	}
	if positions.Len() < len(tickers) {
		return nil, fmt.Errorf("position bitmap holds %d bits, need %d", positions.Len(), len(tickers))
	}

	trades := make([]types.Trade, len(tickers))
	leaves := make([]common.Hash, len(tickers))
	for i := range tickers {
		if entryPrices[i] < 0 {
			return nil, fmt.Errorf("trade %d (%s): negative entry price", i, tickers[i])
		}
		trades[i] = types.Trade{
			Ticker:     tickers[i],
			EntryPrice: entryPrices[i],
			Method:     methods[i],
		}

		leaf, err := LeafHash(tickers[i], entryPrices[i], methods[i], positions.Bit(i))
		if err != nil {
			return nil, fmt.Errorf("trade %d (%s): %w", i, tickers[i], err)
		}
		leaves[i] = leaf
	}

	levels := buildLevels(leaves)

	posCopy := make(Bitmap, len(positions))
	copy(posCopy, positions)

	return &Tree{
		SnapshotID: snapshotID,
		Trades:     trades,
		Positions:  posCopy,
		Root:       levels[len(levels)-1][0],
		levels:     levels,
	}, nil
}

// LeafHash computes the commitment of one trade.
func LeafHash(ticker string, entryPrice int64, method string, position bool) (common.Hash, error) {
	encoded, err := leafArgs.Pack(ticker, big.NewInt(entryPrice), method, position)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode leaf: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// HashPair combines two nodes in order.
func HashPair(left, right common.Hash) common.Hash {
	return crypto.Keccak256Hash(left.Bytes(), right.Bytes())
}

func buildLevels(leaves []common.Hash) [][]common.Hash {
	levels := [][]common.Hash{leaves}
	current := leaves
	for len(current) > 1 {
		next := make([]common.Hash, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			right := current[i]
			if i+1 < len(current) {
				right = current[i+1]
			}
			next = append(next, HashPair(current[i], right))
		}
		levels = append(levels, next)
		current = next
	}
	return levels
}

// Len returns the number of committed trades.
func (t *Tree) Len() int {
	return len(t.Trades)
}

// Leaf returns the leaf hash of trade i.
func (t *Tree) Leaf(i int) common.Hash {
	return t.levels[0][i]
}

// Proof returns the sibling path from leaf i to the root.
func (t *Tree) Proof(i int) ([]common.Hash, error) {
	if i < 0 || i >= len(t.Trades) {
		return nil, fmt.Errorf("index %d out of range [0,%d)", i, len(t.Trades))
	}

	proof := make([]common.Hash, 0, len(t.levels)-1)
	idx := i
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := idx ^ 1
		if sibling >= len(level) {
			sibling = idx
		}
		proof = append(proof, level[sibling])
		idx /= 2
	}
	return proof, nil
}

// VerifyProof checks that leaf sits at index of a tree of leafCount leaves
// under root. The index must be below leafCount and the proof must hold one
// sibling per level. The last node of an odd level is paired with itself, so
// without the bound the last leaf's proof also verifies at index+1.
func VerifyProof(root common.Hash, leaf common.Hash, index int, leafCount int, proof []common.Hash) bool {
	if index < 0 || index >= leafCount || len(proof) != proofDepth(leafCount) {
		return false
	}

	current := leaf
	idx := index
	for _, sibling := range proof {
		if idx%2 == 0 {
			current = HashPair(current, sibling)
		} else {
			current = HashPair(sibling, current)
		}
		idx /= 2
	}
	return current == root
}

func proofDepth(leafCount int) int {
	depth := 0
	for n := leafCount; n > 1; n = (n + 1) / 2 {
		depth++
	}
	return depth
}

// ComputeOutcome evaluates every trade that has an exit price. Trades with a
// missing price or an unevaluable rule are excluded from validTrades.
// The creator wins on a strict majority of maker wins; a tie goes to the filler.
func ComputeOutcome(tree *Tree, exitPrices types.Prices, creator common.Address, filler common.Address) types.Outcome {
	wins := 0
	valid := 0

	for i := range tree.Trades {
		trade := &tree.Trades[i]
		exit, found := exitPrices[trade.Ticker]
		if !found {
			continue
		}

		ruleHeld, ok := resolver.Evaluate(trade.EntryPrice, exit, trade.Method)
		if !ok {
			continue
		}

		valid++
		// Position bit set: maker backs the rule. Unset: maker backs its negation.
		if ruleHeld == tree.Positions.Bit(i) {
			wins++
		}
	}

	outcome := types.Outcome{
		WinsCount:   wins,
		ValidTrades: valid,
		IsTie:       wins*2 == valid,
	}
	if wins*2 > valid {
		outcome.Winner = creator
	} else {
		outcome.Winner = filler
	}

	return outcome
}
