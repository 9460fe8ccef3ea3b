package merkle

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/p2p-wager/pkg/types"
)

// Portfolio is the serialized form of a committed trade set, as exchanged
// between parties and stored alongside a bet.
type Portfolio struct {
	SnapshotID string         `json:"snapshotId"`
	Creator    common.Address `json:"creator"`
	Filler     common.Address `json:"filler"`
	Positions  Bitmap         `json:"positions"`
	Trades     []types.Trade  `json:"trades"`
	Root       common.Hash    `json:"root,omitempty"`
}

// Build rebuilds the tree and, when the portfolio carries a root, checks it.
func (p *Portfolio) Build() (*Tree, error) {
	tickers := make([]string, len(p.Trades))
	entries := make([]int64, len(p.Trades))
	methods := make([]string, len(p.Trades))
	for i, trade := range p.Trades {
		tickers[i] = trade.Ticker
		entries[i] = trade.EntryPrice
		methods[i] = trade.Method
	}

	tree, err := BuildTree(p.SnapshotID, p.Positions, entries, tickers, methods)
	if err != nil {
		return nil, err
	}

	if p.Root != (common.Hash{}) && p.Root != tree.Root {
		return nil, fmt.Errorf("root mismatch: portfolio claims %s, rebuilt %s", p.Root.Hex(), tree.Root.Hex())
	}

	return tree, nil
}

// PortfolioFromTree captures a tree for serialization.
func PortfolioFromTree(tree *Tree, creator common.Address, filler common.Address) *Portfolio {
	trades := make([]types.Trade, len(tree.Trades))
	copy(trades, tree.Trades)

	return &Portfolio{
		SnapshotID: tree.SnapshotID,
		Creator:    creator,
		Filler:     filler,
		Positions:  tree.Positions,
		Trades:     trades,
		Root:       tree.Root,
	}
}
