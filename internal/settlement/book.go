package settlement

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/p2p-wager/internal/merkle"
)

// Book keeps the committed portfolio trees this bot holds, keyed by root.
type Book struct {
	mu    sync.RWMutex
	trees map[common.Hash]*merkle.Tree
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{trees: make(map[common.Hash]*merkle.Tree)}
}

// Add stores tree under its root.
func (b *Book) Add(tree *merkle.Tree) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trees[tree.Root] = tree
}

// AddPortfolio rebuilds a serialized portfolio, checks its root and stores it.
func (b *Book) AddPortfolio(p *merkle.Portfolio) (*merkle.Tree, error) {
	tree, err := p.Build()
	if err != nil {
		return nil, fmt.Errorf("build portfolio %s: %w", p.SnapshotID, err)
	}
	b.Add(tree)
	return tree, nil
}

// Tree returns the tree committed under root.
func (b *Book) Tree(root common.Hash) (*merkle.Tree, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tree, ok := b.trees[root]
	return tree, ok
}

// Len returns the number of stored trees.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.trees)
}

// Tickers returns the distinct tickers across all stored trees, sorted.
func (b *Book) Tickers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, tree := range b.trees {
		for _, trade := range tree.Trades {
			seen[trade.Ticker] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for ticker := range seen {
		out = append(out, ticker)
	}
	sort.Strings(out)
	return out
}

// LoadDir adds every *.json portfolio file in dir. A file that fails to parse
// or rebuild aborts the load.
func (b *Book) LoadDir(dir string) (loaded int, err error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, fmt.Errorf("list portfolios: %w", err)
	}

	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return loaded, fmt.Errorf("read %s: %w", path, err)
		}

		var p merkle.Portfolio
		if err := json.Unmarshal(raw, &p); err != nil {
			return loaded, fmt.Errorf("decode %s: %w", path, err)
		}
		if _, err := b.AddPortfolio(&p); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}
