package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/mselser95/p2p-wager/internal/merkle"
	"github.com/mselser95/p2p-wager/internal/resolver"
	"github.com/mselser95/p2p-wager/pkg/types"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Compute a portfolio's outcome offline",
	Long: `Rebuilds a committed portfolio from its JSON form, checks its Merkle root and
scores every trade against a set of exit prices.

The exit price file is a JSON object of ticker to integer price, either bare
or wrapped as {"prices": {...}}. Prices may be numbers or decimal strings.`,
	RunE: runResolve,
}

//nolint:gochecknoglobals // Cobra boilerplate
var (
	resolvePortfolio string
	resolveExits     string
)

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().StringVarP(&resolvePortfolio, "portfolio", "p", "", "Portfolio JSON file")
	resolveCmd.Flags().StringVarP(&resolveExits, "exits", "e", "", "Exit price JSON file")
	_ = resolveCmd.MarkFlagRequired("portfolio")
	_ = resolveCmd.MarkFlagRequired("exits")
}

func runResolve(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(resolvePortfolio)
	if err != nil {
		return fmt.Errorf("read portfolio: %w", err)
	}
	var p merkle.Portfolio
	err = json.Unmarshal(raw, &p)
	if err != nil {
		return fmt.Errorf("decode portfolio: %w", err)
	}

	raw, err = os.ReadFile(resolveExits)
	if err != nil {
		return fmt.Errorf("read exit prices: %w", err)
	}
	exits, err := parsePrices(raw)
	if err != nil {
		return err
	}

	return printResolution(cmd.OutOrStdout(), &p, exits)
}

// parsePrices accepts {"BTC": 6600000}, {"BTC": "6600000"} or either wrapped
// in {"prices": ...}.
func parsePrices(raw []byte) (types.Prices, error) {
	var fields map[string]json.RawMessage
	err := json.Unmarshal(raw, &fields)
	if err != nil {
		return nil, fmt.Errorf("decode prices: %w", err)
	}
	if inner, ok := fields["prices"]; ok && len(fields) == 1 {
		fields = nil
		err = json.Unmarshal(inner, &fields)
		if err != nil {
			return nil, fmt.Errorf("decode prices: %w", err)
		}
	}

	prices := make(types.Prices, len(fields))
	for ticker, value := range fields {
		s := strings.Trim(string(value), `"`)
		v, parseErr := strconv.ParseInt(s, 10, 64)
		if parseErr != nil {
			return nil, fmt.Errorf("price for %s: %q is not an integer", ticker, s)
		}
		prices[ticker] = v
	}
	return prices, nil
}

func printResolution(out io.Writer, p *merkle.Portfolio, exits types.Prices) error {
	tree, err := p.Build()
	if err != nil {
		return fmt.Errorf("build portfolio: %w", err)
	}

	fmt.Fprintf(out, "=== Portfolio %s ===\n\n", tree.SnapshotID)
	fmt.Fprintf(out, "Root:    %s\n", tree.Root.Hex())
	fmt.Fprintf(out, "Creator: %s\n", p.Creator.Hex())
	fmt.Fprintf(out, "Filler:  %s\n\n", p.Filler.Hex())

	fmt.Fprintf(out, "%-4s %-10s %-10s %-8s %14s %14s  %s\n", "#", "TICKER", "RULE", "SIDE", "ENTRY", "EXIT", "RESULT")
	for i, trade := range tree.Trades {
		side := "rule"
		if !tree.Positions.Bit(i) {
			side = "against"
		}

		exit, found := exits[trade.Ticker]
		if !found {
			fmt.Fprintf(out, "%-4d %-10s %-10s %-8s %14d %14s  %s\n", i, trade.Ticker, trade.Method, side, trade.EntryPrice, "-", "NO PRICE")
			continue
		}

		held, ok := resolver.Evaluate(trade.EntryPrice, exit, trade.Method)
		result := "INVALID"
		if ok {
			result = "FILLER"
			if held == tree.Positions.Bit(i) {
				result = "CREATOR"
			}
		}
		fmt.Fprintf(out, "%-4d %-10s %-10s %-8s %14d %14d  %s\n", i, trade.Ticker, trade.Method, side, trade.EntryPrice, exit, result)
	}

	outcome := merkle.ComputeOutcome(tree, exits, p.Creator, p.Filler)

	fmt.Fprintf(out, "\nCreator wins: %d / %d valid trades\n", outcome.WinsCount, outcome.ValidTrades)
	switch {
	case outcome.IsTie:
		fmt.Fprintf(out, "Result:       TIE (filler takes the pot)\n")
	case outcome.Winner == p.Creator:
		fmt.Fprintf(out, "Result:       CREATOR WINS\n")
	default:
		fmt.Fprintf(out, "Result:       FILLER WINS\n")
	}
	fmt.Fprintf(out, "Winner:       %s\n", outcome.Winner.Hex())

	return nil
}
