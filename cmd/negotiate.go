package cmd

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/mselser95/p2p-wager/internal/settlement"
	"github.com/mselser95/p2p-wager/pkg/httpserver"
	"github.com/mselser95/p2p-wager/pkg/signing"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var proposeCmd = &cobra.Command{
	Use:   "propose <trades-root> <stake>",
	Short: "Propose a bet over a committed portfolio",
	Long: `Asks the running bot to sign a proposal over the portfolio with the given
trades root and send it to one peer (--peer) or to every registered bot.
The stake is in collateral base units.

The bot tracks the proposal, so an acceptance reaching its listener shows up
under "offers" as pending until the filler's commitment is submitted with
"commit".`,
	Args: cobra.ExactArgs(2),
	RunE: runPropose,
}

//nolint:gochecknoglobals // Cobra boilerplate
var offersCmd = &cobra.Command{
	Use:   "offers",
	Short: "List live offers and matches awaiting commitment",
	RunE:  runOffers,
}

//nolint:gochecknoglobals // Cobra boilerplate
var acceptCmd = &cobra.Command{
	Use:   "accept <proposal-hash>",
	Short: "Accept an offer at the required match",
	Long: `Asks the running bot to accept the offer with the given proposal hash. The
acceptance is sent to the creator and the bot's signed commitment is printed
as JSON (or written to --out). Hand it to the creator, who submits it with
"commit".`,
	Args: cobra.ExactArgs(1),
	RunE: runAccept,
}

//nolint:gochecknoglobals // Cobra boilerplate
var commitCmd = &cobra.Command{
	Use:   "commit <commitment.json|->",
	Short: "Countersign a filler's commitment and lock the bet on-chain",
	Long: `Reads the filler's signed commitment (the JSON printed by "accept") from a
file, or from stdin with "-", and asks the running bot to check it against
the acceptance it received, countersign it and submit commitBilateralBet.`,
	Args: cobra.ExactArgs(1),
	RunE: runCommit,
}

const opsCallTimeout = 3 * time.Minute

//nolint:gochecknoglobals // Cobra boilerplate
var (
	opsAPI        string
	proposeOdds   uint64
	proposeWithin string
	proposePeer   string
	acceptOutput  string
)

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	for _, c := range []*cobra.Command{proposeCmd, offersCmd, acceptCmd, commitCmd} {
		rootCmd.AddCommand(c)
		c.Flags().StringVar(&opsAPI, "api", "", "Bot HTTP API (defaults to http://localhost:$HTTP_PORT)")
	}

	proposeCmd.Flags().Uint64Var(&proposeOdds, "odds", 10000, "Odds in basis points; the filler matches stake*odds/10000")
	proposeCmd.Flags().StringVar(&proposeWithin, "deadline", "24h", "Bet deadline as a duration from now or an RFC3339 time")
	proposeCmd.Flags().StringVar(&proposePeer, "peer", "", "Send only to this bot address")
	acceptCmd.Flags().StringVarP(&acceptOutput, "out", "o", "", "Write the signed commitment to this file")
}

func runPropose(cmd *cobra.Command, args []string) error {
	root, err := signing.ParseHash(args[0])
	if err != nil {
		return fmt.Errorf("trades root: %w", err)
	}
	stake, ok := new(big.Int).SetString(args[1], 10)
	if !ok || stake.Sign() <= 0 {
		return fmt.Errorf("stake must be a positive integer, got %q", args[1])
	}
	deadline, err := parseDeadline(proposeWithin, time.Now())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opsCallTimeout)
	defer cancel()

	var resp httpserver.ProposeResponse
	_, err = newOpsClient(opsAPI).call(ctx, http.MethodPost, "/api/proposals", httpserver.ProposeRequest{
		TradesRoot: root.Hex(),
		Stake:      stake.String(),
		OddsBps:    proposeOdds,
		Deadline:   deadline,
		Peer:       proposePeer,
	}, &resp)
	if err != nil {
		return fmt.Errorf("propose: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✅ Proposal %s\n", resp.ProposalHash)
	fmt.Fprintf(out, "Stake:     %s at %d bps\n", resp.Proposal.Proposal.CreatorAmount, proposeOdds)
	fmt.Fprintf(out, "Deadline:  %s\n", deadline.UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "Delivered: %d\n", len(resp.Delivered))
	for _, addr := range resp.Delivered {
		fmt.Fprintf(out, "  %s\n", addr)
	}
	return nil
}

// parseDeadline accepts a duration from now or an RFC3339 timestamp.
func parseDeadline(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return time.Time{}, fmt.Errorf("deadline must be in the future, got %s", s)
		}
		return now.Add(d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("deadline must be a duration or RFC3339 time, got %q", s)
	}
	if !t.After(now) {
		return time.Time{}, fmt.Errorf("deadline must be in the future, got %s", s)
	}
	return t, nil
}

func runOffers(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opsCallTimeout)
	defer cancel()

	var resp httpserver.OffersResponse
	_, err := newOpsClient(opsAPI).call(ctx, http.MethodGet, "/api/offers", nil, &resp)
	if err != nil {
		return fmt.Errorf("list offers: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "=== Offers (%d) ===\n\n", len(resp.Offers))
	for _, o := range resp.Offers {
		fmt.Fprintf(out, "%s\n", o.ProposalHash)
		fmt.Fprintf(out, "  creator=%s stake=%s odds=%s match=%s\n",
			o.Proposal.Creator, o.Proposal.CreatorAmount, o.Proposal.OddsBps, o.RequiredMatch)
	}
	fmt.Fprintf(out, "\n=== Awaiting Commitment (%d) ===\n\n", len(resp.Pending))
	for _, p := range resp.Pending {
		fmt.Fprintf(out, "%s  filler=%s fill=%s\n", p.ProposalHash, p.Filler, p.FillAmount)
	}
	return nil
}

func runAccept(cmd *cobra.Command, args []string) error {
	hash, err := signing.ParseHash(args[0])
	if err != nil {
		return fmt.Errorf("proposal hash: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opsCallTimeout)
	defer cancel()

	var resp httpserver.AcceptResponse
	_, err = newOpsClient(opsAPI).call(ctx, http.MethodPost, "/api/offers/"+hash.Hex()+"/accept", nil, &resp)
	if err != nil {
		return fmt.Errorf("accept: %w", err)
	}

	commitment, err := json.MarshalIndent(resp.Commitment, "", "  ")
	if err != nil {
		return fmt.Errorf("encode commitment: %w", err)
	}

	out := cmd.OutOrStdout()
	if acceptOutput != "" {
		err = os.WriteFile(acceptOutput, append(commitment, '\n'), 0o600)
		if err != nil {
			return fmt.Errorf("write commitment: %w", err)
		}
		fmt.Fprintf(out, "✅ Accepted %s; commitment written to %s\n", hash.Hex(), acceptOutput)
		return nil
	}
	fmt.Fprintf(out, "%s\n", commitment)
	return nil
}

func runCommit(cmd *cobra.Command, args []string) error {
	raw, err := readInput(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}

	var signed signing.SignedCommitment
	err = json.Unmarshal(raw, &signed)
	if err != nil {
		return fmt.Errorf("decode commitment: %w", err)
	}
	if missing := signed.Missing(); len(missing) > 0 {
		return fmt.Errorf("commitment is missing %s", strings.Join(missing, ", "))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opsCallTimeout)
	defer cancel()

	var res settlement.Result
	_, err = newOpsClient(opsAPI).call(ctx, http.MethodPost, "/api/commitments", signed, &res,
		http.StatusUnprocessableEntity, http.StatusServiceUnavailable)
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	out := cmd.OutOrStdout()
	switch {
	case res.Success:
		fmt.Fprintf(out, "✅ Bet %d committed\n", res.BetID)
		fmt.Fprintf(out, "Tx: %s\n", res.TxHash)
		return nil
	case res.Pending:
		fmt.Fprintf(out, "⏳ Commitment broadcast, receipt pending\n")
		fmt.Fprintf(out, "Tx: %s\n", res.TxHash)
		return nil
	default:
		return fmt.Errorf("commit: %w", res.Err())
	}
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return raw, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return raw, nil
}
