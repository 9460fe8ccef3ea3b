package app

import (
	"context"
	"strings"

	"github.com/mselser95/p2p-wager/pkg/signing"
	"github.com/mselser95/p2p-wager/pkg/types"
	"go.uber.org/zap"
)

// PeerInfoFetcher reads a peer's /info.
type PeerInfoFetcher interface {
	GetPeerInfo(ctx context.Context, endpoint string) (*types.PeerInfo, error)
}

// watchPeers checks the signing domain of every newly discovered peer. A
// peer on another chain or escrow cannot verify our signatures.
func (a *App) watchPeers(ctx context.Context) error {
	found := a.discovery.NewPeersChan()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-found:
			if !ok {
				return nil
			}
			checkPeer(ctx, a.peers, Domain(a.cfg), p, a.logger)
		}
	}
}

func checkPeer(ctx context.Context, fetcher PeerInfoFetcher, domain signing.Domain, p types.Peer, logger *zap.Logger) bool {
	infoCtx, cancel := context.WithTimeout(ctx, componentTimeout)
	defer cancel()

	info, err := fetcher.GetPeerInfo(infoCtx, p.Endpoint)
	if err != nil {
		logger.Warn("peer-info-failed",
			zap.String("peer", p.Address.Hex()),
			zap.String("endpoint", p.Endpoint),
			zap.Error(err))
		return false
	}

	if field := domainMismatch(domain, info); field != "" {
		logger.Warn("peer-domain-mismatch",
			zap.String("peer", p.Address.Hex()),
			zap.String("endpoint", p.Endpoint),
			zap.String("field", field))
		return false
	}

	logger.Info("peer-discovered",
		zap.String("peer", p.Address.Hex()),
		zap.String("endpoint", p.Endpoint))
	return true
}

// domainMismatch names the first domain field the peer disagrees on.
func domainMismatch(domain signing.Domain, info *types.PeerInfo) string {
	switch {
	case info.ProtocolName != domain.Name:
		return "protocolName"
	case info.ProtocolVersion != domain.Version:
		return "protocolVersion"
	case domain.ChainID == nil || info.ChainID != domain.ChainID.String():
		return "chainId"
	case !strings.EqualFold(info.VerifyingContract, domain.VerifyingContract.Hex()):
		return "verifyingContract"
	}
	return ""
}
