package types

import (
	"github.com/ethereum/go-ethereum/common"
)

// Peer is a counterparty resolved from the bot registry.
type Peer struct {
	Address  common.Address `json:"address"`
	Endpoint string         `json:"endpoint"`
}

// PeerInfo is served by GET /info.
type PeerInfo struct {
	Address           string `json:"address"`
	Endpoint          string `json:"endpoint,omitempty"`
	ProtocolName      string `json:"protocolName"`
	ProtocolVersion   string `json:"protocolVersion"`
	ChainID           string `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

// PeerHealth is served by GET /health.
type PeerHealth struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// Ack is the uniform response body of every P2P write route.
// Failures are {success:false, error, code}.
type Ack struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Hash    string `json:"hash,omitempty"`
}
