package app

import (
	"context"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/mselser95/p2p-wager/internal/discovery"
	"github.com/mselser95/p2p-wager/internal/negotiation"
	"github.com/mselser95/p2p-wager/internal/p2p"
	"github.com/mselser95/p2p-wager/internal/pricefeed"
	"github.com/mselser95/p2p-wager/internal/proposal"
	"github.com/mselser95/p2p-wager/internal/resilience"
	"github.com/mselser95/p2p-wager/internal/settlement"
	"github.com/mselser95/p2p-wager/internal/storage"
	"github.com/mselser95/p2p-wager/internal/transport"
	"github.com/mselser95/p2p-wager/pkg/cache"
	"github.com/mselser95/p2p-wager/pkg/config"
	"github.com/mselser95/p2p-wager/pkg/healthprobe"
	"github.com/mselser95/p2p-wager/pkg/httpserver"
	"github.com/mselser95/p2p-wager/pkg/types"
	"github.com/mselser95/p2p-wager/pkg/wallet"
	"github.com/mselser95/p2p-wager/pkg/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// App is the main application orchestrator.
//
// stream and streamSource are nil without PRICE_STREAM_URL, backendSync
// without BACKEND_URL and wallet without COLLATERAL_TOKEN_ADDRESS.
type App struct {
	cfg           *config.Config
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
	httpServer    *httpserver.Server
	listener      *p2p.Listener
	discovery     *discovery.Service
	peers         *transport.Client
	ledger        *resilience.FailoverLedger
	registrar     Registrar
	stream        *websocket.Manager
	streamSource  *pricefeed.StreamSource
	backendSync   *resilience.BackendSync
	engine        *settlement.Engine
	inbox         *proposal.Inbox
	negotiator    *negotiation.Negotiator
	book          *settlement.Book
	storage       storage.Storage
	wallet        *wallet.Tracker
	cache         cache.Cache
	rpcs          []*ethclient.Client
	group         *errgroup.Group
	ctx           context.Context
	cancel        context.CancelFunc
}

// Registrar announces this bot's endpoint in the on-chain registry.
type Registrar interface {
	RegisterBot(ctx context.Context, endpoint string) (*types.TxResult, error)
}

// Handler answers every inbound P2P message: trade messages go to the
// proposal inbox, settlement messages to the engine.
type Handler struct {
	*proposal.Inbox
	*settlement.Engine
}

var _ p2p.Handler = Handler{}
