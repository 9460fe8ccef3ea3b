package escrow

// escrowABI is the subset of the escrow contract this agent calls.
// Struct arguments are flattened.
const escrowABI = `[
	{
		"name": "bets",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "betId", "type": "uint256"}],
		"outputs": [
			{"name": "tradesRoot", "type": "bytes32"},
			{"name": "creator", "type": "address"},
			{"name": "filler", "type": "address"},
			{"name": "creatorAmount", "type": "uint256"},
			{"name": "fillerAmount", "type": "uint256"},
			{"name": "deadline", "type": "uint256"},
			{"name": "createdAt", "type": "uint256"},
			{"name": "status", "type": "uint8"}
		]
	},
	{
		"name": "nonces",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "account", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"name": "getActiveBots",
		"type": "function",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [
			{"name": "bots", "type": "address[]"},
			{"name": "endpoints", "type": "string[]"}
		]
	},
	{
		"name": "registerBot",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [{"name": "endpoint", "type": "string"}],
		"outputs": []
	},
	{
		"name": "commitBilateralBet",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "tradesRoot", "type": "bytes32"},
			{"name": "creator", "type": "address"},
			{"name": "filler", "type": "address"},
			{"name": "creatorAmount", "type": "uint256"},
			{"name": "fillerAmount", "type": "uint256"},
			{"name": "deadline", "type": "uint256"},
			{"name": "nonce", "type": "uint256"},
			{"name": "expiry", "type": "uint256"},
			{"name": "creatorSignature", "type": "bytes"},
			{"name": "fillerSignature", "type": "bytes"}
		],
		"outputs": [{"name": "betId", "type": "uint256"}]
	},
	{
		"name": "settleByAgreement",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "betId", "type": "uint256"},
			{"name": "winner", "type": "address"},
			{"name": "winsCount", "type": "uint256"},
			{"name": "validTrades", "type": "uint256"},
			{"name": "isTie", "type": "bool"},
			{"name": "nonce", "type": "uint256"},
			{"name": "expiry", "type": "uint256"},
			{"name": "creatorSignature", "type": "bytes"},
			{"name": "fillerSignature", "type": "bytes"}
		],
		"outputs": []
	},
	{
		"name": "customPayout",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "betId", "type": "uint256"},
			{"name": "creatorPayout", "type": "uint256"},
			{"name": "fillerPayout", "type": "uint256"},
			{"name": "nonce", "type": "uint256"},
			{"name": "expiry", "type": "uint256"},
			{"name": "creatorSignature", "type": "bytes"},
			{"name": "fillerSignature", "type": "bytes"}
		],
		"outputs": []
	},
	{
		"name": "requestArbitration",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [{"name": "betId", "type": "uint256"}],
		"outputs": []
	},
	{
		"name": "BetCommitted",
		"type": "event",
		"anonymous": false,
		"inputs": [
			{"name": "betId", "type": "uint256", "indexed": true},
			{"name": "creator", "type": "address", "indexed": true},
			{"name": "filler", "type": "address", "indexed": true}
		]
	}
]`
