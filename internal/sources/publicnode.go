package sources

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Endpoint describes the PublicNode endpoints for one chain.
type Endpoint struct {
	RPCURL   string
	WSSURL   string
	ChainID  int64
	Explorer string
}

// PublicNode resolves free public RPC endpoints from the PublicNode
// registry. The registry is static: PublicNode publishes a fixed set of
// hostnames per chain rather than a discovery API.
type PublicNode struct {
	endpoints map[string]Endpoint
}

// defaultEndpoints mirrors publicnode.com's published endpoints.
func defaultEndpoints() map[string]Endpoint {
	return map[string]Endpoint{
		"ethereum": {
			RPCURL:   "https://ethereum-rpc.publicnode.com",
			WSSURL:   "wss://ethereum-rpc.publicnode.com",
			ChainID:  1,
			Explorer: "https://etherscan.io",
		},
		"polygon": {
			RPCURL:   "https://polygon-bor-rpc.publicnode.com",
			WSSURL:   "wss://polygon-bor-rpc.publicnode.com",
			ChainID:  137,
			Explorer: "https://polygonscan.com",
		},
		"bsc": {
			RPCURL:   "https://bsc-rpc.publicnode.com",
			WSSURL:   "wss://bsc-rpc.publicnode.com",
			ChainID:  56,
			Explorer: "https://bscscan.com",
		},
		"arbitrum": {
			RPCURL:   "https://arbitrum-one-rpc.publicnode.com",
			WSSURL:   "wss://arbitrum-one-rpc.publicnode.com",
			ChainID:  42161,
			Explorer: "https://arbiscan.io",
		},
		"optimism": {
			RPCURL:   "https://optimism-rpc.publicnode.com",
			WSSURL:   "wss://optimism-rpc.publicnode.com",
			ChainID:  10,
			Explorer: "https://optimistic.etherscan.io",
		},
		"avalanche": {
			RPCURL:   "https://avalanche-c-chain-rpc.publicnode.com",
			WSSURL:   "wss://avalanche-c-chain-rpc.publicnode.com",
			ChainID:  43114,
			Explorer: "https://snowtrace.io",
		},
		"base": {
			RPCURL:   "https://base-rpc.publicnode.com",
			WSSURL:   "wss://base-rpc.publicnode.com",
			ChainID:  8453,
			Explorer: "https://basescan.org",
		},
		"gnosis": {
			RPCURL:   "https://gnosis-rpc.publicnode.com",
			WSSURL:   "wss://gnosis-rpc.publicnode.com",
			ChainID:  100,
			Explorer: "https://gnosisscan.io",
		},
	}
}

// NewPublicNode creates a PublicNode source. endpoints may be nil to use
// the published registry.
func NewPublicNode(endpoints map[string]Endpoint) *PublicNode {
	if endpoints == nil {
		endpoints = defaultEndpoints()
	}
	return &PublicNode{endpoints: endpoints}
}

// Name implements Source.
func (p *PublicNode) Name() string { return "publicnode" }

// Fetch implements Source.
func (p *PublicNode) Fetch(ctx context.Context, entity string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ep, ok := p.endpoints[strings.ToLower(strings.TrimSpace(entity))]
	if !ok {
		return nil, fmt.Errorf("chain %q not in PublicNode registry", entity)
	}

	return map[string]string{
		"RPC_URL_1":           ep.RPCURL,
		"WSS_URL":             ep.WSSURL,
		"EXPLORER_URL":        ep.Explorer,
		"PUBLICNODE_CHAIN_ID": strconv.FormatInt(ep.ChainID, 10),
		"RPC_IS_ACTIVE":       "TRUE",
	}, nil
}
