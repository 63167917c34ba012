package sources

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// LlamaNodes derives LlamaNodes RPC endpoints for the chains the service
// hosts. Hostnames follow the fixed {slug}.llamarpc.com scheme.
type LlamaNodes struct {
	domain string
	slugs  map[string]llamaNode
}

type llamaNode struct {
	slug    string
	chainID int64
}

// NewLlamaNodes creates a LlamaNodes source. An empty domain selects the
// production llamarpc.com domain.
func NewLlamaNodes(domain string) *LlamaNodes {
	if domain == "" {
		domain = "llamarpc.com"
	}
	return &LlamaNodes{
		domain: domain,
		slugs: map[string]llamaNode{
			"ethereum":  {slug: "eth", chainID: 1},
			"polygon":   {slug: "polygon", chainID: 137},
			"bsc":       {slug: "binance", chainID: 56},
			"binance":   {slug: "binance", chainID: 56},
			"arbitrum":  {slug: "arbitrum", chainID: 42161},
			"optimism":  {slug: "optimism", chainID: 10},
			"avalanche": {slug: "avalanche", chainID: 43114},
			"base":      {slug: "base", chainID: 8453},
		},
	}
}

// Name implements Source.
func (l *LlamaNodes) Name() string { return "llamanodes" }

// Fetch implements Source.
func (l *LlamaNodes) Fetch(ctx context.Context, entity string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	node, ok := l.slugs[strings.ToLower(strings.TrimSpace(entity))]
	if !ok {
		return nil, fmt.Errorf("chain %q not hosted by LlamaNodes", entity)
	}

	return map[string]string{
		"RPC_URL_2":              fmt.Sprintf("https://%s.%s", node.slug, l.domain),
		"WSS_URL_2":              fmt.Sprintf("wss://%s.%s", node.slug, l.domain),
		"LLAMANODES_CHAIN_ID":    strconv.FormatInt(node.chainID, 10),
		"DATA_SOURCE_LLAMANODES": "Llamanodes",
	}, nil
}
