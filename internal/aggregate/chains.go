package aggregate

import "sort"

// chainIDs maps common chain names to their numeric chain identifiers,
// used as a fallback when no source reports one.
var chainIDs = map[string]int64{
	"ethereum":  1,
	"polygon":   137,
	"bsc":       56,
	"binance":   56,
	"arbitrum":  42161,
	"optimism":  10,
	"avalanche": 43114,
	"base":      8453,
	"gnosis":    100,
}

// nativeTokens maps common chain names to their native token symbols.
var nativeTokens = map[string]string{
	"ethereum":  "ETH",
	"polygon":   "MATIC",
	"bsc":       "BNB",
	"binance":   "BNB",
	"arbitrum":  "ETH",
	"optimism":  "ETH",
	"avalanche": "AVAX",
	"base":      "ETH",
	"gnosis":    "xDAI",
}

// chainAliases maps alternate spellings to the canonical chain name. The
// alias keys stay in the lookup maps but are not chains of their own.
var chainAliases = map[string]string{
	"binance": "bsc",
}

// SupportedChains returns the canonical chain names with registry entries,
// sorted. Aliases are excluded.
func SupportedChains() []string {
	names := make([]string, 0, len(chainIDs))
	for name := range chainIDs {
		if _, ok := chainAliases[name]; ok {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
