package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultDefiLlamaURL is the production DefiLlama API endpoint.
const DefaultDefiLlamaURL = "https://api.llama.fi"

// DefiLlama queries the DefiLlama chains API for TVL and chain metadata.
type DefiLlama struct {
	baseURL string
	client  *http.Client
}

// llamaChain is one entry of the /v2/chains response.
type llamaChain struct {
	Name        string      `json:"name"`
	ChainID     *int64      `json:"chainId"`
	TVL         json.Number `json:"tvl"`
	TokenSymbol string      `json:"tokenSymbol"`
	GeckoID     string      `json:"gecko_id"`
	CmcID       string      `json:"cmcId"`
}

// NewDefiLlama creates a DefiLlama client. An empty baseURL selects the
// production endpoint; tests point it at a local server.
func NewDefiLlama(baseURL string, timeout time.Duration) *DefiLlama {
	if baseURL == "" {
		baseURL = DefaultDefiLlamaURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DefiLlama{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Name implements Source.
func (d *DefiLlama) Name() string { return "defillama" }

// Fetch implements Source. It matches the entity against chain name,
// gecko id, or token symbol, case-insensitively.
func (d *DefiLlama) Fetch(ctx context.Context, entity string) (map[string]string, error) {
	chains, err := d.chains(ctx)
	if err != nil {
		return nil, err
	}

	want := strings.ToLower(strings.TrimSpace(entity))
	for _, c := range chains {
		if strings.ToLower(c.Name) != want &&
			strings.ToLower(c.GeckoID) != want &&
			strings.ToLower(c.TokenSymbol) != want {
			continue
		}

		fields := map[string]string{
			"DEFILLAMA_NAME":         c.Name,
			"DEFILLAMA_GECKO_ID":     c.GeckoID,
			"DEFILLAMA_TOKEN_SYMBOL": c.TokenSymbol,
			"DATA_SOURCE_DEFILLAMA":  "DefiLlama API",
		}
		if c.ChainID != nil {
			fields["DEFILLAMA_CHAIN_ID"] = strconv.FormatInt(*c.ChainID, 10)
		}
		if tvl := formatTVL(c.TVL); tvl != "" {
			fields["TVL_USD"] = tvl
		}
		return fields, nil
	}

	return nil, fmt.Errorf("chain %q not found in DefiLlama", entity)
}

// chains fetches and decodes the /v2/chains listing.
func (d *DefiLlama) chains(ctx context.Context) ([]llamaChain, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/v2/chains", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build DefiLlama request: %w", err)
	}
	req.Header.Set("User-Agent", "ARBITRAGEXPLUS2025/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("DefiLlama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("DefiLlama returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read DefiLlama response: %w", err)
	}

	var chains []llamaChain
	if err := json.Unmarshal(body, &chains); err != nil {
		return nil, fmt.Errorf("failed to decode DefiLlama response: %w", err)
	}

	return chains, nil
}

// formatTVL renders a TVL figure as a fixed two-decimal USD amount.
// Decimal arithmetic avoids float formatting drift on large TVLs.
func formatTVL(n json.Number) string {
	if n == "" {
		return ""
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return ""
	}
	return d.Round(2).String()
}
