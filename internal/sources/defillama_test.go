package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const chainsPayload = `[
	{"name": "Ethereum", "chainId": 1, "tvl": 51234567890.123456, "tokenSymbol": "ETH", "gecko_id": "ethereum", "cmcId": "1027"},
	{"name": "Polygon", "chainId": 137, "tvl": 987654321.987, "tokenSymbol": "MATIC", "gecko_id": "polygon-pos", "cmcId": "3890"},
	{"name": "Solana", "chainId": null, "tvl": 4200000000, "tokenSymbol": "SOL", "gecko_id": "solana", "cmcId": "5426"}
]`

func llamaServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/chains" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestDefiLlama_FetchByName verifies the case-insensitive name match and
// the field mapping.
func TestDefiLlama_FetchByName(t *testing.T) {
	srv := llamaServer(t, http.StatusOK, chainsPayload)
	d := NewDefiLlama(srv.URL, 5*time.Second)

	fields, err := d.Fetch(context.Background(), "polygon")
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}

	want := map[string]string{
		"DEFILLAMA_NAME":         "Polygon",
		"DEFILLAMA_GECKO_ID":     "polygon-pos",
		"DEFILLAMA_TOKEN_SYMBOL": "MATIC",
		"DEFILLAMA_CHAIN_ID":     "137",
		"TVL_USD":                "987654321.99",
		"DATA_SOURCE_DEFILLAMA":  "DefiLlama API",
	}
	for name, value := range want {
		if fields[name] != value {
			t.Errorf("%s = %q, want %q", name, fields[name], value)
		}
	}
}

// TestDefiLlama_FetchByGeckoIDAndSymbol verifies the alternate match keys.
func TestDefiLlama_FetchByGeckoIDAndSymbol(t *testing.T) {
	srv := llamaServer(t, http.StatusOK, chainsPayload)
	d := NewDefiLlama(srv.URL, 5*time.Second)

	byGecko, err := d.Fetch(context.Background(), "polygon-pos")
	if err != nil {
		t.Fatalf("Fetch(gecko id) failed: %v", err)
	}
	if byGecko["DEFILLAMA_NAME"] != "Polygon" {
		t.Errorf("gecko id match = %q, want Polygon", byGecko["DEFILLAMA_NAME"])
	}

	bySymbol, err := d.Fetch(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("Fetch(symbol) failed: %v", err)
	}
	if bySymbol["DEFILLAMA_NAME"] != "Ethereum" {
		t.Errorf("symbol match = %q, want Ethereum", bySymbol["DEFILLAMA_NAME"])
	}
}

// TestDefiLlama_NullChainID verifies chains without an EVM chain id omit
// the field instead of writing 0.
func TestDefiLlama_NullChainID(t *testing.T) {
	srv := llamaServer(t, http.StatusOK, chainsPayload)
	d := NewDefiLlama(srv.URL, 5*time.Second)

	fields, err := d.Fetch(context.Background(), "solana")
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if _, ok := fields["DEFILLAMA_CHAIN_ID"]; ok {
		t.Errorf("DEFILLAMA_CHAIN_ID present for null chainId: %q", fields["DEFILLAMA_CHAIN_ID"])
	}
}

// TestDefiLlama_NotFound verifies an unlisted chain is an error.
func TestDefiLlama_NotFound(t *testing.T) {
	srv := llamaServer(t, http.StatusOK, chainsPayload)
	d := NewDefiLlama(srv.URL, 5*time.Second)

	if _, err := d.Fetch(context.Background(), "made-up-chain"); err == nil {
		t.Error("Fetch() should fail for an unlisted chain")
	}
}

// TestDefiLlama_UpstreamErrors verifies HTTP failures and bad payloads
// surface as errors.
func TestDefiLlama_UpstreamErrors(t *testing.T) {
	bad := llamaServer(t, http.StatusBadGateway, "upstream down")
	d := NewDefiLlama(bad.URL, 5*time.Second)
	if _, err := d.Fetch(context.Background(), "polygon"); err == nil {
		t.Error("Fetch() should fail on a 502")
	}

	garbage := llamaServer(t, http.StatusOK, "{not an array")
	d = NewDefiLlama(garbage.URL, 5*time.Second)
	if _, err := d.Fetch(context.Background(), "polygon"); err == nil {
		t.Error("Fetch() should fail on an undecodable body")
	}
}

// TestDefiLlama_ContextCancel verifies an expired context aborts the
// request.
func TestDefiLlama_ContextCancel(t *testing.T) {
	srv := llamaServer(t, http.StatusOK, chainsPayload)
	d := NewDefiLlama(srv.URL, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Fetch(ctx, "polygon"); err == nil {
		t.Error("Fetch() should fail with a canceled context")
	}
}

// TestFormatTVL covers the fixed two-decimal TVL rendering.
func TestFormatTVL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"987654321.987", "987654321.99"},
		{"4200000000", "4200000000"},
		{"0.005", "0.01"},
		{"", ""},
		{"not-a-number", ""},
	}
	for _, tt := range tests {
		if got := formatTVL(json.Number(tt.in)); got != tt.want {
			t.Errorf("formatTVL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
