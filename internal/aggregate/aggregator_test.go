package aggregate

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/hefarica/ARBITRAGEXPLUS2025/internal/ratelimit"
	"github.com/hefarica/ARBITRAGEXPLUS2025/internal/sources"
)

// fakeSource is a Source with canned fields, an optional error, and an
// optional artificial latency.
type fakeSource struct {
	name   string
	fields map[string]string
	err    error
	delay  time.Duration
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(ctx context.Context, entity string) (map[string]string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.fields, nil
}

func testAggregator(srcs ...sources.Source) *Aggregator {
	cfg := DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)
	limiter := ratelimit.New(nil, cfg.Logger)
	return New(srcs, limiter, cfg)
}

// TestFetch_MergesByPriority verifies later sources win conflicts without
// blanking fields they have no opinion on.
func TestFetch_MergesByPriority(t *testing.T) {
	a := testAggregator(
		&fakeSource{name: "defillama", fields: map[string]string{
			"TVL_USD":   "1000000.00",
			"WSS_URL":   "wss://old.example",
			"RPC_URL_1": "",
		}},
		&fakeSource{name: "publicnode", fields: map[string]string{
			"WSS_URL":       "wss://new.example",
			"RPC_URL_1":     "https://rpc.example",
			"RPC_IS_ACTIVE": "TRUE",
		}},
	)

	rec := a.Fetch(context.Background(), "polygon")

	if rec.Fields["WSS_URL"] != "wss://new.example" {
		t.Errorf("WSS_URL = %q, want the higher-priority value", rec.Fields["WSS_URL"])
	}
	if rec.Fields["TVL_USD"] != "1000000.00" {
		t.Errorf("TVL_USD = %q, lower-priority field must survive", rec.Fields["TVL_USD"])
	}
	if rec.Fields["RPC_URL_1"] != "https://rpc.example" {
		t.Errorf("RPC_URL_1 = %q, empty values must never blank a field", rec.Fields["RPC_URL_1"])
	}
}

// TestFetch_ConcurrentFanOut verifies sources run in parallel: total time
// tracks the slowest source, not the sum.
func TestFetch_ConcurrentFanOut(t *testing.T) {
	delay := 150 * time.Millisecond
	a := testAggregator(
		&fakeSource{name: "a", delay: delay, fields: map[string]string{"X": "1"}},
		&fakeSource{name: "b", delay: delay, fields: map[string]string{"Y": "2"}},
		&fakeSource{name: "c", delay: delay, fields: map[string]string{"Z": "3"}},
	)

	start := time.Now()
	rec := a.Fetch(context.Background(), "polygon")
	elapsed := time.Since(start)

	if elapsed >= 3*delay {
		t.Errorf("fan-out took %s, sequential would be %s; sources did not run concurrently", elapsed, 3*delay)
	}
	for _, name := range []string{"a", "b", "c"} {
		if !rec.SourceOK[name] {
			t.Errorf("source %s marked failed", name)
		}
	}
}

// TestFetch_PartialFailureIsDegraded verifies one failing source degrades
// but does not abort the aggregate.
func TestFetch_PartialFailureIsDegraded(t *testing.T) {
	a := testAggregator(
		&fakeSource{name: "defillama", err: errors.New("503")},
		&fakeSource{name: "publicnode", fields: map[string]string{
			"RPC_URL_1":           "https://rpc.example",
			"PUBLICNODE_CHAIN_ID": "137",
			"RPC_IS_ACTIVE":       "TRUE",
		}},
	)

	rec := a.Fetch(context.Background(), "polygon")

	if rec.SourceOK["defillama"] || !rec.SourceOK["publicnode"] {
		t.Errorf("SourceOK = %v", rec.SourceOK)
	}
	if rec.Fields["HEALTH_STATUS"] != HealthDegraded {
		t.Errorf("HEALTH_STATUS = %q, want %q", rec.Fields["HEALTH_STATUS"], HealthDegraded)
	}
	if rec.Fields["RPC_URL_1"] != "https://rpc.example" {
		t.Errorf("surviving source's fields missing: %v", rec.Fields)
	}
}

// TestFetch_AllSourcesFailed verifies the worst case is a complete
// fallback record with HEALTH_STATUS=ERROR, never a nil result.
func TestFetch_AllSourcesFailed(t *testing.T) {
	a := testAggregator(
		&fakeSource{name: "defillama", err: errors.New("down")},
		&fakeSource{name: "publicnode", err: errors.New("down")},
	)

	rec := a.Fetch(context.Background(), "polygon")
	if rec == nil {
		t.Fatal("Fetch() returned nil")
	}

	if rec.Fields["HEALTH_STATUS"] != HealthError {
		t.Errorf("HEALTH_STATUS = %q, want %q", rec.Fields["HEALTH_STATUS"], HealthError)
	}
	if rec.Fields["IS_ACTIVE"] != "FALSE" {
		t.Errorf("IS_ACTIVE = %q, want FALSE", rec.Fields["IS_ACTIVE"])
	}
	for _, name := range PushFields {
		if _, ok := rec.Fields[name]; !ok {
			t.Errorf("fallback record missing %s", name)
		}
	}
}

// TestFetch_DerivedFields verifies chain id and native token derivation
// from the registry when sources provide neither.
func TestFetch_DerivedFields(t *testing.T) {
	a := testAggregator(
		&fakeSource{name: "publicnode", fields: map[string]string{
			"RPC_URL_1":     "https://rpc.example",
			"RPC_IS_ACTIVE": "TRUE",
		}},
	)

	rec := a.Fetch(context.Background(), "polygon")

	if rec.Fields["CHAIN_ID"] != "137" {
		t.Errorf("CHAIN_ID = %q, want 137 from the registry", rec.Fields["CHAIN_ID"])
	}
	if rec.Fields["NATIVE_TOKEN"] != "MATIC" {
		t.Errorf("NATIVE_TOKEN = %q, want MATIC from the registry", rec.Fields["NATIVE_TOKEN"])
	}
	if rec.Fields["NAME"] != "Polygon" {
		t.Errorf("NAME = %q, want Polygon", rec.Fields["NAME"])
	}
	if rec.Fields["BLOCKCHAIN_ID"] != "polygon_137" {
		t.Errorf("BLOCKCHAIN_ID = %q, want polygon_137", rec.Fields["BLOCKCHAIN_ID"])
	}
	if rec.Fields["HEALTH_STATUS"] != HealthHealthy {
		t.Errorf("HEALTH_STATUS = %q, want %q", rec.Fields["HEALTH_STATUS"], HealthHealthy)
	}
}

// TestFetch_SourceChainIDWins verifies a fetched chain id overrides the
// registry.
func TestFetch_SourceChainIDWins(t *testing.T) {
	a := testAggregator(
		&fakeSource{name: "defillama", fields: map[string]string{
			"DEFILLAMA_CHAIN_ID":     "99999",
			"DEFILLAMA_TOKEN_SYMBOL": "TEST",
		}},
	)

	rec := a.Fetch(context.Background(), "polygon")

	if rec.Fields["CHAIN_ID"] != "99999" {
		t.Errorf("CHAIN_ID = %q, want the fetched 99999", rec.Fields["CHAIN_ID"])
	}
	if rec.Fields["NATIVE_TOKEN"] != "TEST" {
		t.Errorf("NATIVE_TOKEN = %q, want the fetched TEST", rec.Fields["NATIVE_TOKEN"])
	}
}

// TestFetch_CompleteFieldSet verifies every record carries the full fixed
// field set with typed fallbacks.
func TestFetch_CompleteFieldSet(t *testing.T) {
	a := testAggregator(
		&fakeSource{name: "publicnode", fields: map[string]string{"RPC_URL_1": "https://rpc.example"}},
	)

	rec := a.Fetch(context.Background(), "gnosis")

	for _, name := range PushFields {
		if _, ok := rec.Fields[name]; !ok {
			t.Errorf("record missing %s", name)
		}
	}
	if rec.Fields["TVL_USD"] != "0" {
		t.Errorf("TVL_USD fallback = %q, want 0", rec.Fields["TVL_USD"])
	}
	if rec.Fields["RPC_URL_3"] != "" {
		t.Errorf("RPC_URL_3 fallback = %q, want empty", rec.Fields["RPC_URL_3"])
	}
}

// TestFetch_UnknownEntity verifies an unknown chain still aggregates with
// zero chain id and UNKNOWN token.
func TestFetch_UnknownEntity(t *testing.T) {
	a := testAggregator(
		&fakeSource{name: "x", fields: map[string]string{"NOTES": "hi"}},
	)

	rec := a.Fetch(context.Background(), "atlantis")

	if rec.Fields["CHAIN_ID"] != "0" {
		t.Errorf("CHAIN_ID = %q, want 0 for an unknown chain", rec.Fields["CHAIN_ID"])
	}
	if rec.Fields["NATIVE_TOKEN"] != "UNKNOWN" {
		t.Errorf("NATIVE_TOKEN = %q, want UNKNOWN", rec.Fields["NATIVE_TOKEN"])
	}
}

// TestSupportedChains verifies the registry covers the eight EVM chains
// and does not leak alias spellings as extra entries.
func TestSupportedChains(t *testing.T) {
	chains := SupportedChains()
	if len(chains) != 8 {
		t.Errorf("SupportedChains() = %d entries, want 8", len(chains))
	}
	seen := make(map[string]bool)
	for _, c := range chains {
		seen[c] = true
	}
	for _, want := range []string{"ethereum", "polygon", "bsc", "arbitrum", "optimism", "avalanche", "base", "gnosis"} {
		if !seen[want] {
			t.Errorf("SupportedChains() missing %q", want)
		}
	}
	if seen["binance"] {
		t.Error("SupportedChains() lists the binance alias alongside bsc")
	}
}

// TestChainAlias_StillResolves verifies alias spellings keep working for
// lookups even though they are not listed as chains.
func TestChainAlias_StillResolves(t *testing.T) {
	a := testAggregator(
		&fakeSource{name: "x", fields: map[string]string{"NOTES": "via alias"}},
	)

	rec := a.Fetch(context.Background(), "binance")

	if rec.Fields["CHAIN_ID"] != "56" {
		t.Errorf("CHAIN_ID = %q for binance, want 56", rec.Fields["CHAIN_ID"])
	}
	if rec.Fields["NATIVE_TOKEN"] != "BNB" {
		t.Errorf("NATIVE_TOKEN = %q for binance, want BNB", rec.Fields["NATIVE_TOKEN"])
	}
}
