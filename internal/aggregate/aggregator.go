// Package aggregate merges blockchain metadata from multiple upstream
// sources into one record per entity.
//
// Sources are queried concurrently under rate limits; a failing or slow
// source never aborts the others. The merged record always carries the
// full field set the sheet writer expects, substituting documented
// fallback values for fields no source provided. The worst case is an
// all-fallback record with HEALTH_STATUS=ERROR; an aggregate is never
// rejected outright.
package aggregate

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hefarica/ARBITRAGEXPLUS2025/internal/ratelimit"
	"github.com/hefarica/ARBITRAGEXPLUS2025/internal/sources"
)

// Health status values written to HEALTH_STATUS.
const (
	HealthHealthy  = "HEALTHY"
	HealthDegraded = "DEGRADED"
	HealthUnknown  = "UNKNOWN"
	HealthError    = "ERROR"
)

// PushFields is the fixed field set every record carries. Downstream
// writers assume this set per entity; missing fields get fallback values,
// never omission.
var PushFields = []string{
	"BLOCKCHAIN_ID", "NAME", "CHAIN_ID", "NATIVE_TOKEN", "SYMBOL",
	"TVL_USD", "RPC_URL_1", "RPC_URL_2", "RPC_URL_3", "WSS_URL",
	"EXPLORER_URL", "HEALTH_STATUS", "IS_ACTIVE", "NOTES",
	"AGGREGATED_AT", "FETCH_TIME_MS",
}

// Record is the merged result for one entity. It is a transient value;
// it is not persisted independently of the sheet write.
type Record struct {
	// Entity is the requested entity key.
	Entity string
	// Fields holds the merged field values, always covering PushFields.
	Fields map[string]string
	// Elapsed is the total wall time of the fan-out.
	Elapsed time.Duration
	// SourceOK records which sources contributed.
	SourceOK map[string]bool
}

// Config holds aggregator tuning.
type Config struct {
	// AcquireTimeout bounds the rate-limiter wait per source.
	AcquireTimeout time.Duration
	// FetchTimeout bounds each source fetch.
	FetchTimeout time.Duration
	// Logger for aggregation activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		AcquireTimeout: 5 * time.Second,
		FetchTimeout:   10 * time.Second,
		Logger:         log.New(os.Stderr, "[aggregate] ", log.LstdFlags),
	}
}

// Aggregator fans out to the configured sources and merges their results.
type Aggregator struct {
	srcs    []sources.Source
	limiter *ratelimit.Limiter
	config  *Config
}

// New creates an Aggregator. srcs are in merge priority order: a later
// source overrides an earlier one, but only for fields it provides.
func New(srcs []sources.Source, limiter *ratelimit.Limiter, config *Config) *Aggregator {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[aggregate] ", log.LstdFlags)
	}
	return &Aggregator{srcs: srcs, limiter: limiter, config: config}
}

// Fetch aggregates data for one entity. It never returns an error: source
// failures degrade to fallback fields and are reflected in HEALTH_STATUS.
func (a *Aggregator) Fetch(ctx context.Context, entity string) *Record {
	start := time.Now()

	results := make([]map[string]string, len(a.srcs))
	var wg sync.WaitGroup
	for i, src := range a.srcs {
		wg.Add(1)
		go func(i int, src sources.Source) {
			defer wg.Done()
			results[i] = a.fetchOne(ctx, src, entity)
		}(i, src)
	}
	wg.Wait()

	rec := &Record{
		Entity:   entity,
		Fields:   make(map[string]string),
		SourceOK: make(map[string]bool, len(a.srcs)),
	}

	succeeded := 0
	for i, src := range a.srcs {
		ok := results[i] != nil
		rec.SourceOK[src.Name()] = ok
		if !ok {
			continue
		}
		succeeded++
		// Last-write-wins by priority order; empty values are skipped so a
		// source never blanks a field it has no opinion on.
		for k, v := range results[i] {
			if v != "" {
				rec.Fields[k] = v
			}
		}
	}

	if succeeded == 0 {
		a.config.Logger.Printf("WARNING: all sources failed for %q, emitting fallback record", entity)
		rec.Fields = fallbackFields(entity)
	} else {
		a.derive(rec, entity, succeeded)
	}

	rec.Elapsed = time.Since(start)
	rec.Fields["AGGREGATED_AT"] = time.Now().UTC().Format(time.RFC3339)
	rec.Fields["FETCH_TIME_MS"] = strconv.FormatInt(rec.Elapsed.Milliseconds(), 10)
	ensureFields(rec.Fields)

	a.config.Logger.Printf("aggregated %q: %d/%d sources, %d fields, %s",
		entity, succeeded, len(a.srcs), len(rec.Fields), rec.Elapsed.Round(time.Millisecond))

	return rec
}

// fetchOne queries a single source under its rate limit. A nil result
// marks the source as failed.
func (a *Aggregator) fetchOne(ctx context.Context, src sources.Source, entity string) map[string]string {
	acquireCtx, cancel := context.WithTimeout(ctx, a.config.AcquireTimeout)
	defer cancel()
	if !a.limiter.Acquire(acquireCtx, src.Name()) {
		a.config.Logger.Printf("WARNING: rate limit acquire timed out for %s", src.Name())
		return nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, a.config.FetchTimeout)
	defer cancel()
	fields, err := src.Fetch(fetchCtx, entity)
	if err != nil {
		a.config.Logger.Printf("WARNING: %s fetch failed for %q: %v", src.Name(), entity, err)
		return nil
	}
	return fields
}

// derive computes the combined fields from whichever sources succeeded.
func (a *Aggregator) derive(rec *Record, entity string, succeeded int) {
	key := strings.ToLower(strings.TrimSpace(entity))

	chainID := a.chainID(key, rec.Fields)
	token := a.nativeToken(key, rec.Fields)

	rec.Fields["BLOCKCHAIN_ID"] = key + "_" + strconv.FormatInt(chainID, 10)
	rec.Fields["NAME"] = capitalize(key)
	rec.Fields["CHAIN_ID"] = strconv.FormatInt(chainID, 10)
	rec.Fields["NATIVE_TOKEN"] = token
	rec.Fields["SYMBOL"] = token
	rec.Fields["IS_ACTIVE"] = "TRUE"
	rec.Fields["HEALTH_STATUS"] = a.health(rec.Fields, succeeded)
}

// health classifies the aggregate: every source answered and the RPC is
// active means HEALTHY, partial answers mean DEGRADED, otherwise UNKNOWN.
func (a *Aggregator) health(fields map[string]string, succeeded int) string {
	if succeeded < len(a.srcs) {
		return HealthDegraded
	}
	if fields["RPC_IS_ACTIVE"] == "TRUE" {
		return HealthHealthy
	}
	return HealthUnknown
}

// chainID resolves the numeric chain id from fetched fields, falling back
// to the known-chain registry, then zero.
func (a *Aggregator) chainID(key string, fields map[string]string) int64 {
	for _, field := range []string{"DEFILLAMA_CHAIN_ID", "LLAMANODES_CHAIN_ID", "PUBLICNODE_CHAIN_ID"} {
		if v := fields[field]; v != "" {
			if id, err := strconv.ParseInt(v, 10, 64); err == nil {
				return id
			}
		}
	}
	return chainIDs[key]
}

// nativeToken resolves the native token symbol from fetched fields,
// falling back to the known-chain registry, then "UNKNOWN".
func (a *Aggregator) nativeToken(key string, fields map[string]string) string {
	if v := fields["DEFILLAMA_TOKEN_SYMBOL"]; v != "" {
		return v
	}
	if v, ok := nativeTokens[key]; ok {
		return v
	}
	return "UNKNOWN"
}

// fallbackFields is the all-fallback record used when every source failed.
func fallbackFields(entity string) map[string]string {
	key := strings.ToLower(strings.TrimSpace(entity))
	return map[string]string{
		"BLOCKCHAIN_ID": key,
		"NAME":          capitalize(key),
		"CHAIN_ID":      "0",
		"NATIVE_TOKEN":  "UNKNOWN",
		"SYMBOL":        "UNKNOWN",
		"TVL_USD":       "0",
		"HEALTH_STATUS": HealthError,
		"IS_ACTIVE":     "FALSE",
		"NOTES":         "error fetching data - using fallback",
	}
}

// ensureFields fills any missing field of the fixed set with its typed
// fallback.
func ensureFields(fields map[string]string) {
	for _, name := range PushFields {
		if _, ok := fields[name]; ok {
			continue
		}
		switch name {
		case "CHAIN_ID", "TVL_USD", "FETCH_TIME_MS":
			fields[name] = "0"
		case "NATIVE_TOKEN", "SYMBOL":
			fields[name] = "UNKNOWN"
		case "HEALTH_STATUS":
			fields[name] = HealthUnknown
		case "IS_ACTIVE":
			fields[name] = "FALSE"
		default:
			fields[name] = ""
		}
	}
}

// capitalize uppercases the first letter of an ASCII name.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
