// Package sources contains the upstream data source clients the
// aggregator fans out to.
//
// Each source exposes the same narrow contract: fetch the raw field values
// it knows about for one entity, or fail. Sources are independent; the
// aggregator is responsible for merging and for tolerating failures.
package sources

import "context"

// Source fetches raw field values for one entity (a blockchain name).
//
// Fetch must respect the context deadline. The returned map uses the
// shared field-name vocabulary (RPC_URL_1, TVL_USD, ...); a source only
// reports fields it has an opinion on.
type Source interface {
	Name() string
	Fetch(ctx context.Context, entity string) (map[string]string, error)
}
