package fetcher

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceFetcher retrieves the latest price for a single symbol pair.
type PriceFetcher interface {
	FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Pair holds the two quotes a snapshot is derived from.
type Pair struct {
	Metal decimal.Decimal
	FX    decimal.Decimal
}

// FetchPair fetches the metal quote, then the FX rate. Either failure aborts the pair.
func FetchPair(ctx context.Context, f PriceFetcher, metalSymbol, fxSymbol string) (Pair, error) {
	metal, err := f.FetchPrice(ctx, metalSymbol)
	if err != nil {
		return Pair{}, fmt.Errorf("fetch %s: %w", metalSymbol, err)
	}

	fx, err := f.FetchPrice(ctx, fxSymbol)
	if err != nil {
		return Pair{}, fmt.Errorf("fetch %s: %w", fxSymbol, err)
	}

	return Pair{Metal: metal, FX: fx}, nil
}
