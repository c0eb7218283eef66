package domain

import "context"

// QuoteSource fetches the current top-of-book quote for a pair from one
// external market. Implementations must honour ctx cancellation.
type QuoteSource interface {
	ID() string
	FetchQuote(ctx context.Context, pair string) (RawQuote, error)
}

// OrderbookSource fetches a depth-limited book for a pair from one market.
type OrderbookSource interface {
	ID() string
	FetchOrderbook(ctx context.Context, pair string, depth int) (OrderbookSnapshot, error)
}
