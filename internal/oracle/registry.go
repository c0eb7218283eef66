package oracle

import (
	"sort"
	"sync"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// Registry maps source ids to their quote and order book implementations.
// A venue usually registers under both.
type Registry struct {
	mu     sync.RWMutex
	quotes map[string]domain.QuoteSource
	books  map[string]domain.OrderbookSource
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		quotes: make(map[string]domain.QuoteSource),
		books:  make(map[string]domain.OrderbookSource),
	}
}

// RegisterQuote adds or replaces a quote source under its ID.
func (r *Registry) RegisterQuote(src domain.QuoteSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quotes[src.ID()] = src
}

// RegisterBook adds or replaces an order book source under its ID.
func (r *Registry) RegisterBook(src domain.OrderbookSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.books[src.ID()] = src
}

// Quote looks up a quote source.
func (r *Registry) Quote(id string) (domain.QuoteSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.quotes[id]
	return src, ok
}

// Book looks up an order book source.
func (r *Registry) Book(id string) (domain.OrderbookSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.books[id]
	return src, ok
}

// QuoteIDs returns the registered quote source ids, sorted.
func (r *Registry) QuoteIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.quotes))
	for id := range r.quotes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// BookIDs returns the registered order book source ids, sorted.
func (r *Registry) BookIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.books))
	for id := range r.books {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
