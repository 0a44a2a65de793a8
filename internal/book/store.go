// Package book holds the latest order book snapshot per product.
package book

import (
	"sort"
	"sync"

	"github.com/alanyoungcy/cmibot/internal/domain"
)

// Listener is notified after a snapshot has been stored.
type Listener func(domain.OrderBook)

// Store is a latest-value cache of order books keyed by product. It is safe
// for concurrent use: the stream writes while strategies and the status API
// read. A Put replaces the previous snapshot for that product wholesale.
type Store struct {
	mu        sync.RWMutex
	books     map[string]domain.OrderBook
	listeners []Listener
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{books: make(map[string]domain.OrderBook)}
}

// OnUpdate registers fn to run after every Put. Listeners are called on the
// writer's goroutine outside the lock and must not block.
func (s *Store) OnUpdate(fn Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Put stores b as the latest snapshot for b.Product.
func (s *Store) Put(b domain.OrderBook) {
	s.mu.Lock()
	s.books[b.Product] = b
	listeners := s.listeners
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(b)
	}
}

// Get returns the latest snapshot for product.
func (s *Store) Get(product string) (domain.OrderBook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[product]
	return b, ok
}

// GetAll returns the snapshots for products, and false if any is missing.
func (s *Store) GetAll(products []string) (map[string]domain.OrderBook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.OrderBook, len(products))
	for _, p := range products {
		b, ok := s.books[p]
		if !ok {
			return nil, false
		}
		out[p] = b
	}
	return out, true
}

// Snapshot returns a copy of the product → book map.
func (s *Store) Snapshot() map[string]domain.OrderBook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.OrderBook, len(s.books))
	for k, v := range s.books {
		out[k] = v
	}
	return out
}

// Products returns the symbols with a stored snapshot, sorted.
func (s *Store) Products() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.books))
	for k := range s.books {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of products with a snapshot.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.books)
}
