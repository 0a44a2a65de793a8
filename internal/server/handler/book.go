package handler

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/alanyoungcy/cmibot/internal/domain"
)

// BookHandler serves the latest streamed order books.
type BookHandler struct {
	status StatusReader
	logger *slog.Logger
}

// NewBookHandler creates a BookHandler.
func NewBookHandler(status StatusReader, logger *slog.Logger) *BookHandler {
	return &BookHandler{status: status, logger: logHandler(logger, "book")}
}

type bookView struct {
	domain.OrderBook
	BestBid *float64 `json:"best_bid,omitempty"`
	BestAsk *float64 `json:"best_ask,omitempty"`
	Mid     *float64 `json:"mid,omitempty"`
}

func viewOf(b domain.OrderBook) bookView {
	v := bookView{OrderBook: b}
	if p, ok := b.BestBid(); ok {
		v.BestBid = &p
	}
	if p, ok := b.BestAsk(); ok {
		v.BestAsk = &p
	}
	if p, ok := b.Mid(); ok {
		v.Mid = &p
	}
	return v
}

// ListProducts returns the product catalogue loaded at startup.
// GET /api/products
func (h *BookHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"products": h.status.Catalogue()})
}

// ListBooks returns every latest book ordered by product.
// GET /api/books
func (h *BookHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	all := h.status.Books()
	out := make([]bookView, 0, len(all))
	for _, b := range all {
		out = append(out, viewOf(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Product < out[j].Product })
	writeJSON(w, http.StatusOK, map[string]any{"books": out})
}

// GetBook returns the latest book for one product.
// GET /api/books/{product}
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	product := r.PathValue("product")
	b, ok := h.status.Book(r.Context(), product)
	if !ok {
		writeError(w, http.StatusNotFound, "no book for "+product)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(b))
}
