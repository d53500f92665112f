package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/polyview/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts extracts pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := defaultListLimit
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	limit = min(limit, maxListLimit)

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{Limit: limit, Offset: offset}
}

// paginate returns the opts window of markets. The result is never nil.
func paginate(markets []domain.Market, opts domain.ListOpts) []domain.Market {
	if opts.Offset >= len(markets) {
		return []domain.Market{}
	}
	end := len(markets)
	if opts.Limit > 0 && opts.Offset+opts.Limit < end {
		end = opts.Offset + opts.Limit
	}
	return markets[opts.Offset:end]
}

// filterCategory keeps markets whose category equals category, ignoring case.
// An empty category returns markets unchanged.
func filterCategory(markets []domain.Market, category string) []domain.Market {
	category = strings.TrimSpace(category)
	if category == "" {
		return markets
	}
	out := make([]domain.Market, 0, len(markets))
	for _, m := range markets {
		if strings.EqualFold(m.Category, category) {
			out = append(out, m)
		}
	}
	return out
}
