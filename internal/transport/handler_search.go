package transport

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/internal/search"
	"github.com/pitabwire/dastyar/model"
)

// handleSearch answers the global search box: q across every entity the
// operator can view, optionally narrowed to one entity.
func handleSearch(provider *search.Provider, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		page, _ := strconv.Atoi(query.Get("page"))
		pageSize, _ := strconv.Atoi(query.Get("page_size"))

		resp, err := provider.Search(r.Context(), CapabilitiesFrom(r.Context()), query.Get("q"), search.Pagination{
			Page:     page,
			PageSize: pageSize,
			Entity:   query.Get("entity"),
		})
		if err != nil {
			if env, ok := model.AsEnvelope(err); ok {
				WriteRequestError(w, r, env)
				return
			}
			observability.RequestLogger(r.Context(), logger).Warn("search failed", zap.Error(err))
			WriteRequestError(w, r, model.NewBackendUnavailableError())
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
