package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/dastyar/internal/lookup"
	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/model"
)

// handleLookup answers the options of a lookup, filtered by q. The other
// query parameters are the current form values a dependent lookup reads.
func handleLookup(provider *lookup.Provider, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lookupID := chi.URLParam(r, "id")
		query := r.URL.Query()

		form := model.FormData{}
		for key, values := range query {
			if key != "q" && len(values) > 0 {
				form[key] = values[0]
			}
		}

		resp, err := provider.GetLookup(r.Context(), lookupID, query.Get("q"), form)
		if err != nil {
			if env, ok := model.AsEnvelope(err); ok {
				WriteRequestError(w, r, env)
				return
			}
			observability.RequestLogger(r.Context(), logger).Warn("lookup failed",
				zap.String("lookup", lookupID),
				zap.Error(err),
			)
			WriteRequestError(w, r, model.NewBackendUnavailableError())
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
