package transport

import (
	"net/http"

	"github.com/pitabwire/dastyar/internal/metadata"
)

func handleNavigation(menu *metadata.MenuProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tree, err := menu.GetMenu(r.Context(), CapabilitiesFrom(r.Context()))
		if err != nil {
			WriteRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, tree)
	}
}
