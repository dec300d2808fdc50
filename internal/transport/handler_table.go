package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/dastyar/internal/table"
	"github.com/pitabwire/dastyar/model"
)

func handleTable(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		desc, err := deps.Tables.GetTable(CapabilitiesFrom(r.Context()), chi.URLParam(r, "entity"))
		if err != nil {
			WriteRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, desc)
	}
}

// tableRows is one refreshed page with the actions each row allows.
type tableRows struct {
	table.View
	State   table.State                         `json:"state"`
	Actions map[string][]model.ActionDescriptor `json:"actions"`
}

// handleRows fetches one page of a table. Count and rows are fetched
// together; either may fail on its own and is reported in the view.
func handleRows(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		def, ok := entityFor(w, r, deps, model.OpView)
		if !ok {
			return
		}
		caps := CapabilitiesFrom(r.Context())

		state := table.ParseState(r.URL.Query(), table.NewState(def, deps.Config.Table))
		engine := table.NewEngine(deps.Actions.Rows(), def, deps.Logger, deps.Metrics)
		view := engine.Refresh(r.Context(), state)

		resp := tableRows{
			View:    view,
			State:   state,
			Actions: make(map[string][]model.ActionDescriptor, len(view.Rows)),
		}
		if resp.Rows == nil {
			resp.Rows = []model.RecordRow{}
		}
		for _, row := range view.Rows {
			resp.Actions[row.ID] = deps.RowActions.ForRow(def, caps, rowFields{row})
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// rowFields exposes the status and client type of a row next to its data,
// so action conditions can test them.
type rowFields struct {
	row model.RecordRow
}

func (f rowFields) Field(key string) (any, bool) {
	switch key {
	case "status":
		return f.row.Status, true
	case "type":
		return string(f.row.Type), true
	}
	return f.row.Data.Field(key)
}
