package transport

import (
	"maps"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/dastyar/internal/crud"
	"github.com/pitabwire/dastyar/model"
)

// formOperation parses the {op} URL parameter; only add and edit have forms.
func formOperation(w http.ResponseWriter, r *http.Request) (model.Operation, bool) {
	op, err := model.ParseOperation(chi.URLParam(r, "op"))
	if err != nil || (op != model.OpAdd && op != model.OpEdit) {
		WriteRequestError(w, r, model.NewBadRequestError("عملیات فرم نامعتبر است."))
		return "", false
	}
	return op, true
}

// handleGetForm renders an add or edit form. Query parameters other than id
// are in-progress values; a dependent select is rendered against them.
func handleGetForm(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		op, ok := formOperation(w, r)
		if !ok {
			return
		}
		query := r.URL.Query()
		values := model.FormData{}
		for key, v := range query {
			if key != "id" && len(v) > 0 {
				values[key] = v[0]
			}
		}

		desc, err := deps.Forms.GetForm(r.Context(), CapabilitiesFrom(r.Context()),
			chi.URLParam(r, "entity"), op, query.Get("id"), values)
		if err != nil {
			writeLoadError(w, r, deps, err)
			return
		}
		WriteJSON(w, http.StatusOK, desc)
	}
}

// validationResult lists the field errors of a form.
type validationResult struct {
	Valid  bool              `json:"valid"`
	Errors map[string]string `json:"errors"`
}

// handleValidateForm re-validates the fields the operator has touched. The
// touched query parameter lists them, comma separated; without it every
// posted key counts as touched. Fields not yet reached never report errors,
// the full check runs on submit.
func handleValidateForm(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		op, ok := formOperation(w, r)
		if !ok {
			return
		}
		def, ok := entityFor(w, r, deps, op)
		if !ok {
			return
		}
		form, err := decodeForm(r)
		if err != nil {
			WriteRequestError(w, r, err)
			return
		}

		session := crud.NewSession(def, op, crud.SessionConfig{Logger: deps.Logger, Metrics: deps.Metrics})
		defer session.Close()
		if err := session.Open(form); err != nil {
			WriteRequestError(w, r, model.NewConflictError(err.Error()))
			return
		}

		errs := map[string]string{}
		for _, name := range touchedFields(r, form) {
			if errs, err = session.Change(name, form[name]); err != nil {
				WriteRequestError(w, r, model.NewInternalError())
				return
			}
		}
		WriteJSON(w, http.StatusOK, validationResult{Valid: len(errs) == 0, Errors: errs})
	}
}

func touchedFields(r *http.Request, form model.FormData) []string {
	if list := r.URL.Query().Get("touched"); list != "" {
		var names []string
		for name := range strings.SplitSeq(list, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
		return names
	}
	return slices.Sorted(maps.Keys(form))
}
