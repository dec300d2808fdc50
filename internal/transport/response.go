// Package transport contains the HTTP router, middleware chain, and all
// request handlers of the dashboard API.
package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"

	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/model"
)

// maxBodyBytes bounds a decoded request body.
const maxBodyBytes = 1 << 20

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteState writes an action result. A failed action is answered with 422
// so clients can branch on the status as well as on success.
func WriteState[T any](w http.ResponseWriter, state model.ActionState[T]) {
	status := http.StatusOK
	if !state.Success {
		status = http.StatusUnprocessableEntity
	}
	WriteJSON(w, status, state)
}

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code. If err is not an *ErrorEnvelope, a generic 500 is returned.
func WriteError(w http.ResponseWriter, err error) {
	writeError(w, nil, err)
}

// WriteRequestError is WriteError that stamps the envelope with the trace id
// of r.
func WriteRequestError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, err)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ee, ok := model.AsEnvelope(err)
	if !ok {
		ee = model.NewInternalError()
	}
	status := ee.Code.HTTPStatus()

	if r != nil && ee.TraceID == "" {
		copied := *ee
		copied.TraceID = observability.TraceIDFromContext(r.Context())
		ee = &copied
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

// WriteForbidden writes a 403 error response.
func WriteForbidden(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewForbiddenError(msg))
}

// WriteValidationError writes a 422 error response with field-level details.
func WriteValidationError(w http.ResponseWriter, details []model.FieldError) {
	WriteError(w, model.NewValidationError(details))
}

// fieldErrors converts form errors to envelope details in field order.
func fieldErrors(errs map[string]string) []model.FieldError {
	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Strings(names)

	details := make([]model.FieldError, len(names))
	for i, name := range names {
		details[i] = model.FieldError{Field: name, Code: "INVALID", Message: errs[name]}
	}
	return details
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return model.NewBadRequestError("بدنه درخواست نامعتبر است.")
	}
	return nil
}

// decodeForm reads a form submission. Values may be strings, numbers or
// booleans; everything is kept as text.
func decodeForm(r *http.Request) (model.FormData, error) {
	var raw map[string]any
	if err := decodeJSON(r, &raw); err != nil {
		return nil, err
	}
	form := make(model.FormData, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			form[k] = ""
		case string:
			form[k] = val
		default:
			b, _ := json.Marshal(val)
			form[k] = string(b)
		}
	}
	return form, nil
}
