// Package openapi builds the OpenAPI description of the dashboard API from
// the loaded entity definitions.
package openapi

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sort"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/pitabwire/dastyar/model"
)

// BasePath prefixes every documented route.
const BasePath = "/api/v1"

const securityScheme = "bearer"

// Build generates and validates the document for defs. Entities are
// emitted in name order so the output is stable.
func Build(defs []model.EntityDefinition, version string) (*openapi3.T, error) {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:   "dastyar",
			Version: version,
		},
		Components: &openapi3.Components{
			SecuritySchemes: openapi3.SecuritySchemes{
				securityScheme: &openapi3.SecuritySchemeRef{Value: openapi3.NewJWTSecurityScheme()},
			},
		},
		Security: *openapi3.NewSecurityRequirements().
			With(openapi3.NewSecurityRequirement().Authenticate(securityScheme)),
	}

	sorted := slices.Clone(defs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Entity < sorted[j].Entity })

	addStatic(doc)
	for _, def := range sorted {
		addEntity(doc, def)
	}

	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("openapi: generated document is invalid: %w", err)
	}
	return doc, nil
}

// OperationIDs lists the operation ids of doc, sorted.
func OperationIDs(doc *openapi3.T) []string {
	var ids []string
	for _, item := range doc.Paths.Map() {
		for _, op := range item.Operations() {
			if op.OperationID != "" {
				ids = append(ids, op.OperationID)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// Operation finds the operation with the given id.
func Operation(doc *openapi3.T, id string) (path, method string, op *openapi3.Operation, ok bool) {
	for p, item := range doc.Paths.Map() {
		for m, o := range item.Operations() {
			if o.OperationID == id {
				return p, m, o, true
			}
		}
	}
	return "", "", nil, false
}

func addStatic(doc *openapi3.T) {
	login := newOperation("auth.login", "Sign in with email and password", actionStateSchema(openapi3.NewStringSchema()))
	login.Security = openapi3.NewSecurityRequirements()
	login.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().
		WithRequired(true).
		WithJSONSchema(openapi3.NewObjectSchema().
			WithProperty("email", openapi3.NewStringSchema()).
			WithProperty("password", openapi3.NewStringSchema()).
			WithRequired([]string{"email", "password"}))}
	doc.AddOperation(BasePath+"/auth/login", http.MethodPost, login)

	doc.AddOperation(BasePath+"/auth/logout", http.MethodPost,
		newOperation("auth.logout", "Revoke the current token", actionStateSchema(openapi3.NewStringSchema())))
	doc.AddOperation(BasePath+"/navigation", http.MethodGet,
		newOperation("navigation", "Navigation tree of the operator", openapi3.NewObjectSchema()))

	lookup := newOperation("lookups.get", "Options of a lookup", openapi3.NewObjectSchema())
	lookup.AddParameter(openapi3.NewPathParameter("id").WithSchema(openapi3.NewStringSchema()))
	lookup.AddParameter(openapi3.NewQueryParameter("q").WithSchema(openapi3.NewStringSchema()))
	doc.AddOperation(BasePath+"/lookups/{id}", http.MethodGet, lookup)

	search := newOperation("search", "Global search across the entities the operator can view", openapi3.NewObjectSchema())
	search.AddParameter(openapi3.NewQueryParameter("q").WithSchema(openapi3.NewStringSchema().WithMinLength(2)).WithRequired(true))
	search.AddParameter(openapi3.NewQueryParameter("entity").WithSchema(openapi3.NewStringSchema()))
	search.AddParameter(openapi3.NewQueryParameter("page").WithSchema(openapi3.NewIntegerSchema()))
	search.AddParameter(openapi3.NewQueryParameter("page_size").WithSchema(openapi3.NewIntegerSchema().WithMax(50)))
	doc.AddOperation(BasePath+"/search", http.MethodGet, search)

	callback := newOperation("jobs.callback", "Job status reported by the workflow engine", actionStateSchema(openapi3.NewObjectSchema()))
	callback.Security = openapi3.NewSecurityRequirements()
	callback.AddParameter(openapi3.NewPathParameter("id").WithSchema(openapi3.NewStringSchema()))
	callback.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().
		WithRequired(true).
		WithJSONSchema(openapi3.NewObjectSchema().
			WithProperty("status", openapi3.NewStringSchema().WithEnum(
				string(model.JobPending), string(model.JobDone), string(model.JobError))).
			WithRequired([]string{"status"}))}
	doc.AddOperation(BasePath+"/jobs/{id}/callback", http.MethodPost, callback)
}

func addEntity(doc *openapi3.T, def model.EntityDefinition) {
	et := string(def.Entity)
	tables := BasePath + "/tables/" + et
	entities := BasePath + "/entities/" + et
	item := entities + "/{id}"

	doc.AddOperation(tables, http.MethodGet,
		newOperation(et+".table", "Table descriptor of "+et, openapi3.NewObjectSchema()))

	rows := newOperation(et+".rows", "One page of "+et+" rows", openapi3.NewObjectSchema())
	for _, q := range []string{"search", "status", "type", "sort", "dir", "columns"} {
		rows.AddParameter(openapi3.NewQueryParameter(q).WithSchema(openapi3.NewStringSchema()))
	}
	for _, q := range []string{"page", "rows_per_page"} {
		rows.AddParameter(openapi3.NewQueryParameter(q).WithSchema(openapi3.NewIntegerSchema()))
	}
	doc.AddOperation(tables+"/rows", http.MethodGet, rows)

	for _, op := range []model.Operation{model.OpAdd, model.OpEdit} {
		if len(def.FieldsFor(op)) == 0 {
			continue
		}
		form := newOperation(et+"."+string(op)+".form", "Form descriptor", openapi3.NewObjectSchema())
		idQuery(form, op)
		doc.AddOperation(BasePath+"/forms/"+et+"/"+string(op), http.MethodGet, form)

		validate := newOperation(et+"."+string(op)+".validate", "Field errors of a form", openapi3.NewObjectSchema())
		validate.RequestBody = formBody(def.FieldsFor(op), false)
		doc.AddOperation(BasePath+"/forms/"+et+"/"+string(op)+"/validate", http.MethodPost, validate)
	}

	if len(def.AddFields) > 0 {
		add := newOperation(et+".add", "Create a "+et, actionStateSchema(openapi3.NewStringSchema()))
		add.RequestBody = formBody(def.AddFields, true)
		idempotencyHeader(add)
		doc.AddOperation(entities, http.MethodPost, add)
	}

	view := newOperation(et+".view", "Formatted values of one "+et, openapi3.NewObjectSchema())
	pathID(view)
	doc.AddOperation(item, http.MethodGet, view)

	if len(def.EditFields) > 0 {
		update := newOperation(et+".edit", "Update a "+et, actionStateSchema(openapi3.NewStringSchema()))
		pathID(update)
		update.RequestBody = formBody(def.EditFields, true)
		idempotencyHeader(update)
		doc.AddOperation(item, http.MethodPut, update)
	}

	del := newOperation(et+".delete", "Delete a "+et, actionStateSchema(openapi3.NewBoolSchema()))
	pathID(del)
	doc.AddOperation(item, http.MethodDelete, del)

	deps := newOperation(et+".dependencies", "Whether a "+et+" can be deleted", actionStateSchema(openapi3.NewBoolSchema()))
	pathID(deps)
	doc.AddOperation(item+"/dependencies", http.MethodGet, deps)

	jobs := newOperation(et+".jobs", "Submit the jobs of an operation", actionStateSchema(openapi3.NewArraySchema().WithItems(jobSchema())))
	pathID(jobs)
	jobs.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().
		WithRequired(true).
		WithJSONSchema(openapi3.NewObjectSchema().
			WithProperty("operation", openapi3.NewStringSchema().WithEnum(
				string(model.OpView), string(model.OpEdit), string(model.OpDelete), string(model.OpAdd))).
			WithRequired([]string{"operation"}))}
	doc.AddOperation(item+"/jobs", http.MethodPost, jobs)

	stream := newOperation(et+".jobs.stream", "Server-sent job snapshots", nil)
	pathID(stream)
	stream.Responses = openapi3.NewResponses(openapi3.WithStatus(http.StatusOK,
		&openapi3.ResponseRef{Value: openapi3.NewResponse().
			WithDescription("text/event-stream of job snapshots").
			WithContent(openapi3.Content{"text/event-stream": openapi3.NewMediaType().
				WithSchema(openapi3.NewStringSchema())})}))
	doc.AddOperation(item+"/jobs/stream", http.MethodGet, stream)
}

func newOperation(id, summary string, ok *openapi3.Schema) *openapi3.Operation {
	op := openapi3.NewOperation()
	op.OperationID = id
	op.Summary = summary
	op.Responses = openapi3.NewResponses()
	if ok != nil {
		op.AddResponse(http.StatusOK, openapi3.NewResponse().
			WithDescription("OK").
			WithJSONSchema(ok))
	}
	op.AddResponse(0, openapi3.NewResponse().
		WithDescription("Error envelope").
		WithJSONSchema(errorSchema()))
	return op
}

func pathID(op *openapi3.Operation) {
	op.AddParameter(openapi3.NewPathParameter("id").WithSchema(openapi3.NewStringSchema()))
}

func idQuery(op *openapi3.Operation, form model.Operation) {
	if form == model.OpEdit {
		op.AddParameter(openapi3.NewQueryParameter("id").WithSchema(openapi3.NewStringSchema()))
	}
}

func idempotencyHeader(op *openapi3.Operation) {
	op.AddParameter(openapi3.NewHeaderParameter("X-Idempotency-Key").WithSchema(openapi3.NewStringSchema()))
}

// formBody describes a form submission. Every value travels as a string;
// required fields are listed only when enforce is set.
func formBody(fields []model.FieldConfig, enforce bool) *openapi3.RequestBodyRef {
	schema := openapi3.NewObjectSchema()
	var required []string
	for _, f := range fields {
		schema.WithProperty(f.Name(), fieldSchema(f))
		if enforce && f.Required {
			required = append(required, f.Name())
		}
	}
	if len(required) > 0 {
		schema.WithRequired(required)
	}
	return &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().
		WithRequired(true).
		WithJSONSchema(schema)}
}

func fieldSchema(f model.FieldConfig) *openapi3.Schema {
	s := openapi3.NewStringSchema()
	s.Title = f.Label
	switch w := f.Widget.(type) {
	case model.SelectWidget:
		if len(w.Options) > 0 {
			values := make([]any, len(w.Options))
			for i, o := range w.Options {
				values[i] = o.Value
			}
			s.Enum = values
		}
	case model.NumberWidget:
		s.Pattern = `^[0-9۰-۹٠-٩.,]*$`
	case model.DateWidget:
		s.Format = "date"
	case model.InputWidget, model.TextareaWidget, nil:
	}
	return s
}

func actionStateSchema(data *openapi3.Schema) *openapi3.Schema {
	return openapi3.NewObjectSchema().
		WithProperty("message", openapi3.NewStringSchema()).
		WithProperty("success", openapi3.NewBoolSchema()).
		WithProperty("data", data).
		WithRequired([]string{"message", "success"})
}

func jobSchema() *openapi3.Schema {
	return openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewStringSchema()).
		WithProperty("name", openapi3.NewStringSchema()).
		WithProperty("url", openapi3.NewStringSchema()).
		WithProperty("status", openapi3.NewStringSchema())
}

func errorSchema() *openapi3.Schema {
	envelope := openapi3.NewObjectSchema().
		WithProperty("code", openapi3.NewStringSchema()).
		WithProperty("message", openapi3.NewStringSchema()).
		WithProperty("trace_id", openapi3.NewStringSchema())
	return openapi3.NewObjectSchema().WithProperty("error", envelope)
}
