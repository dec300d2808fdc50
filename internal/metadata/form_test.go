package metadata

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/pitabwire/dastyar/internal/persian"
	"github.com/pitabwire/dastyar/internal/store"
	"github.com/pitabwire/dastyar/model"
)

type fakeOptions struct {
	calls int
	err   error
}

func (f *fakeOptions) Options(_ context.Context, source string, _ model.FormData) ([]model.OptionDescriptor, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []model.OptionDescriptor{{Label: "سارا احمدی", Value: "1"}}, nil
}

func newFormProvider(t *testing.T, mem *store.MemoryStore, opts *fakeOptions) *FormProvider {
	t.Helper()
	return NewFormProvider(testRegistry(t), mem, opts, NewActionProvider("/api/v1"), nil)
}

func field(t *testing.T, desc model.FormDescriptor, key string) model.FieldDescriptor {
	t.Helper()
	for _, f := range desc.Fields {
		if f.Key == key {
			return f
		}
	}
	t.Fatalf("field %q not rendered", key)
	return model.FieldDescriptor{}
}

func TestGetForm_Add(t *testing.T) {
	opts := &fakeOptions{}
	p := newFormProvider(t, store.NewMemoryStore(), opts)

	desc, err := p.GetForm(context.Background(), allCaps(), "preOrder", model.OpAdd, "", nil)
	if err != nil {
		t.Fatalf("GetForm() error = %v", err)
	}

	if desc.ID != "pre_order.add" || desc.Title != "افزودن پیش سفارش" {
		t.Errorf("id = %q title = %q", desc.ID, desc.Title)
	}
	if desc.SubmitEndpoint != "/api/v1/entities/pre_order" || desc.SubmitMethod != http.MethodPost {
		t.Errorf("submit = %s %s", desc.SubmitMethod, desc.SubmitEndpoint)
	}
	if len(desc.Fields) != 3 {
		t.Fatalf("fields = %d, want 3", len(desc.Fields))
	}

	client := field(t, desc, "client_id")
	if client.Type != model.WidgetSelect || len(client.Options) != 1 || client.Options[0].Value != "1" {
		t.Errorf("client_id = %+v", client)
	}
	amount := field(t, desc, "estimated_amount")
	if amount.Type != model.WidgetNumber || !amount.DigitAware || amount.Unit != "ریال" {
		t.Errorf("estimated_amount = %+v", amount)
	}
	if opts.calls != 1 {
		t.Errorf("option lookups = %d, want 1", opts.calls)
	}
}

func TestGetForm_AddKeepsInProgressValues(t *testing.T) {
	p := newFormProvider(t, store.NewMemoryStore(), &fakeOptions{})

	desc, err := p.GetForm(context.Background(), allCaps(), "client", model.OpAdd, "", model.FormData{"name": "علی"})
	if err != nil {
		t.Fatalf("GetForm() error = %v", err)
	}
	if got := field(t, desc, "name").Value; got != "علی" {
		t.Errorf("name = %q, want علی", got)
	}
}

func TestGetForm_LookupFailureRendersEmptySelect(t *testing.T) {
	p := newFormProvider(t, store.NewMemoryStore(), &fakeOptions{err: errors.New("timeout")})

	desc, err := p.GetForm(context.Background(), allCaps(), "order", model.OpAdd, "", nil)
	if err != nil {
		t.Fatalf("GetForm() error = %v", err)
	}
	if got := field(t, desc, "client_id").Options; got == nil || len(got) != 0 {
		t.Errorf("client_id options = %#v, want empty", got)
	}
}

func TestGetForm_EditPrefilled(t *testing.T) {
	mem := store.NewMemoryStore()
	id := insert(t, mem, store.TablePreOrder, map[string]any{
		"client_name": "سارا احمدی",
		"description": "نصب کابینت",
		"status":      "approved",
	})
	p := newFormProvider(t, mem, &fakeOptions{})

	desc, err := p.GetForm(context.Background(), allCaps(), "pre_order", model.OpEdit, id, model.FormData{"status": "converted"})
	if err != nil {
		t.Fatalf("GetForm() error = %v", err)
	}

	if desc.SubmitEndpoint != "/api/v1/entities/pre_order/"+id || desc.SubmitMethod != http.MethodPut {
		t.Errorf("submit = %s %s", desc.SubmitMethod, desc.SubmitEndpoint)
	}
	if len(desc.Jobs) != 2 || desc.Jobs[0].Name != "ویرایش پیش سفارش" {
		t.Errorf("jobs = %+v", desc.Jobs)
	}
	if got := field(t, desc, "description").Value; got != "نصب کابینت" {
		t.Errorf("description = %q", got)
	}
	if got := field(t, desc, "estimated_amount").Value; got != "" {
		t.Errorf("unset estimated_amount = %q, want empty", got)
	}
	if got := field(t, desc, "status").Value; got != "converted" {
		t.Errorf("status = %q, want the in-progress value", got)
	}
}

func TestGetForm_Errors(t *testing.T) {
	p := newFormProvider(t, store.NewMemoryStore(), &fakeOptions{})

	tests := []struct {
		name   string
		caps   model.CapabilitySet
		entity string
		op     model.Operation
		id     string
		code   model.ErrorCode
	}{
		{"unknown entity", allCaps(), "shipment", model.OpAdd, "", model.ErrNotFound},
		{"no add capability", viewOnly(), "client", model.OpAdd, "", model.ErrForbidden},
		{"no add form", allCaps(), "invoice", model.OpAdd, "", model.ErrNotFound},
		{"edit without id", allCaps(), "order", model.OpEdit, "", model.ErrBadRequest},
		{"edit unknown row", allCaps(), "order", model.OpEdit, "404", model.ErrNotFound},
		{"delete has no form", allCaps(), "order", model.OpDelete, "1", model.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.GetForm(context.Background(), tt.caps, tt.entity, tt.op, tt.id, nil)
			var env *model.ErrorEnvelope
			if !errors.As(err, &env) || env.Code != tt.code {
				t.Errorf("err = %v, want code %s", err, tt.code)
			}
		})
	}
}

func TestGetView(t *testing.T) {
	mem := store.NewMemoryStore()
	created := time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)
	unset := insert(t, mem, store.TablePreOrder, map[string]any{
		"client_name": "سارا احمدی",
		"description": "نصب کابینت",
		"status":      "pending",
		"created_at":  created,
	})
	priced := insert(t, mem, store.TablePreOrder, map[string]any{
		"client_name":      "سارا احمدی",
		"description":      "نصب کابینت",
		"estimated_amount": 1500000.0,
		"status":           "approved",
		"created_at":       created,
	})
	p := newFormProvider(t, mem, nil)

	desc, err := p.GetView(context.Background(), viewOnly(), "pre_order", unset)
	if err != nil {
		t.Fatalf("GetView() error = %v", err)
	}
	if desc.Title != "مشاهده جزئیات پیش سفارش" || desc.ID != unset || desc.Status != "pending" {
		t.Errorf("view = %+v", desc)
	}

	want := map[string]string{
		"client_name":      "سارا احمدی",
		"estimated_amount": "تعیین نشده",
		"created_at":       "۱۴۰۳/۱/۱",
		"status":           "در انتظار بررسی",
	}
	for _, f := range desc.Fields {
		if w, ok := want[f.Key]; ok && f.Value != w {
			t.Errorf("%s = %q, want %q", f.Key, f.Value, w)
		}
	}

	desc, err = p.GetView(context.Background(), viewOnly(), "pre_order", priced)
	if err != nil {
		t.Fatalf("GetView() error = %v", err)
	}
	if got := desc.Fields[2].Value; got != persian.FormatCurrency(1500000) {
		t.Errorf("estimated_amount = %q", got)
	}
}

func TestGetDeleteView_Truncates(t *testing.T) {
	mem := store.NewMemoryStore()
	long := "شرح بسیار طولانی برای پیش سفارشی که باید در پنجره حذف کوتاه شود تا جا شود"
	id := insert(t, mem, store.TablePreOrder, map[string]any{"description": long, "status": "pending"})
	p := newFormProvider(t, mem, nil)

	desc, err := p.GetDeleteView(context.Background(), allCaps(), "pre_order", id)
	if err != nil {
		t.Fatalf("GetDeleteView() error = %v", err)
	}
	if desc.Title != "حذف پیش سفارش" {
		t.Errorf("Title = %q", desc.Title)
	}
	if got := desc.Fields[1].Value; got != persian.Truncate(long, 50) {
		t.Errorf("description = %q", got)
	}

	if _, err := p.GetDeleteView(context.Background(), viewOnly(), "pre_order", id); err == nil {
		t.Error("GetDeleteView() without delete capability succeeded")
	}
}

func TestFormatValue(t *testing.T) {
	def := testDef(t, model.EntityOrder)

	tests := []struct {
		name  string
		field model.ViewFieldConfig
		value any
		want  string
	}{
		{"missing text", model.ViewFieldConfig{Kind: model.ViewText}, nil, persian.Empty},
		{"digits", model.ViewFieldConfig{Kind: model.ViewText}, "09121234567", "۰۹۱۲۱۲۳۴۵۶۷"},
		{"status label", model.ViewFieldConfig{Kind: model.ViewStatus}, "invoiced", "فاکتور شده"},
		{"unknown status", model.ViewFieldConfig{Kind: model.ViewStatus}, "archived", "archived"},
		{"unset amount", model.ViewFieldConfig{Kind: model.ViewCurrency, Unset: "تعیین نشده"}, -1.0, "تعیین نشده"},
		{"unset without label", model.ViewFieldConfig{Kind: model.ViewCurrency}, 0.0, persian.FormatCurrency(0)},
		{"number", model.ViewFieldConfig{Kind: model.ViewNumber}, 42, "۴۲"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatValue(def, tt.field, tt.value); got != tt.want {
				t.Errorf("FormatValue() = %q, want %q", got, tt.want)
			}
		})
	}
}
