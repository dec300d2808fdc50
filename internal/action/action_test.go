package action

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/dastyar/internal/definition"
	"github.com/pitabwire/dastyar/internal/dependency"
	"github.com/pitabwire/dastyar/internal/store"
	"github.com/pitabwire/dastyar/model"
)

func newService(t *testing.T, st Store) *Service {
	t.Helper()
	defs, err := definition.NewLoader().LoadAll([]string{"../../definitions"})
	require.NoError(t, err)
	reg := definition.NewRegistry(defs)

	probe, ok := st.(dependency.Store)
	require.True(t, ok, "store must answer dependency probes")
	return NewService(st, reg, dependency.NewChecker(probe, reg, nil, nil), nil, nil)
}

func clientForm() model.FormData {
	return model.FormData{
		"name":        "علی رضایی",
		"phone":       "09121234567",
		"ssn":         "0499370899",
		"address":     "تهران، خیابان آزادی",
		"postal_code": "1234567890",
	}
}

func addClient(t *testing.T, s *Service, form model.FormData) string {
	t.Helper()
	state := s.AddClient(context.Background(), form)
	require.True(t, state.Success, state.Message)
	return state.Data
}

func TestAddClient_personal(t *testing.T) {
	mem := store.NewMemoryStore()
	s := newService(t, mem)

	state := s.AddClient(context.Background(), clientForm())
	require.True(t, state.Success)
	assert.Equal(t, MsgClientAdded, state.Message)

	row, err := mem.Get(context.Background(), model.EntityClient, state.Data)
	require.NoError(t, err)
	assert.Equal(t, model.ClientPersonal, row.Type)
	assert.Equal(t, "not_started", row.Status)
	assert.Equal(t, "علی رضایی", row.Data.String("name"))
}

func TestAddClient_company(t *testing.T) {
	mem := store.NewMemoryStore()
	s := newService(t, mem)
	form := clientForm()
	form["company_name"] = "شرکت آریا"
	form["company_address"] = "اصفهان"

	id := addClient(t, s, form)

	row, err := mem.Get(context.Background(), model.EntityClient, id)
	require.NoError(t, err)
	assert.Equal(t, model.ClientCompany, row.Type)
	assert.Equal(t, "شرکت آریا", row.Data.String("name"))
	assert.Equal(t, "اصفهان", row.Data.String("address"))
	assert.Equal(t, "09121234567", row.Data.String("phone"), "the company shares the contact phone")
}

func TestUpdateClient(t *testing.T) {
	mem := store.NewMemoryStore()
	s := newService(t, mem)
	ctx := context.Background()
	id := addClient(t, s, clientForm())

	t.Run("required fields", func(t *testing.T) {
		form := clientForm()
		form["phone"] = " "
		got := s.UpdateClient(ctx, id, form)
		assert.Equal(t, model.Failed[string](MsgRequiredFields), got)
	})

	t.Run("unknown client", func(t *testing.T) {
		got := s.UpdateClient(ctx, "404", clientForm())
		assert.Equal(t, model.Failed[string]("مشتری یافت نشد."), got)
	})

	t.Run("allowed move", func(t *testing.T) {
		form := clientForm()
		form["name"] = "علی رضایی‌نژاد"
		form["status"] = "done"
		got := s.UpdateClient(ctx, id, form)
		require.True(t, got.Success)
		assert.Equal(t, "اطلاعات مشتری با موفقیت به‌روزرسانی شد.", got.Message)

		row, err := mem.Get(ctx, model.EntityClient, id)
		require.NoError(t, err)
		assert.Equal(t, "done", row.Status)
		assert.Equal(t, "علی رضایی‌نژاد", row.Data.String("name"))
	})

	t.Run("disallowed move", func(t *testing.T) {
		form := clientForm()
		form["status"] = "not_started"
		got := s.UpdateClient(ctx, id, form)
		assert.Equal(t, model.Failed[string]("تغییر وضعیت از done به not_started مجاز نیست"), got)
	})
}

func TestDeleteClient(t *testing.T) {
	mem := store.NewMemoryStore()
	s := newService(t, mem)
	ctx := context.Background()
	blocked := addClient(t, s, clientForm())
	free := addClient(t, s, clientForm())
	require.True(t, s.AddPreOrder(ctx, model.FormData{"client_id": blocked, "description": "خرید میز"}).Success)

	assert.Equal(t, model.ActionState[bool]{Success: true, Data: false, Message: "این مشتری دارای پیش سفارش است و قابل حذف نیست."},
		s.CheckDependencies(ctx, model.EntityClient, blocked))

	got := s.DeleteClient(ctx, blocked)
	assert.False(t, got.Success)
	assert.Equal(t, "این مشتری دارای پیش سفارش است و قابل حذف نیست.", got.Message)

	got = s.DeleteClient(ctx, free)
	assert.Equal(t, model.Succeeded(MsgClientDeleted, true), got)
	_, err := mem.Get(ctx, model.EntityClient, free)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAddPreOrder(t *testing.T) {
	mem := store.NewMemoryStore()
	s := newService(t, mem)
	ctx := context.Background()
	client := addClient(t, s, clientForm())

	got := s.AddPreOrder(ctx, model.FormData{"client_id": client, "description": "خرید", "estimated_amount": "صد"})
	assert.Equal(t, model.Failed[string](MsgInvalidAmount), got)

	got = s.AddPreOrder(ctx, model.FormData{"client_id": "404", "description": "خرید"})
	assert.Equal(t, model.Failed[string](MsgPreOrderAddFailed), got)

	got = s.AddPreOrder(ctx, model.FormData{"client_id": client, "description": " خرید میز "})
	require.True(t, got.Success)
	assert.Equal(t, MsgPreOrderAdded, got.Message)

	row, err := mem.Get(ctx, model.EntityPreOrder, got.Data)
	require.NoError(t, err)
	assert.Equal(t, "pending", row.Status)
	assert.Equal(t, "علی رضایی", row.Data.String("client_name"))
	assert.Equal(t, "خرید میز", row.Data.String("description"))
	assert.Equal(t, store.UnsetAmount, row.Data["estimated_amount"])
	assert.Equal(t, model.ClientPersonal, row.Type)
}

func TestUpdatePreOrder(t *testing.T) {
	mem := store.NewMemoryStore()
	s := newService(t, mem)
	ctx := context.Background()
	client := addClient(t, s, clientForm())
	id := s.AddPreOrder(ctx, model.FormData{"client_id": client, "description": "خرید"}).Data

	tests := []struct {
		name string
		form model.FormData
		want model.ActionState[string]
	}{
		{
			name: "description required",
			form: model.FormData{"description": "  "},
			want: model.Failed[string](MsgDescriptionRequired),
		},
		{
			name: "transition checked before amount",
			form: model.FormData{"description": "خرید", "status": "converted", "estimated_amount": "x"},
			want: model.Failed[string]("تغییر وضعیت از pending به converted مجاز نیست"),
		},
		{
			name: "invalid amount",
			form: model.FormData{"description": "خرید", "estimated_amount": "-5"},
			want: model.Failed[string](MsgInvalidAmount),
		},
		{
			name: "approve with persian digits",
			form: model.FormData{"description": "خرید میز", "status": "approved", "estimated_amount": "۱۲۰۰۰"},
			want: model.Succeeded("پیش سفارش با موفقیت به‌روزرسانی شد.", id),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.UpdatePreOrder(ctx, id, tt.form))
		})
	}

	row, err := mem.Get(ctx, model.EntityPreOrder, id)
	require.NoError(t, err)
	assert.Equal(t, "approved", row.Status)
	assert.Equal(t, 12000.0, row.Data["estimated_amount"])

	got := s.UpdatePreOrder(ctx, "404", model.FormData{"description": "خرید"})
	assert.Equal(t, model.Failed[string]("پیش سفارش یافت نشد."), got)
}

func TestDeletePreOrder(t *testing.T) {
	mem := store.NewMemoryStore()
	s := newService(t, mem)
	ctx := context.Background()
	client := addClient(t, s, clientForm())
	add := func() string {
		return s.AddPreOrder(ctx, model.FormData{"client_id": client, "description": "خرید"}).Data
	}

	converted := add()
	require.NoError(t, mem.Update(ctx, store.TablePreOrder, converted, map[string]any{"status": "converted"}))
	assert.Equal(t, model.Failed[bool]("پیش سفارش تبدیل شده قابل حذف نیست."), s.DeletePreOrder(ctx, converted))

	referenced := add()
	_, err := mem.Insert(ctx, store.TableOrder, map[string]any{"client_id": client, "pre_order_id": referenced})
	require.NoError(t, err)
	assert.Equal(t, model.Failed[bool]("این پیش سفارش به سفارش تبدیل شده و قابل حذف نیست."), s.DeletePreOrder(ctx, referenced))

	assert.Equal(t, model.Failed[bool]("پیش سفارش یافت نشد."), s.DeletePreOrder(ctx, "404"))

	free := add()
	assert.Equal(t, model.Succeeded(dependency.MsgDeleted, true), s.DeletePreOrder(ctx, free))
}

func TestAddOrder(t *testing.T) {
	mem := store.NewMemoryStore()
	s := newService(t, mem)
	ctx := context.Background()
	client := addClient(t, s, clientForm())

	incomplete := clientForm()
	delete(incomplete, "address")
	bare := addClient(t, s, incomplete)
	got := s.AddOrder(ctx, model.FormData{"client_id": bare, "total_amount": "1000"})
	assert.Equal(t, model.Failed[string]("اطلاعات مشتری ناکامل است. لطفاً ابتدا اطلاعات مشتری را تکمیل کنید"), got)

	got = s.AddOrder(ctx, model.FormData{"client_id": client})
	assert.Equal(t, model.Failed[string](MsgInvalidAmount), got, "total is required")

	pre := s.AddPreOrder(ctx, model.FormData{"client_id": client, "description": "خرید"}).Data
	got = s.AddOrder(ctx, model.FormData{"client_id": client, "total_amount": "1000", "pre_order_id": pre})
	assert.Equal(t, model.Failed[string]("فقط پیش سفارش‌های تایید شده قابل تبدیل به سفارش هستند"), got)

	require.NoError(t, mem.Update(ctx, store.TablePreOrder, pre, map[string]any{"status": "approved"}))
	got = s.AddOrder(ctx, model.FormData{"client_id": client, "total_amount": "۵۰۰۰", "pre_order_id": pre, "description": "میز"})
	require.True(t, got.Success, got.Message)
	assert.Equal(t, MsgOrderAdded, got.Message)

	order, err := mem.Get(ctx, model.EntityOrder, got.Data)
	require.NoError(t, err)
	assert.Equal(t, "سفارش 1000", order.Data.String("name"))
	assert.Equal(t, "علی رضایی", order.Data.String("client_name"))
	assert.Equal(t, "pending", order.Status)

	preRow, err := mem.Get(ctx, model.EntityPreOrder, pre)
	require.NoError(t, err)
	assert.Equal(t, "converted", preRow.Status)
}

func TestUpdateOrder(t *testing.T) {
	mem := store.NewMemoryStore()
	s := newService(t, mem)
	ctx := context.Background()
	client := addClient(t, s, clientForm())
	id := s.AddOrder(ctx, model.FormData{"client_id": client, "total_amount": "1000"}).Data

	got := s.UpdateOrder(ctx, id, model.FormData{"total_amount": "2000", "status": "confirmed"})
	assert.Equal(t, model.Succeeded("سفارش با موفقیت به‌روزرسانی شد.", id), got)

	got = s.UpdateOrder(ctx, id, model.FormData{"total_amount": "2000", "status": "completed"})
	assert.Equal(t, model.Failed[string]("تغییر وضعیت از confirmed به completed مجاز نیست"), got)

	require.NoError(t, mem.Update(ctx, store.TableOrder, id, map[string]any{"status": "invoiced"}))
	got = s.UpdateOrder(ctx, id, model.FormData{"total_amount": "3000"})
	assert.Equal(t, model.Failed[string]("سفارش فاکتور شده قابل ویرایش نیست"), got)

	assert.Equal(t, model.Failed[string]("سفارش یافت نشد."), s.UpdateOrder(ctx, "404", model.FormData{"total_amount": "1"}))
}

func TestGetOrders_unknown_client(t *testing.T) {
	mem := store.NewMemoryStore()
	s := newService(t, mem)
	ctx := context.Background()
	_, err := mem.Insert(ctx, store.TableOrder, map[string]any{"client_id": "404", "total_amount": 10.0})
	require.NoError(t, err)

	got := s.GetOrders(ctx, store.Query{Limit: 10})
	require.True(t, got.Success)
	assert.Equal(t, MsgFetched, got.Message)
	require.Len(t, got.Data, 1)
	assert.Equal(t, store.UnknownClient, got.Data[0].Data.String("client_name"))

	total := s.GetTotalOrders(ctx, store.Filter{})
	assert.Equal(t, model.Succeeded("تعداد سفارش‌ها با موفقیت دریافت شد.", 1), total)
}

func TestUpdateAmount(t *testing.T) {
	mem := store.NewMemoryStore()
	s := newService(t, mem)
	ctx := context.Background()
	id, err := mem.Insert(ctx, store.TablePreInvoice, map[string]any{"client_id": "1", "total_amount": 10.0, "status": "draft"})
	require.NoError(t, err)

	got := s.UpdateAmount(ctx, model.EntityPreInvoice, id, model.FormData{"total_amount": "25", "status": "sent"})
	assert.Equal(t, model.Succeeded("پیش فاکتور با موفقیت به‌روزرسانی شد.", id), got)

	got = s.UpdateAmount(ctx, model.EntityPreInvoice, id, model.FormData{"total_amount": "25", "status": "converted"})
	assert.False(t, got.Success)

	got = s.UpdateAmount(ctx, model.EntityPreInvoice, id, model.FormData{})
	assert.Equal(t, model.Failed[string](MsgInvalidAmount), got)
}

func TestMutation_dispatch(t *testing.T) {
	mem := store.NewMemoryStore()
	s := newService(t, mem)
	ctx := context.Background()

	add, ok := s.Mutation(model.EntityClient, model.OpAdd, "")
	require.True(t, ok)
	id := add(ctx, clientForm()).Data

	edit, ok := s.Mutation(model.EntityClient, model.OpEdit, id)
	require.True(t, ok)
	form := clientForm()
	form["name"] = "سارا احمدی"
	assert.True(t, edit(ctx, form).Success)

	_, ok = s.Mutation(model.EntityInvoice, model.OpAdd, "")
	assert.False(t, ok, "invoices are issued elsewhere")
	_, ok = s.Mutation(model.EntityInvoice, model.OpEdit, "1")
	assert.True(t, ok)
	_, ok = s.Mutation(model.EntityClient, model.OpDelete, id)
	assert.False(t, ok)

	del := s.DeleteMutation(model.EntityClient)
	assert.Equal(t, model.Succeeded(MsgClientDeleted, true), del(ctx, id))

	invoice, err := mem.Insert(ctx, store.TableInvoice, map[string]any{"client_id": "1", "status": "paid"})
	require.NoError(t, err)
	got := s.DeleteMutation(model.EntityInvoice)(ctx, invoice)
	assert.Equal(t, model.Failed[bool]("فاکتور پرداخت شده قابل حذف نیست."), got)
}

// failingStore fails every read.
type failingStore struct {
	*store.MemoryStore
}

var errDown = errors.New("connection refused")

func (failingStore) ListRows(context.Context, model.EntityType, store.Query) ([]*model.RecordRow, error) {
	return nil, errDown
}

func (failingStore) CountRows(context.Context, model.EntityType, store.Filter) (int, error) {
	return 0, errDown
}

func (failingStore) ClientNames(context.Context) ([]store.ClientName, error) {
	return nil, errDown
}

func TestReads_store_failure(t *testing.T) {
	s := newService(t, failingStore{store.NewMemoryStore()})
	ctx := context.Background()

	assert.Equal(t, model.Failed[[]*model.RecordRow]("ایراد سمت سرور لطفا اینترنت خود را بررسی کنید."), s.GetClients(ctx, store.Query{}))
	assert.Equal(t, model.Failed[int]("اینترنت خود را چک کنید و دوباره تلاش کنید."), s.GetTotalClients(ctx, store.Filter{}))
	assert.Equal(t, model.Failed[int]("خطا در دریافت تعداد پیش سفارش‌ها."), s.GetTotalPreOrders(ctx, store.Filter{}))
	assert.Equal(t, model.Failed[[]*model.RecordRow]("خطا در دریافت پیش سفارش‌ها."), s.GetPreOrders(ctx, store.Query{}))
	assert.Equal(t, model.Failed[int]("خطا در دریافت تعداد سفارش‌ها."), s.GetTotalOrders(ctx, store.Filter{}))
	assert.False(t, s.GetInvoices(ctx, store.Query{}).Success)
	assert.False(t, s.GetTotalPreInvoices(ctx, store.Filter{}).Success)

	names := s.GetAllClientNames(ctx)
	assert.False(t, names.Success)
	assert.Equal(t, MsgClientNamesFailed, names.Message)
	assert.NotNil(t, names.Data)
	assert.Empty(t, names.Data)

	_, err := s.Rows().ListRows(ctx, model.EntityOrder, store.Query{})
	assert.EqualError(t, err, "خطا در دریافت سفارش‌ها.")
	_, err = s.Rows().CountRows(ctx, model.EntityOrder, store.Filter{})
	assert.EqualError(t, err, "خطا در دریافت تعداد سفارش‌ها.")
}

func TestReads(t *testing.T) {
	mem := store.NewMemoryStore()
	s := newService(t, mem)
	ctx := context.Background()
	addClient(t, s, clientForm())
	second := clientForm()
	second["name"] = "سارا احمدی"
	addClient(t, s, second)

	rows := s.GetClients(ctx, store.Query{Limit: 1})
	require.True(t, rows.Success)
	require.Len(t, rows.Data, 1)
	assert.Equal(t, "سارا احمدی", rows.Data[0].Data.String("name"), "newest first")

	assert.Equal(t, model.Succeeded("تعداد مشتری‌ها با موفقیت دریافت شد.", 2), s.GetTotalClients(ctx, store.Filter{}))

	names := s.GetAllClientNames(ctx)
	require.True(t, names.Success)
	assert.Equal(t, MsgClientNames, names.Message)
	assert.Len(t, names.Data, 2)

	empty := s.GetInvoices(ctx, store.Query{})
	assert.Equal(t, model.Succeeded(MsgFetched, []*model.RecordRow{}), empty)
}
