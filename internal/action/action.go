// Package action implements the server-facing entity operations of the
// dashboard. Every operation answers with a model.ActionState; store errors
// are logged here and never leave the package.
package action

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pitabwire/dastyar/internal/dependency"
	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/internal/persian"
	"github.com/pitabwire/dastyar/internal/store"
	"github.com/pitabwire/dastyar/model"
)

// MsgFetched is the success message of every row fetch.
const MsgFetched = "اطلاعات با موفقیت دریافت شدند."

// readMessages are the localized messages of an entity's row and total
// fetches.
type readMessages struct {
	rowsFailed   string
	total        string
	totalFailed  string
	notFound     string
	updated      string
	updateFailed string
}

var messages = map[model.EntityType]readMessages{
	model.EntityClient: {
		rowsFailed:   "ایراد سمت سرور لطفا اینترنت خود را بررسی کنید.",
		total:        "تعداد مشتری‌ها با موفقیت دریافت شد.",
		totalFailed:  "اینترنت خود را چک کنید و دوباره تلاش کنید.",
		notFound:     "مشتری یافت نشد.",
		updated:      "اطلاعات مشتری با موفقیت به‌روزرسانی شد.",
		updateFailed: "به‌روزرسانی اطلاعات مشتری موفقیت آمیز نبود دوباره تلاش کنید.",
	},
	model.EntityPreOrder: {
		rowsFailed:   "خطا در دریافت پیش سفارش‌ها.",
		total:        MsgFetched,
		totalFailed:  "خطا در دریافت تعداد پیش سفارش‌ها.",
		notFound:     "پیش سفارش یافت نشد.",
		updated:      "پیش سفارش با موفقیت به‌روزرسانی شد.",
		updateFailed: "به‌روزرسانی پیش سفارش موفقیت آمیز نبود دوباره تلاش کنید.",
	},
	model.EntityOrder: {
		rowsFailed:   "خطا در دریافت سفارش‌ها.",
		total:        "تعداد سفارش‌ها با موفقیت دریافت شد.",
		totalFailed:  "خطا در دریافت تعداد سفارش‌ها.",
		notFound:     "سفارش یافت نشد.",
		updated:      "سفارش با موفقیت به‌روزرسانی شد.",
		updateFailed: "به‌روزرسانی سفارش موفقیت آمیز نبود دوباره تلاش کنید.",
	},
	model.EntityPreInvoice: {
		rowsFailed:   "خطا در دریافت پیش فاکتورها.",
		total:        "تعداد پیش فاکتورها با موفقیت دریافت شد.",
		totalFailed:  "خطا در دریافت تعداد پیش فاکتورها.",
		notFound:     "پیش فاکتور یافت نشد.",
		updated:      "پیش فاکتور با موفقیت به‌روزرسانی شد.",
		updateFailed: "به‌روزرسانی پیش فاکتور موفقیت آمیز نبود دوباره تلاش کنید.",
	},
	model.EntityInvoice: {
		rowsFailed:   "خطا در دریافت فاکتورها.",
		total:        "تعداد فاکتورها با موفقیت دریافت شد.",
		totalFailed:  "خطا در دریافت تعداد فاکتورها.",
		notFound:     "فاکتور یافت نشد.",
		updated:      "فاکتور با موفقیت به‌روزرسانی شد.",
		updateFailed: "به‌روزرسانی فاکتور موفقیت آمیز نبود دوباره تلاش کنید.",
	},
}

func messagesFor(et model.EntityType) readMessages {
	if m, ok := messages[et]; ok {
		return m
	}
	return readMessages{
		rowsFailed:   dependency.MsgInternalError,
		total:        MsgFetched,
		totalFailed:  dependency.MsgInternalError,
		notFound:     "رکورد یافت نشد.",
		updated:      "رکورد با موفقیت به‌روزرسانی شد.",
		updateFailed: dependency.MsgInternalError,
	}
}

// Store is the slice of the data store the actions need.
type Store interface {
	store.RowSource
	store.Records
	store.Clients
}

// Definitions resolves the definition of an entity.
type Definitions interface {
	Entity(et model.EntityType) (model.EntityDefinition, bool)
}

// Service runs the entity actions against an injected store.
type Service struct {
	store   Store
	defs    Definitions
	checker *dependency.Checker
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewService creates a Service. logger and metrics may be nil.
func NewService(st Store, defs Definitions, checker *dependency.Checker, logger *zap.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, defs: defs, checker: checker, logger: logger, metrics: metrics}
}

func (s *Service) log(ctx context.Context) *zap.Logger {
	return observability.RequestLogger(ctx, s.logger)
}

// GetRows returns one page of rows of et.
func (s *Service) GetRows(ctx context.Context, et model.EntityType, q store.Query) model.ActionState[[]*model.RecordRow] {
	ctx, span := observability.StartSpan(ctx, "action.rows", attribute.String("entity", string(et)))
	rows, err := s.store.ListRows(ctx, et, q)
	observability.EndSpanWithError(span, err)
	if err != nil {
		s.log(ctx).Error("fetch rows failed", zap.String("entity", string(et)), zap.Error(err))
		return model.Failed[[]*model.RecordRow](messagesFor(et).rowsFailed)
	}
	if rows == nil {
		rows = []*model.RecordRow{}
	}
	return model.Succeeded(MsgFetched, rows)
}

// GetTotal counts the rows of et matching f.
func (s *Service) GetTotal(ctx context.Context, et model.EntityType, f store.Filter) model.ActionState[int] {
	ctx, span := observability.StartSpan(ctx, "action.total", attribute.String("entity", string(et)))
	n, err := s.store.CountRows(ctx, et, f)
	observability.EndSpanWithError(span, err)
	if err != nil {
		s.log(ctx).Error("count rows failed", zap.String("entity", string(et)), zap.Error(err))
		return model.Failed[int](messagesFor(et).totalFailed)
	}
	return model.Succeeded(messagesFor(et).total, n)
}

// Rows adapts the service into a store.RowSource, so the table engine
// fetches through the actions. A failed fetch surfaces its localized
// message as the error text.
func (s *Service) Rows() store.RowSource { return rowSource{s} }

type rowSource struct{ s *Service }

func (r rowSource) ListRows(ctx context.Context, et model.EntityType, q store.Query) ([]*model.RecordRow, error) {
	state := r.s.GetRows(ctx, et, q)
	if !state.Success {
		return nil, errors.New(state.Message)
	}
	return state.Data, nil
}

func (r rowSource) CountRows(ctx context.Context, et model.EntityType, f store.Filter) (int, error) {
	state := r.s.GetTotal(ctx, et, f)
	if !state.Success {
		return 0, errors.New(state.Message)
	}
	return state.Data, nil
}

// CheckDependencies reports whether the row may be deleted, as an envelope.
func (s *Service) CheckDependencies(ctx context.Context, et model.EntityType, id string) model.ActionState[bool] {
	return s.checker.CheckEntityDependencies(ctx, et, id).State()
}

// current loads a row for an update. A missing row yields the entity's
// not-found message.
func (s *Service) current(ctx context.Context, et model.EntityType, id string) (model.RecordRow, string, bool) {
	row, err := s.store.Get(ctx, et, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return row, messagesFor(et).notFound, false
	case err != nil:
		s.log(ctx).Error("load row failed",
			zap.String("entity", string(et)),
			zap.String("entity_id", id),
			zap.Error(err),
		)
		return row, messagesFor(et).updateFailed, false
	}
	return row, "", true
}

// transition checks a status change against the entity's allowed moves. An
// empty target keeps the current status.
func (s *Service) transition(et model.EntityType, from, to string) error {
	if to == "" {
		return nil
	}
	def, _ := s.defs.Entity(et)
	if len(def.Transitions) == 0 {
		return nil
	}
	return persian.ValidateStatusTransition(from, to, def.Transitions)
}
