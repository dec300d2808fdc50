package action

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/internal/store"
	"github.com/pitabwire/dastyar/model"
)

// UpdateAmount edits the total of a pre-invoice or invoice, and its status
// when the form carries one.
func (s *Service) UpdateAmount(ctx context.Context, et model.EntityType, id string, form model.FormData) model.ActionState[string] {
	msgs := messagesFor(et)

	ctx, span := observability.StartSpan(ctx, "action.update_amount", attribute.String("entity", string(et)))
	defer span.End()

	row, msg, ok := s.current(ctx, et, id)
	if !ok {
		return model.Failed[string](msg)
	}
	status := form["status"]
	if err := s.transition(et, row.Status, status); err != nil {
		return model.Failed[string](err.Error())
	}

	total, ok := amount(form["total_amount"])
	if !ok || total == nil {
		return model.Failed[string](MsgInvalidAmount)
	}
	values := map[string]any{"total_amount": total}
	if status != "" {
		values["status"] = status
	}

	if err := s.store.Update(ctx, s.table(et), id, values); err != nil {
		observability.EndSpanWithError(span, err)
		s.log(ctx).Error("update amount failed",
			zap.String("entity", string(et)),
			zap.String("entity_id", id),
			zap.Error(err),
		)
		return model.Failed[string](msgs.updateFailed)
	}
	return model.Succeeded(msgs.updated, id)
}

// GetPreInvoices returns one page of pre-invoice rows.
func (s *Service) GetPreInvoices(ctx context.Context, q store.Query) model.ActionState[[]*model.RecordRow] {
	return s.GetRows(ctx, model.EntityPreInvoice, q)
}

// GetTotalPreInvoices counts the pre-invoices matching f.
func (s *Service) GetTotalPreInvoices(ctx context.Context, f store.Filter) model.ActionState[int] {
	return s.GetTotal(ctx, model.EntityPreInvoice, f)
}

// GetInvoices returns one page of invoice rows.
func (s *Service) GetInvoices(ctx context.Context, q store.Query) model.ActionState[[]*model.RecordRow] {
	return s.GetRows(ctx, model.EntityInvoice, q)
}

// GetTotalInvoices counts the invoices matching f.
func (s *Service) GetTotalInvoices(ctx context.Context, f store.Filter) model.ActionState[int] {
	return s.GetTotal(ctx, model.EntityInvoice, f)
}
