package action

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/internal/persian"
	"github.com/pitabwire/dastyar/internal/store"
	"github.com/pitabwire/dastyar/model"
)

// Order messages.
const (
	MsgOrderAdded     = "ثبت سفارش با موفقیت انجام شد."
	MsgOrderAddFailed = "ثبت سفارش موفقیت آمیز نبود دوباره تلاش کنید."
)

const (
	initialOrderStatus = "pending"
	convertedStatus    = "converted"
)

// AddOrder creates a pending order for a client with complete contact
// details. When pre_order_id is set the pre-order must be approved, and it
// is marked converted once the order exists.
func (s *Service) AddOrder(ctx context.Context, form model.FormData) model.ActionState[string] {
	ctx, span := observability.StartSpan(ctx, "action.add_order")
	defer span.End()

	total, ok := amount(form["total_amount"])
	if !ok || total == nil {
		return model.Failed[string](MsgInvalidAmount)
	}

	clientID := form["client_id"]
	client, err := s.store.Get(ctx, model.EntityClient, clientID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return model.Failed[string](messagesFor(model.EntityClient).notFound)
	case err != nil:
		observability.EndSpanWithError(span, err)
		s.log(ctx).Error("order client lookup failed", zap.String("client_id", clientID), zap.Error(err))
		return model.Failed[string](MsgOrderAddFailed)
	}
	if err := persian.ValidateClientForOrder(client.Data); err != nil {
		return model.Failed[string](err.Error())
	}

	values := map[string]any{
		"client_id":    clientID,
		"description":  strings.TrimSpace(form["description"]),
		"total_amount": total,
		"status":       initialOrderStatus,
	}

	preOrderID := persian.ToEnglishDigits(strings.TrimSpace(form["pre_order_id"]))
	if preOrderID != "" {
		pre, msg, ok := s.current(ctx, model.EntityPreOrder, preOrderID)
		if !ok {
			return model.Failed[string](msg)
		}
		if err := persian.ValidatePreOrderConversion(pre.Status); err != nil {
			return model.Failed[string](err.Error())
		}
		values["pre_order_id"] = preOrderID
	}

	id, err := s.store.Insert(ctx, store.TableOrder, values)
	if err != nil {
		observability.EndSpanWithError(span, err)
		s.log(ctx).Error("add order failed", zap.String("client_id", clientID), zap.Error(err))
		return model.Failed[string](MsgOrderAddFailed)
	}

	if preOrderID != "" {
		if err := s.store.Update(ctx, store.TablePreOrder, preOrderID, map[string]any{"status": convertedStatus}); err != nil {
			// The order stands; the pre-order keeps its status and the
			// dependency check still protects it from deletion.
			s.log(ctx).Warn("mark pre-order converted failed",
				zap.String("pre_order_id", preOrderID),
				zap.String("order_id", id),
				zap.Error(err),
			)
		}
	}

	s.log(ctx).Info("order added", zap.String("order_id", id), zap.String("client_id", clientID))
	return model.Succeeded(MsgOrderAdded, id)
}

// UpdateOrder edits the description and total of an order that was not
// invoiced yet.
func (s *Service) UpdateOrder(ctx context.Context, id string, form model.FormData) model.ActionState[string] {
	msgs := messagesFor(model.EntityOrder)

	ctx, span := observability.StartSpan(ctx, "action.update_order")
	defer span.End()

	row, msg, ok := s.current(ctx, model.EntityOrder, id)
	if !ok {
		return model.Failed[string](msg)
	}
	if err := persian.ValidateOrderEditable(row.Status); err != nil {
		return model.Failed[string](err.Error())
	}
	status := form["status"]
	if err := s.transition(model.EntityOrder, row.Status, status); err != nil {
		return model.Failed[string](err.Error())
	}

	total, ok := amount(form["total_amount"])
	if !ok || total == nil {
		return model.Failed[string](MsgInvalidAmount)
	}
	values := map[string]any{"total_amount": total}
	if description, present := form["description"]; present {
		values["description"] = strings.TrimSpace(description)
	}
	if status != "" {
		values["status"] = status
	}

	if err := s.store.Update(ctx, store.TableOrder, id, values); err != nil {
		observability.EndSpanWithError(span, err)
		s.log(ctx).Error("update order failed", zap.String("order_id", id), zap.Error(err))
		return model.Failed[string](msgs.updateFailed)
	}
	return model.Succeeded(msgs.updated, id)
}

// GetOrders returns one page of order rows.
func (s *Service) GetOrders(ctx context.Context, q store.Query) model.ActionState[[]*model.RecordRow] {
	return s.GetRows(ctx, model.EntityOrder, q)
}

// GetTotalOrders counts the orders matching f.
func (s *Service) GetTotalOrders(ctx context.Context, f store.Filter) model.ActionState[int] {
	return s.GetTotal(ctx, model.EntityOrder, f)
}
