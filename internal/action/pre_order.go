package action

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/internal/persian"
	"github.com/pitabwire/dastyar/internal/store"
	"github.com/pitabwire/dastyar/model"
)

// Pre-order messages.
const (
	MsgPreOrderAdded       = "ثبت پیش سفارش با موفقیت انجام شد."
	MsgPreOrderAddFailed   = "ثبت پیش سفارش موفقیت آمیز نبود دوباره تلاش کنید."
	MsgDescriptionRequired = "شرح پیش سفارش الزامی است."
	MsgInvalidAmount       = "مبلغ معتبر نیست"
)

const initialPreOrderStatus = "pending"

// amount parses an optional amount field. An empty value is unset and
// yields nil.
func amount(value string) (any, bool) {
	if strings.TrimSpace(value) == "" {
		return nil, true
	}
	if persian.Currency(value) != nil {
		return nil, false
	}
	n, ok := persian.ParseNumber(value)
	if !ok {
		return nil, false
	}
	return n, true
}

// AddPreOrder records a pending pre-order for a client. The client's name
// and type are copied onto the row.
func (s *Service) AddPreOrder(ctx context.Context, form model.FormData) model.ActionState[string] {
	ctx, span := observability.StartSpan(ctx, "action.add_pre_order")
	defer span.End()

	estimated, ok := amount(form["estimated_amount"])
	if !ok {
		return model.Failed[string](MsgInvalidAmount)
	}

	clientID := form["client_id"]
	client, err := s.store.Get(ctx, model.EntityClient, clientID)
	if err != nil {
		observability.EndSpanWithError(span, err)
		s.log(ctx).Warn("pre-order client lookup failed", zap.String("client_id", clientID), zap.Error(err))
		return model.Failed[string](MsgPreOrderAddFailed)
	}

	values := map[string]any{
		"client_id":   clientID,
		"client_name": client.Data.String("name"),
		"type":        string(client.Type),
		"description": strings.TrimSpace(form["description"]),
		"status":      initialPreOrderStatus,
	}
	if estimated != nil {
		values["estimated_amount"] = estimated
	}

	id, err := s.store.Insert(ctx, store.TablePreOrder, values)
	if err != nil {
		observability.EndSpanWithError(span, err)
		s.log(ctx).Error("add pre-order failed", zap.String("client_id", clientID), zap.Error(err))
		return model.Failed[string](MsgPreOrderAddFailed)
	}
	return model.Succeeded(MsgPreOrderAdded, id)
}

// UpdatePreOrder edits a pre-order. A status change must be an allowed
// transition and only approved pre-orders may be converted.
func (s *Service) UpdatePreOrder(ctx context.Context, id string, form model.FormData) model.ActionState[string] {
	msgs := messagesFor(model.EntityPreOrder)
	description := strings.TrimSpace(form["description"])
	if description == "" {
		return model.Failed[string](MsgDescriptionRequired)
	}

	ctx, span := observability.StartSpan(ctx, "action.update_pre_order")
	defer span.End()

	row, msg, ok := s.current(ctx, model.EntityPreOrder, id)
	if !ok {
		return model.Failed[string](msg)
	}

	status := form["status"]
	if err := s.transition(model.EntityPreOrder, row.Status, status); err != nil {
		return model.Failed[string](err.Error())
	}
	if status == "converted" && row.Status != status {
		if err := persian.ValidatePreOrderConversion(row.Status); err != nil {
			return model.Failed[string](err.Error())
		}
	}

	values := map[string]any{"description": description}
	if raw, present := form["estimated_amount"]; present {
		estimated, ok := amount(raw)
		if !ok {
			return model.Failed[string](MsgInvalidAmount)
		}
		values["estimated_amount"] = estimated
	}
	if status != "" {
		values["status"] = status
	}

	if err := s.store.Update(ctx, store.TablePreOrder, id, values); err != nil {
		observability.EndSpanWithError(span, err)
		s.log(ctx).Error("update pre-order failed", zap.String("pre_order_id", id), zap.Error(err))
		return model.Failed[string](msgs.updateFailed)
	}
	return model.Succeeded(msgs.updated, id)
}

// DeletePreOrder deletes a pre-order that was never converted and that no
// order references.
func (s *Service) DeletePreOrder(ctx context.Context, id string) model.ActionState[bool] {
	return s.Delete(ctx, model.EntityPreOrder, id)
}

// GetPreOrders returns one page of pre-order rows.
func (s *Service) GetPreOrders(ctx context.Context, q store.Query) model.ActionState[[]*model.RecordRow] {
	return s.GetRows(ctx, model.EntityPreOrder, q)
}

// GetTotalPreOrders counts the pre-orders matching f.
func (s *Service) GetTotalPreOrders(ctx context.Context, f store.Filter) model.ActionState[int] {
	return s.GetTotal(ctx, model.EntityPreOrder, f)
}
