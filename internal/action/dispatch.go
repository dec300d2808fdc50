package action

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/pitabwire/dastyar/internal/crud"
	"github.com/pitabwire/dastyar/internal/dependency"
	"github.com/pitabwire/dastyar/internal/store"
	"github.com/pitabwire/dastyar/model"
)

// Mutation returns the add or edit action of et as a form mutation. id is
// ignored for add. It reports false when et has no such action.
func (s *Service) Mutation(et model.EntityType, op model.Operation, id string) (crud.Mutation, bool) {
	type adder func(context.Context, model.FormData) model.ActionState[string]
	type updater func(context.Context, string, model.FormData) model.ActionState[string]

	var add adder
	var update updater
	switch et {
	case model.EntityClient:
		add, update = s.AddClient, s.UpdateClient
	case model.EntityPreOrder:
		add, update = s.AddPreOrder, s.UpdatePreOrder
	case model.EntityOrder:
		add, update = s.AddOrder, s.UpdateOrder
	case model.EntityPreInvoice, model.EntityInvoice:
		update = func(ctx context.Context, id string, form model.FormData) model.ActionState[string] {
			return s.UpdateAmount(ctx, et, id, form)
		}
	}

	switch {
	case op == model.OpAdd && add != nil:
		return crud.Mutation(add), true
	case op == model.OpEdit && update != nil:
		return func(ctx context.Context, form model.FormData) model.ActionState[string] {
			return update(ctx, id, form)
		}, true
	}
	return nil, false
}

// DeleteMutation returns the delete action of et.
func (s *Service) DeleteMutation(et model.EntityType) crud.DeleteMutation {
	if et == model.EntityClient {
		return s.DeleteClient
	}
	return func(ctx context.Context, id string) model.ActionState[bool] {
		return s.Delete(ctx, et, id)
	}
}

// Delete runs the guarded delete of a row of et. The entity's status bans
// are checked before its references.
func (s *Service) Delete(ctx context.Context, et model.EntityType, id string) model.ActionState[bool] {
	return s.checker.GenericEntityDelete(ctx, et, id, s.table(et),
		s.checker.StatusCheck(et, s.statusOf(et)))
}

func (s *Service) table(et model.EntityType) string {
	if def, ok := s.defs.Entity(et); ok && def.Table != "" {
		return def.Table
	}
	return string(et)
}

// statusOf reads the current status of a row of et. Its errors are shown to
// the operator.
func (s *Service) statusOf(et model.EntityType) func(ctx context.Context, id string) (string, error) {
	return func(ctx context.Context, id string) (string, error) {
		row, err := s.store.Get(ctx, et, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return "", errors.New(messagesFor(et).notFound)
		case err != nil:
			s.log(ctx).Error("load status failed",
				zap.String("entity", string(et)),
				zap.String("entity_id", id),
				zap.Error(err),
			)
			return "", errors.New(dependency.MsgCheckFailed)
		}
		return row.Status, nil
	}
}
