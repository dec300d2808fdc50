// Package dependency decides whether an entity row may be deleted and runs
// the guarded delete sequence: extra checks, reference probes, cascade, and
// finally the row itself.
package dependency

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/model"
)

// Localized messages of the delete sequence.
const (
	MsgDeletable     = "رکورد قابل حذف است."
	MsgCheckFailed   = "خطا در بررسی وابستگی‌ها."
	MsgCascadeDone   = "رکوردهای مرتبط با موفقیت حذف شدند."
	MsgDeleted       = "رکورد با موفقیت حذف شد."
	MsgDeleteFailed  = "خطا در حذف رکورد."
	MsgInternalError = "خطای سرور. لطفاً دوباره تلاش کنید."
)

// Store is the slice of the data store the checker needs. Table and column
// names come from definitions, never from request input.
type Store interface {
	// Exists reports whether any row of table has column = value.
	Exists(ctx context.Context, table, column, value string) (bool, error)
	// DeleteWhere removes every row of table with column = value.
	DeleteWhere(ctx context.Context, table, column, value string) (int64, error)
	// DeleteByID removes the row of table with the given id.
	DeleteByID(ctx context.Context, table, id string) error
}

// Rules supplies the static per-entity deletion rules.
type Rules interface {
	Dependencies(et model.EntityType) []model.DependencyConfig
	StatusBan(et model.EntityType, status string) (string, bool)
	Cascade(et model.EntityType) []model.CascadeRule
}

// Check is an entity-specific precondition run before the reference probes.
// A non-nil error blocks the delete and its text is shown to the operator.
type Check func(ctx context.Context, id string) error

// Checker runs dependency checks and guarded deletes.
type Checker struct {
	store   Store
	rules   Rules
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewChecker creates a Checker. metrics may be nil.
func NewChecker(store Store, rules Rules, logger *zap.Logger, metrics *observability.Metrics) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{store: store, rules: rules, logger: logger, metrics: metrics}
}

// CheckEntityDependencies probes each configured referencing table in order.
// The first table holding a reference blocks the delete; later tables are
// not probed. A probe error fails the check closed.
func (c *Checker) CheckEntityDependencies(ctx context.Context, et model.EntityType, id string) Outcome {
	ctx, span := observability.StartSpan(ctx, "dependency.check",
		attribute.String("entity", string(et)),
		attribute.String("entity_id", id),
	)

	out := c.probe(ctx, et, id)

	var err error
	if f, ok := out.(CheckFailed); ok {
		err = f.Err
	}
	observability.EndSpanWithError(span, err)
	c.metrics.RecordDependencyCheck(string(et), out.Kind())
	return out
}

func (c *Checker) probe(ctx context.Context, et model.EntityType, id string) Outcome {
	for _, dep := range c.rules.Dependencies(et) {
		found, err := c.store.Exists(ctx, dep.Table, dep.Column, id)
		if err != nil {
			observability.RequestLogger(ctx, c.logger).Warn("dependency probe failed",
				zap.String("entity", string(et)),
				zap.String("entity_id", id),
				zap.String("table", dep.Table),
				zap.Error(err),
			)
			return CheckFailed{Err: err}
		}
		if found {
			return Blocked{Reason: dep.Message}
		}
	}
	return Deletable{}
}

// CheckStatusBasedDeletion returns the message forbidding deletion of a row
// in status, if the entity bans it.
func (c *Checker) CheckStatusBasedDeletion(et model.EntityType, status string) (string, bool) {
	return c.rules.StatusBan(et, status)
}

// StatusCheck adapts a status lookup into a Check that enforces the
// entity's status bans.
func (c *Checker) StatusCheck(et model.EntityType, status func(ctx context.Context, id string) (string, error)) Check {
	return func(ctx context.Context, id string) error {
		s, err := status(ctx, id)
		if err != nil {
			return err
		}
		if msg, banned := c.CheckStatusBasedDeletion(et, s); banned {
			return blockedError(msg)
		}
		return nil
	}
}

// CascadeDeleteRelatedRecords deletes the configured child rows in order. A
// failing table is logged and skipped; the cascade always reports success.
func (c *Checker) CascadeDeleteRelatedRecords(ctx context.Context, et model.EntityType, id string) model.ActionState[bool] {
	log := observability.RequestLogger(ctx, c.logger)
	for _, rule := range c.rules.Cascade(et) {
		n, err := c.store.DeleteWhere(ctx, rule.Table, rule.Column, id)
		if err != nil {
			log.Error("cascade delete failed",
				zap.String("entity", string(et)),
				zap.String("entity_id", id),
				zap.String("table", rule.Table),
				zap.Error(err),
			)
			continue
		}
		log.Debug("cascade delete",
			zap.String("table", rule.Table),
			zap.Int64("rows", n),
		)
	}
	return model.Succeeded(MsgCascadeDone, true)
}

// GenericEntityDelete runs the delete sequence and stops at the first
// failure: additional checks, dependency check, cascade, then the row in
// table.
func (c *Checker) GenericEntityDelete(ctx context.Context, et model.EntityType, id, table string, checks ...Check) model.ActionState[bool] {
	log := observability.RequestLogger(ctx, c.logger)

	for _, check := range checks {
		if err := check(ctx, id); err != nil {
			if _, blocked := err.(blockedError); !blocked {
				log.Warn("delete precondition failed",
					zap.String("entity", string(et)),
					zap.String("entity_id", id),
					zap.Error(err),
				)
			}
			return model.Failed[bool](err.Error())
		}
	}

	switch out := c.CheckEntityDependencies(ctx, et, id).(type) {
	case Blocked:
		return model.Failed[bool](out.Reason)
	case CheckFailed:
		return model.Failed[bool](MsgCheckFailed)
	}

	c.CascadeDeleteRelatedRecords(ctx, et, id)

	if err := c.store.DeleteByID(ctx, table, id); err != nil {
		log.Error("delete failed",
			zap.String("entity", string(et)),
			zap.String("entity_id", id),
			zap.Error(err),
		)
		return model.Failed[bool](MsgDeleteFailed)
	}

	log.Info("entity deleted",
		zap.String("entity", string(et)),
		zap.String("entity_id", id),
	)
	return model.Succeeded(MsgDeleted, true)
}

// blockedError is a rule violation rather than an infrastructure failure.
type blockedError string

func (e blockedError) Error() string { return string(e) }
