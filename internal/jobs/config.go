// Package jobs submits webhook jobs after entity operations and tracks their
// status through a broker of realtime updates.
package jobs

import (
	"go.uber.org/zap"

	"github.com/pitabwire/dastyar/model"
)

// JobSource resolves entity names and their job configuration.
// *definition.Registry satisfies it.
type JobSource interface {
	Resolve(name string) (model.EntityType, bool)
	Jobs(et model.EntityType) (model.EntityJobConfig, bool)
}

// Config looks up the jobs configured for an entity operation.
type Config struct {
	source JobSource
	logger *zap.Logger
}

// NewConfig creates a job config lookup over source.
func NewConfig(source JobSource, logger *zap.Logger) *Config {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Config{source: source, logger: logger}
}

// For returns the job specs of entity for op. The entity may be named in
// snake or camel case. An unknown entity or operation yields an empty list
// and a warning.
func (c *Config) For(entity string, op model.Operation) []model.JobSpec {
	et, ok := c.source.Resolve(entity)
	if !ok {
		c.logger.Warn("no job config for entity", zap.String("entity", entity))
		return []model.JobSpec{}
	}
	cfg, ok := c.source.Jobs(et)
	if !ok {
		c.logger.Warn("no job config for entity", zap.String("entity", entity))
		return []model.JobSpec{}
	}

	switch op {
	case model.OpView, model.OpEdit, model.OpDelete, model.OpAdd:
	default:
		c.logger.Warn("no job config for operation",
			zap.String("entity", string(et)),
			zap.String("operation", string(op)),
		)
		return []model.JobSpec{}
	}

	specs := cfg.For(op)
	if specs == nil {
		return []model.JobSpec{}
	}
	return append([]model.JobSpec(nil), specs...)
}
