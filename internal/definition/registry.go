package definition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/pitabwire/dastyar/model"
)

// snapshot is an immutable collection of all definitions indexed by entity.
type snapshot struct {
	entities map[model.EntityType]model.EntityDefinition
	aliases  map[string]model.EntityType
	lookups  map[string]model.LookupDefinition
	order    []model.EntityType
	checksum string
}

// Registry is a read-optimized, thread-safe store of all loaded definitions.
// It uses atomic pointer swap for lock-free concurrent reads.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given definitions.
func NewRegistry(defs []model.EntityDefinition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot built
// from the given definitions.
func (r *Registry) Replace(defs []model.EntityDefinition) {
	s := &snapshot{
		entities: make(map[model.EntityType]model.EntityDefinition, len(defs)),
		aliases:  make(map[string]model.EntityType),
		lookups:  make(map[string]model.LookupDefinition),
	}

	var checksumParts []string

	for _, def := range defs {
		if _, dup := s.entities[def.Entity]; !dup {
			s.order = append(s.order, def.Entity)
		}
		s.entities[def.Entity] = def
		checksumParts = append(checksumParts, def.Checksum)

		for _, a := range def.Aliases {
			s.aliases[a] = def.Entity
		}
		for _, l := range def.Lookups {
			s.lookups[l.ID] = l
		}
	}

	sort.SliceStable(s.order, func(i, j int) bool {
		return s.entities[s.order[i]].Navigation.Order < s.entities[s.order[j]].Navigation.Order
	})

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Resolve maps a route or config name (canonical, camel-case or a declared
// alias) onto a registered entity.
func (r *Registry) Resolve(name string) (model.EntityType, bool) {
	s := r.current()
	if et, ok := s.aliases[name]; ok {
		return et, true
	}
	et, _ := model.ParseEntityType(name)
	_, ok := s.entities[et]
	return et, ok
}

// Get returns the definition of the named entity.
func (r *Registry) Get(name string) (model.EntityDefinition, bool) {
	et, ok := r.Resolve(name)
	if !ok {
		return model.EntityDefinition{}, false
	}
	return r.Entity(et)
}

// Entity returns the definition of et.
func (r *Registry) Entity(et model.EntityType) (model.EntityDefinition, bool) {
	d, ok := r.current().entities[et]
	return d, ok
}

// All returns every definition in navigation order.
func (r *Registry) All() []model.EntityDefinition {
	s := r.current()
	defs := make([]model.EntityDefinition, 0, len(s.order))
	for _, et := range s.order {
		defs = append(defs, s.entities[et])
	}
	return defs
}

// Dependencies returns the ordered referencing tables of et. Unknown
// entities have none.
func (r *Registry) Dependencies(et model.EntityType) []model.DependencyConfig {
	return r.current().entities[et].Dependencies
}

// StatusBan returns the message forbidding deletion of a row of et in
// status, if any.
func (r *Registry) StatusBan(et model.EntityType, status string) (string, bool) {
	msg, ok := r.current().entities[et].StatusBans[status]
	return msg, ok
}

// Cascade returns the child tables deleted with a row of et.
func (r *Registry) Cascade(et model.EntityType) []model.CascadeRule {
	return r.current().entities[et].Cascade
}

// Jobs returns the job configuration of et.
func (r *Registry) Jobs(et model.EntityType) (model.EntityJobConfig, bool) {
	d, ok := r.current().entities[et]
	return d.Jobs, ok
}

// GetLookup returns the lookup definition with the given ID.
func (r *Registry) GetLookup(lookupID string) (model.LookupDefinition, bool) {
	l, ok := r.current().lookups[lookupID]
	return l, ok
}

// Checksum returns the combined checksum of all loaded definitions.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
