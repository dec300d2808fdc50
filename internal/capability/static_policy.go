package capability

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/dastyar/model"
)

// DefaultPolicy grants admin everything, clerk day-to-day client and
// pre-order work, and viewer read access.
//
//go:embed default_policy.yaml
var DefaultPolicy []byte

type policyFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// StaticPolicyEvaluator resolves capabilities from a static YAML policy
// mapping roles to capability strings.
type StaticPolicyEvaluator struct {
	path   string
	mu     sync.RWMutex
	policy policyFile
}

var _ model.PolicyEvaluator = (*StaticPolicyEvaluator)(nil)

// NewStaticPolicyEvaluator creates an evaluator that loads the policy from
// path. An empty path serves DefaultPolicy.
func NewStaticPolicyEvaluator(path string) (*StaticPolicyEvaluator, error) {
	e := &StaticPolicyEvaluator{path: path}
	if err := e.Sync(); err != nil {
		return nil, err
	}
	return e, nil
}

// ResolveCapabilities returns the union of capabilities for all roles in the
// request context.
func (e *StaticPolicyEvaluator) ResolveCapabilities(rctx *model.RequestContext) (model.CapabilitySet, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	caps := make(model.CapabilitySet)
	for _, role := range rctx.Roles {
		for _, c := range e.policy.Roles[role] {
			caps[c] = true
		}
	}
	return caps, nil
}

// Evaluate checks a single capability against the resolved set.
func (e *StaticPolicyEvaluator) Evaluate(rctx *model.RequestContext, capability string) (bool, error) {
	caps, err := e.ResolveCapabilities(rctx)
	if err != nil {
		return false, err
	}
	return caps.Has(capability), nil
}

// Roles returns the role names of the policy.
func (e *StaticPolicyEvaluator) Roles() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	roles := make([]string, 0, len(e.policy.Roles))
	for r := range e.policy.Roles {
		roles = append(roles, r)
	}
	return roles
}

// Sync reloads the policy. A parse failure keeps the previous policy.
func (e *StaticPolicyEvaluator) Sync() error {
	data := DefaultPolicy
	source := "default policy"
	if e.path != "" {
		var err error
		if data, err = os.ReadFile(e.path); err != nil {
			return fmt.Errorf("capability: reading policy file %s: %w", e.path, err)
		}
		source = e.path
	}

	var p policyFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("capability: parsing %s: %w", source, err)
	}

	e.mu.Lock()
	e.policy = p
	e.mu.Unlock()

	return nil
}
