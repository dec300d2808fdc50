package metadata

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pitabwire/dastyar/internal/crud"
	"github.com/pitabwire/dastyar/model"
)

const (
	opIn    = "in"
	opNotIn = "not_in"
	opEq    = "eq"
	opNeq   = "neq"

	effectHide    = "hide"
	effectShow    = "show"
	effectDisable = "disable"
	effectEnable  = "enable"
)

var rowOperations = []model.Operation{model.OpView, model.OpEdit, model.OpDelete}

var operationIcons = map[model.Operation]string{
	model.OpView:   "eye",
	model.OpEdit:   "edit",
	model.OpDelete: "trash",
	model.OpAdd:    "plus",
}

// ActionProvider resolves the row and add actions of an entity, filtering by
// capabilities.
type ActionProvider struct {
	basePath string
}

// NewActionProvider creates an ActionProvider whose endpoints are rooted at
// basePath, e.g. "/api/v1".
func NewActionProvider(basePath string) *ActionProvider {
	return &ActionProvider{basePath: strings.TrimSuffix(basePath, "/")}
}

// EntityEndpoint returns the endpoint of one row. id may be the "{id}"
// placeholder.
func (p *ActionProvider) EntityEndpoint(et model.EntityType, id string) string {
	return fmt.Sprintf("%s/entities/%s/%s", p.basePath, et, id)
}

// RowActions returns the view, edit and delete actions the operator may
// use. The delete action carries a hide condition for every banned status,
// so the frontend omits it on rows that cannot be deleted.
func (p *ActionProvider) RowActions(def model.EntityDefinition, caps model.CapabilitySet) []model.ActionDescriptor {
	result := []model.ActionDescriptor{}
	for _, op := range rowOperations {
		if !caps.Has(model.Capability(def.Entity, op)) {
			continue
		}
		desc := model.ActionDescriptor{
			ID:        string(op),
			Label:     crud.Title(op, def.DisplayName),
			Icon:      operationIcons[op],
			Operation: op,
			Enabled:   true,
			Visible:   true,
			Endpoint:  p.EntityEndpoint(def.Entity, "{id}"),
		}
		if op == model.OpDelete {
			desc.Style = "danger"
			desc.Confirmation = &model.ConfirmationDescriptor{
				Title:   crud.Title(op, def.DisplayName),
				Message: fmt.Sprintf("آیا از حذف این %s اطمینان دارید؟", def.DisplayName),
				Confirm: "حذف",
				Cancel:  "انصراف",
				Style:   "danger",
			}
			if banned := bannedStatuses(def); len(banned) > 0 {
				desc.Conditions = []model.ConditionDescriptor{{
					Field:    "status",
					Operator: opIn,
					Value:    banned,
					Effect:   effectHide,
				}}
			}
		}
		result = append(result, desc)
	}
	return result
}

// AddAction returns the add action, or nil when the operator may not add or
// the entity has no add form.
func (p *ActionProvider) AddAction(def model.EntityDefinition, caps model.CapabilitySet) *model.ActionDescriptor {
	if len(def.AddFields) == 0 || !caps.Has(model.Capability(def.Entity, model.OpAdd)) {
		return nil
	}
	return &model.ActionDescriptor{
		ID:        string(model.OpAdd),
		Label:     crud.Title(model.OpAdd, def.DisplayName),
		Icon:      operationIcons[model.OpAdd],
		Style:     "primary",
		Operation: model.OpAdd,
		Enabled:   true,
		Visible:   true,
		Endpoint:  fmt.Sprintf("%s/entities/%s", p.basePath, def.Entity),
	}
}

// ForRow resolves the row actions against one row. Conditions whose field
// the row carries are applied here and dropped; the rest pass through for
// the frontend.
func (p *ActionProvider) ForRow(def model.EntityDefinition, caps model.CapabilitySet, row model.Fielder) []model.ActionDescriptor {
	actions := p.RowActions(def, caps)
	for i := range actions {
		var pending []model.ConditionDescriptor
		for _, cond := range actions[i].Conditions {
			value, ok := row.Field(cond.Field)
			if !ok {
				pending = append(pending, cond)
				continue
			}
			applyConditionEffect(&actions[i], cond.Effect, evaluateCondition(cond, value))
		}
		actions[i].Conditions = pending
	}
	return actions
}

// bannedStatuses lists the status values that forbid deletion, sorted.
func bannedStatuses(def model.EntityDefinition) []string {
	banned := make([]string, 0, len(def.StatusBans))
	for status := range def.StatusBans {
		banned = append(banned, status)
	}
	slices.Sort(banned)
	return banned
}

func evaluateCondition(cond model.ConditionDescriptor, value any) bool {
	switch cond.Operator {
	case opEq:
		return fmt.Sprint(value) == fmt.Sprint(cond.Value)
	case opNeq:
		return fmt.Sprint(value) != fmt.Sprint(cond.Value)
	case opIn:
		return valueIn(value, cond.Value)
	case opNotIn:
		return !valueIn(value, cond.Value)
	}
	return false
}

func applyConditionEffect(desc *model.ActionDescriptor, effect string, met bool) {
	switch effect {
	case effectHide:
		if met {
			desc.Visible = false
		}
	case effectShow:
		if !met {
			desc.Visible = false
		}
	case effectDisable:
		if met {
			desc.Enabled = false
		}
	case effectEnable:
		if !met {
			desc.Enabled = false
		}
	}
}

// valueIn checks value against a list given as a slice or a comma-separated
// string.
func valueIn(value, list any) bool {
	s := fmt.Sprint(value)
	switch l := list.(type) {
	case []string:
		return slices.Contains(l, s)
	case []any:
		for _, v := range l {
			if fmt.Sprint(v) == s {
				return true
			}
		}
	case string:
		for _, v := range strings.Split(l, ",") {
			if strings.TrimSpace(v) == s {
				return true
			}
		}
	}
	return false
}
