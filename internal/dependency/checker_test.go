package dependency

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/model"
)

type probeKey struct{ table, column, value string }

type fakeStore struct {
	refs       map[probeKey]bool
	probeErr   map[string]error
	cascadeErr map[string]error
	deleteErr  error

	probed  []string
	cascade []string
	deleted []string
}

func (s *fakeStore) Exists(_ context.Context, table, column, value string) (bool, error) {
	s.probed = append(s.probed, table)
	if err := s.probeErr[table]; err != nil {
		return false, err
	}
	return s.refs[probeKey{table, column, value}], nil
}

func (s *fakeStore) DeleteWhere(_ context.Context, table, _, _ string) (int64, error) {
	s.cascade = append(s.cascade, table)
	if err := s.cascadeErr[table]; err != nil {
		return 0, err
	}
	return 1, nil
}

func (s *fakeStore) DeleteByID(_ context.Context, table, id string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, table+"/"+id)
	return nil
}

type fakeRules struct {
	deps    map[model.EntityType][]model.DependencyConfig
	bans    map[model.EntityType]map[string]string
	cascade map[model.EntityType][]model.CascadeRule
}

func (r fakeRules) Dependencies(et model.EntityType) []model.DependencyConfig { return r.deps[et] }
func (r fakeRules) Cascade(et model.EntityType) []model.CascadeRule           { return r.cascade[et] }
func (r fakeRules) StatusBan(et model.EntityType, status string) (string, bool) {
	msg, ok := r.bans[et][status]
	return msg, ok
}

const (
	msgPreOrder = "این مشتری دارای پیش سفارش است و قابل حذف نیست."
	msgOrder    = "این مشتری دارای سفارش است و قابل حذف نیست."
)

func clientRules() fakeRules {
	return fakeRules{
		deps: map[model.EntityType][]model.DependencyConfig{
			model.EntityClient: {
				{Table: "pre_order", Column: "client_id", Message: msgPreOrder},
				{Table: "order", Column: "client_id", Message: msgOrder},
				{Table: "invoice", Column: "client_id", Message: "invoice"},
			},
		},
		bans: map[model.EntityType]map[string]string{
			model.EntityOrder: {"invoiced": "سفارش فاکتور شده قابل حذف نیست."},
		},
	}
}

func TestCheckEntityDependencies_deletable(t *testing.T) {
	store := &fakeStore{}
	c := NewChecker(store, clientRules(), nil, nil)

	out := c.CheckEntityDependencies(context.Background(), model.EntityClient, "7")

	assert.Equal(t, Deletable{}, out)
	assert.Equal(t, []string{"pre_order", "order", "invoice"}, store.probed)
	assert.Equal(t, model.Succeeded(MsgDeletable, true), out.State())
}

func TestCheckEntityDependencies_first_hit_wins(t *testing.T) {
	store := &fakeStore{refs: map[probeKey]bool{
		{"order", "client_id", "7"}:   true,
		{"invoice", "client_id", "7"}: true,
	}}
	c := NewChecker(store, clientRules(), nil, nil)

	out := c.CheckEntityDependencies(context.Background(), model.EntityClient, "7")

	assert.Equal(t, Blocked{Reason: msgOrder}, out)
	assert.Equal(t, []string{"pre_order", "order"}, store.probed, "invoice must not be probed")

	state := out.State()
	assert.True(t, state.Success)
	assert.False(t, state.Data)
	assert.Equal(t, msgOrder, state.Message)
}

func TestCheckEntityDependencies_probe_error_fails_closed(t *testing.T) {
	boom := errors.New("connection reset")
	store := &fakeStore{probeErr: map[string]error{"pre_order": boom}}
	c := NewChecker(store, clientRules(), nil, nil)

	out := c.CheckEntityDependencies(context.Background(), model.EntityClient, "7")

	failed, ok := out.(CheckFailed)
	require.True(t, ok, "got %T", out)
	assert.ErrorIs(t, failed.Err, boom)
	assert.Equal(t, []string{"pre_order"}, store.probed)
	assert.Equal(t, model.Failed[bool](MsgCheckFailed), out.State())
}

func TestCheckEntityDependencies_unknown_entity(t *testing.T) {
	store := &fakeStore{}
	c := NewChecker(store, clientRules(), nil, nil)

	out := c.CheckEntityDependencies(context.Background(), "supplier", "1")
	assert.Equal(t, Deletable{}, out)
	assert.Empty(t, store.probed)
}

func TestCheckEntityDependencies_records_metric(t *testing.T) {
	m := observability.InitMetrics(prometheus.NewRegistry())
	store := &fakeStore{refs: map[probeKey]bool{{"pre_order", "client_id", "7"}: true}}
	c := NewChecker(store, clientRules(), nil, m)

	c.CheckEntityDependencies(context.Background(), model.EntityClient, "7")
	c.CheckEntityDependencies(context.Background(), model.EntityClient, "8")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DependencyChecksTotal.WithLabelValues("client", "blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DependencyChecksTotal.WithLabelValues("client", "deletable")))
}

func TestCheckStatusBasedDeletion(t *testing.T) {
	c := NewChecker(&fakeStore{}, clientRules(), nil, nil)

	msg, banned := c.CheckStatusBasedDeletion(model.EntityOrder, "invoiced")
	assert.True(t, banned)
	assert.Equal(t, "سفارش فاکتور شده قابل حذف نیست.", msg)

	_, banned = c.CheckStatusBasedDeletion(model.EntityOrder, "pending")
	assert.False(t, banned)
}

func TestCheckEntityDependencies_repeatable(t *testing.T) {
	tests := []struct {
		name  string
		store func() *fakeStore
	}{
		{"deletable", func() *fakeStore { return &fakeStore{} }},
		{"blocked", func() *fakeStore {
			return &fakeStore{refs: map[probeKey]bool{{"order", "client_id", "7"}: true}}
		}},
		{"check failed", func() *fakeStore {
			return &fakeStore{probeErr: map[string]error{"order": errors.New("connection reset")}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := tt.store()
			c := NewChecker(store, clientRules(), nil, nil)

			first := c.CheckEntityDependencies(context.Background(), model.EntityClient, "7")
			probed := append([]string(nil), store.probed...)
			second := c.CheckEntityDependencies(context.Background(), model.EntityClient, "7")

			assert.Equal(t, first, second)
			assert.Equal(t, first.State(), second.State())
			assert.Equal(t, append(probed, probed...), store.probed, "the same references are probed each time")
			assert.Empty(t, store.cascade, "a check deletes nothing")
			assert.Empty(t, store.deleted, "a check deletes nothing")
		})
	}
}

func TestCheckStatusBasedDeletion_repeatable(t *testing.T) {
	c := NewChecker(&fakeStore{}, clientRules(), nil, nil)

	for _, status := range []string{"invoiced", "pending", ""} {
		msg1, banned1 := c.CheckStatusBasedDeletion(model.EntityOrder, status)
		msg2, banned2 := c.CheckStatusBasedDeletion(model.EntityOrder, status)
		assert.Equal(t, banned1, banned2, status)
		assert.Equal(t, msg1, msg2, status)
	}
}

func TestCascadeDeleteRelatedRecords_continues_on_failure(t *testing.T) {
	rules := clientRules()
	rules.cascade = map[model.EntityType][]model.CascadeRule{
		model.EntityOrder: {
			{Table: "order_item", Column: "order_id"},
			{Table: "order_note", Column: "order_id"},
		},
	}
	store := &fakeStore{cascadeErr: map[string]error{"order_item": errors.New("locked")}}
	c := NewChecker(store, rules, nil, nil)

	state := c.CascadeDeleteRelatedRecords(context.Background(), model.EntityOrder, "3")

	assert.True(t, state.Success)
	assert.Equal(t, MsgCascadeDone, state.Message)
	assert.Equal(t, []string{"order_item", "order_note"}, store.cascade)
}

func TestGenericEntityDelete_success(t *testing.T) {
	rules := clientRules()
	rules.cascade = map[model.EntityType][]model.CascadeRule{
		model.EntityClient: {{Table: "client_note", Column: "client_id"}},
	}
	store := &fakeStore{}
	c := NewChecker(store, rules, nil, nil)

	state := c.GenericEntityDelete(context.Background(), model.EntityClient, "7", "client")

	assert.Equal(t, model.Succeeded(MsgDeleted, true), state)
	assert.Equal(t, []string{"client_note"}, store.cascade)
	assert.Equal(t, []string{"client/7"}, store.deleted)
}

func TestGenericEntityDelete_additional_check_stops_sequence(t *testing.T) {
	store := &fakeStore{}
	c := NewChecker(store, clientRules(), nil, nil)

	var calls []string
	first := func(context.Context, string) error {
		calls = append(calls, "first")
		return errors.New("پیش سفارش تبدیل شده قابل حذف نیست.")
	}
	second := func(context.Context, string) error {
		calls = append(calls, "second")
		return nil
	}

	state := c.GenericEntityDelete(context.Background(), model.EntityClient, "7", "client", first, second)

	assert.False(t, state.Success)
	assert.Equal(t, "پیش سفارش تبدیل شده قابل حذف نیست.", state.Message)
	assert.Equal(t, []string{"first"}, calls)
	assert.Empty(t, store.probed)
	assert.Empty(t, store.deleted)
}

func TestGenericEntityDelete_blocked(t *testing.T) {
	store := &fakeStore{refs: map[probeKey]bool{{"pre_order", "client_id", "7"}: true}}
	c := NewChecker(store, clientRules(), nil, nil)

	state := c.GenericEntityDelete(context.Background(), model.EntityClient, "7", "client")

	assert.Equal(t, model.Failed[bool](msgPreOrder), state)
	assert.Empty(t, store.cascade)
	assert.Empty(t, store.deleted)
}

func TestGenericEntityDelete_check_failed(t *testing.T) {
	store := &fakeStore{probeErr: map[string]error{"order": errors.New("timeout")}}
	c := NewChecker(store, clientRules(), nil, nil)

	state := c.GenericEntityDelete(context.Background(), model.EntityClient, "7", "client")

	assert.Equal(t, model.Failed[bool](MsgCheckFailed), state)
	assert.Empty(t, store.deleted)
}

func TestGenericEntityDelete_delete_error(t *testing.T) {
	store := &fakeStore{deleteErr: errors.New("fk violation")}
	c := NewChecker(store, clientRules(), nil, nil)

	state := c.GenericEntityDelete(context.Background(), model.EntityClient, "7", "client")

	assert.Equal(t, model.Failed[bool](MsgDeleteFailed), state)
}

func TestStatusCheck(t *testing.T) {
	store := &fakeStore{}
	c := NewChecker(store, clientRules(), nil, nil)

	statusOf := func(status string) func(context.Context, string) (string, error) {
		return func(context.Context, string) (string, error) { return status, nil }
	}

	state := c.GenericEntityDelete(context.Background(), model.EntityOrder, "3", "order",
		c.StatusCheck(model.EntityOrder, statusOf("invoiced")))
	assert.Equal(t, model.Failed[bool]("سفارش فاکتور شده قابل حذف نیست."), state)

	state = c.GenericEntityDelete(context.Background(), model.EntityOrder, "3", "order",
		c.StatusCheck(model.EntityOrder, statusOf("pending")))
	assert.True(t, state.Success)

	lookupErr := errors.New("not found")
	check := c.StatusCheck(model.EntityOrder, func(context.Context, string) (string, error) {
		return "", lookupErr
	})
	assert.ErrorIs(t, check(context.Background(), "3"), lookupErr)
}

func TestOutcome_kinds(t *testing.T) {
	assert.Equal(t, "deletable", Deletable{}.Kind())
	assert.Equal(t, "blocked", Blocked{}.Kind())
	assert.Equal(t, "failed", CheckFailed{}.Kind())
}
