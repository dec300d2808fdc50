package action

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/internal/store"
	"github.com/pitabwire/dastyar/model"
)

// Client messages.
const (
	MsgClientAdded       = "ثبت مشتری با موفقیت انجام شد."
	MsgClientAddFailed   = "ثبت مشتری موفقیت آمیز نبود دوباره تلاش کنید."
	MsgClientDeleted     = "مشتری با موفقیت حذف شد."
	MsgRequiredFields    = "تمام فیلدهای الزامی را پر کنید."
	MsgClientNames       = "لیست مشتری‌ها با موفقیت دریافت شد."
	MsgClientNamesFailed = "خطا در دریافت لیست مشتری‌ها."
)

const (
	initialClientStatus = "not_started"
	companyFieldPrefix  = "company_"
	companyNameField    = "company_name"
)

func personFrom(form model.FormData) store.Party {
	return store.Party{
		Name:       strings.TrimSpace(form["name"]),
		SSN:        form["ssn"],
		Phone:      form["phone"],
		Address:    form["address"],
		PostalCode: form["postal_code"],
		County:     form["county"],
		Town:       form["town"],
	}
}

// companyFrom reads the company_* fields. The company shares the phone of
// its contact person.
func companyFrom(form model.FormData) store.Party {
	return store.Party{
		Name:       strings.TrimSpace(form[companyNameField]),
		SSN:        form[companyFieldPrefix+"ssn"],
		Phone:      form["phone"],
		Address:    form[companyFieldPrefix+"address"],
		PostalCode: form[companyFieldPrefix+"postal_code"],
	}
}

// AddClient creates the person, the company when company_name is set, and
// the client row linking them.
func (s *Service) AddClient(ctx context.Context, form model.FormData) model.ActionState[string] {
	ctx, span := observability.StartSpan(ctx, "action.add_client")
	id, err := s.addClient(ctx, form)
	observability.EndSpanWithError(span, err)
	if err != nil {
		s.log(ctx).Error("add client failed", zap.Error(err))
		return model.Failed[string](MsgClientAddFailed)
	}
	s.log(ctx).Info("client added", zap.String("client_id", id))
	return model.Succeeded(MsgClientAdded, id)
}

func (s *Service) addClient(ctx context.Context, form model.FormData) (string, error) {
	personID, err := s.store.CreatePerson(ctx, personFrom(form))
	if err != nil {
		return "", err
	}

	c := store.NewClient{PersonID: personID, Type: model.ClientPersonal, Status: initialClientStatus}
	if company := companyFrom(form); company.Name != "" {
		if c.CompanyID, err = s.store.CreateCompany(ctx, company); err != nil {
			return "", err
		}
		c.Type = model.ClientCompany
	}
	return s.store.CreateClient(ctx, c)
}

// UpdateClient rewrites the party behind a client and, when the form
// carries one, moves the client to a new status.
func (s *Service) UpdateClient(ctx context.Context, id string, form model.FormData) model.ActionState[string] {
	msgs := messagesFor(model.EntityClient)
	party := personFrom(form)
	if party.Name == "" || strings.TrimSpace(party.Phone) == "" {
		return model.Failed[string](MsgRequiredFields)
	}

	ctx, span := observability.StartSpan(ctx, "action.update_client")
	defer span.End()

	row, msg, ok := s.current(ctx, model.EntityClient, id)
	if !ok {
		return model.Failed[string](msg)
	}
	status := form["status"]
	if err := s.transition(model.EntityClient, row.Status, status); err != nil {
		return model.Failed[string](err.Error())
	}

	err := s.store.UpdateClient(ctx, id, party, status)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return model.Failed[string](msgs.notFound)
	case err != nil:
		observability.EndSpanWithError(span, err)
		s.log(ctx).Error("update client failed", zap.String("client_id", id), zap.Error(err))
		return model.Failed[string](msgs.updateFailed)
	}
	return model.Succeeded(msgs.updated, id)
}

// DeleteClient deletes a client nothing references.
func (s *Service) DeleteClient(ctx context.Context, id string) model.ActionState[bool] {
	state := s.Delete(ctx, model.EntityClient, id)
	if state.Success {
		state.Message = MsgClientDeleted
	}
	return state
}

// GetClients returns one page of client rows.
func (s *Service) GetClients(ctx context.Context, q store.Query) model.ActionState[[]*model.RecordRow] {
	return s.GetRows(ctx, model.EntityClient, q)
}

// GetTotalClients counts the clients matching f.
func (s *Service) GetTotalClients(ctx context.Context, f store.Filter) model.ActionState[int] {
	return s.GetTotal(ctx, model.EntityClient, f)
}

// GetAllClientNames lists every client for the client selector. A failure
// still carries an empty list.
func (s *Service) GetAllClientNames(ctx context.Context) model.ActionState[[]store.ClientName] {
	names, err := s.store.ClientNames(ctx)
	if err != nil {
		s.log(ctx).Error("list client names failed", zap.Error(err))
		return model.ActionState[[]store.ClientName]{Message: MsgClientNamesFailed, Data: []store.ClientName{}}
	}
	if names == nil {
		names = []store.ClientName{}
	}
	return model.Succeeded(MsgClientNames, names)
}
