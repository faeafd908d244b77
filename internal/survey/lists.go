package survey

import (
	"context"
	"fmt"
	"strings"
	"time"

	"surveybot/internal/domain"
	"surveybot/internal/eventbus"
	"surveybot/internal/storage"
	logx "surveybot/pkg/logx"
)

// Lists manages user lists. Every call is admin-only.
type Lists struct {
	store storage.Lists
	auth  Authorizer
	bus   eventbus.Bus
	log   logx.Logger
	now   clock
}

func NewLists(store storage.Lists, auth Authorizer, bus eventbus.Bus, log logx.Logger) *Lists {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Lists{store: store, auth: auth, bus: bus, log: log.With(logx.String("comp", "lists")), now: time.Now}
}

func (l *Lists) Create(ctx context.Context, actor domain.UserID, name string, include ...domain.UserID) (*domain.UserList, error) {
	if err := l.auth.Authorize(ctx, actor, domain.TierAdmin); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: list name required", domain.ErrInvalidArgument)
	}
	now := l.now()
	list := &domain.UserList{
		Name:      name,
		Included:  domain.NewUserSet(include...),
		Excluded:  domain.NewUserSet(),
		CreatedBy: actor,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.store.CreateList(ctx, list); err != nil {
		return nil, err
	}
	l.changed(list, actor)
	return list, nil
}

// Update applies edit to the list. Campaigns already started are unaffected.
func (l *Lists) Update(ctx context.Context, actor domain.UserID, id domain.ListID, edit domain.ListEdit) (*domain.UserList, error) {
	if err := l.auth.Authorize(ctx, actor, domain.TierAdmin); err != nil {
		return nil, err
	}
	if edit.Empty() {
		return nil, fmt.Errorf("%w: nothing to change", domain.ErrInvalidArgument)
	}
	list, err := l.store.GetList(ctx, id)
	if err != nil {
		return nil, err
	}
	edit.Apply(list)
	list.UpdatedAt = l.now()
	if err := l.store.SaveList(ctx, list); err != nil {
		return nil, err
	}
	l.changed(list, actor)
	return list, nil
}

func (l *Lists) Get(ctx context.Context, actor domain.UserID, id domain.ListID) (*domain.UserList, error) {
	if err := l.auth.Authorize(ctx, actor, domain.TierAdmin); err != nil {
		return nil, err
	}
	return l.store.GetList(ctx, id)
}

func (l *Lists) List(ctx context.Context, actor domain.UserID) ([]*domain.UserList, error) {
	if err := l.auth.Authorize(ctx, actor, domain.TierAdmin); err != nil {
		return nil, err
	}
	return l.store.ListLists(ctx)
}

func (l *Lists) changed(list *domain.UserList, actor domain.UserID) {
	l.log.Info("list changed",
		logx.Int64("list", list.ID),
		logx.String("name", list.Name),
		logx.Int("included", list.Included.Len()),
		logx.Int("excluded", list.Excluded.Len()),
	)
	if l.bus != nil {
		l.bus.Publish(eventbus.Event{Type: eventbus.ListChanged, Data: eventbus.ListData{ListID: list.ID, Name: list.Name, ActorID: actor}})
	}
}
