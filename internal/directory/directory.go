// Package directory tracks users who have talked to the bot and whether they are active.
package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"surveybot/internal/domain"
	"surveybot/internal/eventbus"
	"surveybot/internal/storage"
	logx "surveybot/pkg/logx"
)

type Authorizer interface {
	Authorize(ctx context.Context, uid domain.UserID, required domain.Tier) error
}

type Directory struct {
	store storage.Users
	auth  Authorizer
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
}

func New(store storage.Users, auth Authorizer, bus eventbus.Bus, log logx.Logger) *Directory {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Directory{store: store, auth: auth, bus: bus, log: log.With(logx.String("comp", "directory")), now: time.Now}
}

// IsActive reports whether uid may receive campaigns. Unknown users count as active
// so lists can name people before they first message the bot.
func (d *Directory) IsActive(ctx context.Context, uid domain.UserID) (bool, error) {
	u, err := d.store.GetUser(ctx, uid)
	if errors.Is(err, domain.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return u.Active, nil
}

// Register records uid and its username. A deactivated user stays deactivated.
func (d *Directory) Register(ctx context.Context, uid domain.UserID, username string) error {
	if uid == 0 {
		return nil
	}
	return d.store.UpsertUser(ctx, domain.User{ID: uid, Username: username, Active: true, UpdatedAt: d.now()})
}

func (d *Directory) Get(ctx context.Context, uid domain.UserID) (*domain.User, error) {
	return d.store.GetUser(ctx, uid)
}

// SetActive toggles whether uid is addressable. Campaigns already started keep their audience.
func (d *Directory) SetActive(ctx context.Context, actor, uid domain.UserID, active bool) error {
	if err := d.auth.Authorize(ctx, actor, domain.TierAdmin); err != nil {
		return err
	}
	if uid == 0 {
		return fmt.Errorf("%w: user id required", domain.ErrInvalidArgument)
	}
	if err := d.store.SetUserActive(ctx, uid, active, d.now()); err != nil {
		return err
	}
	typ := eventbus.UserDeactivated
	if active {
		typ = eventbus.UserActivated
	}
	d.log.Info("user state changed", logx.Int64("actor", actor), logx.Int64("user", uid), logx.Bool("active", active))
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: typ, Data: eventbus.AdminData{ActorID: actor, UserID: uid}})
	}
	return nil
}
