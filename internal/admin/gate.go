// Package admin decides who may run privileged operations and manages the admin table.
package admin

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

// Gate authorizes privileged calls. Every mutating entry point calls Authorize first.
type Gate struct {
	store storage.Admins
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
}

func New(store storage.Admins, bus eventbus.Bus, log logx.Logger) *Gate {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gate{store: store, bus: bus, log: log.With(logx.String("comp", "admin")), now: time.Now}
}

// Authorize returns nil when uid holds at least the required tier, otherwise
// domain.ErrPermissionDenied. Storage failures are returned wrapped.
func (g *Gate) Authorize(ctx context.Context, uid domain.UserID, required domain.Tier) error {
	if required <= domain.TierUser {
		return nil
	}
	a, err := g.store.GetAdmin(ctx, uid)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return fmt.Errorf("authorize %d: %w", uid, err)
	case a.Tier >= required:
		return nil
	}
	g.publish(eventbus.AdminDenied, eventbus.AdminData{ActorID: uid, Action: "tier:" + required.String()})
	return domain.ErrPermissionDenied
}

func (g *Gate) IsAdmin(ctx context.Context, uid domain.UserID) bool {
	return g.Authorize(ctx, uid, domain.TierAdmin) == nil
}

// Grant makes uid an admin. Granting an existing admin is a no-op.
func (g *Gate) Grant(ctx context.Context, actor, uid domain.UserID) error {
	if err := g.Authorize(ctx, actor, domain.TierAdmin); err != nil {
		return err
	}
	if uid == 0 {
		return fmt.Errorf("%w: user id required", domain.ErrInvalidArgument)
	}
	if _, err := g.store.GetAdmin(ctx, uid); err == nil {
		return nil
	}
	if err := g.store.PutAdmin(ctx, domain.AdminUser{UserID: uid, Tier: domain.TierAdmin, GrantedBy: actor, GrantedAt: g.now()}); err != nil {
		return err
	}
	g.log.Info("admin granted", logx.Int64("actor", actor), logx.Int64("user", uid))
	g.publish(eventbus.AdminGranted, eventbus.AdminData{ActorID: actor, UserID: uid})
	return nil
}

// Revoke removes uid from the admin table. The last admin cannot be revoked.
func (g *Gate) Revoke(ctx context.Context, actor, uid domain.UserID) error {
	if err := g.Authorize(ctx, actor, domain.TierAdmin); err != nil {
		return err
	}
	if err := g.store.DeleteAdmin(ctx, uid); err != nil {
		return err
	}
	g.log.Info("admin revoked", logx.Int64("actor", actor), logx.Int64("user", uid))
	g.publish(eventbus.AdminRevoked, eventbus.AdminData{ActorID: actor, UserID: uid})
	return nil
}

func (g *Gate) List(ctx context.Context, actor domain.UserID) ([]domain.AdminUser, error) {
	if err := g.Authorize(ctx, actor, domain.TierAdmin); err != nil {
		return nil, err
	}
	return g.store.ListAdmins(ctx)
}

// AdminIDs lists admin ids without an authorization check. Internal use only.
func (g *Gate) AdminIDs(ctx context.Context) (domain.UserSet, error) {
	admins, err := g.store.ListAdmins(ctx)
	if err != nil {
		return nil, err
	}
	out := domain.NewUserSet()
	for _, a := range admins {
		out.Add(a.UserID)
	}
	return out, nil
}

// Bootstrap seeds ids as admins when missing and returns how many were added.
func (g *Gate) Bootstrap(ctx context.Context, ids []domain.UserID) (int, error) {
	added := 0
	for _, id := range ids {
		if id == 0 {
			continue
		}
		_, err := g.store.GetAdmin(ctx, id)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return added, err
		}
		if err := g.store.PutAdmin(ctx, domain.AdminUser{UserID: id, Tier: domain.TierAdmin, GrantedAt: g.now()}); err != nil {
			return added, err
		}
		added++
	}
	if added > 0 {
		g.log.Info("admins bootstrapped", logx.Int("added", added))
	}
	return added, nil
}

func (g *Gate) publish(typ string, data any) {
	if g.bus != nil {
		g.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}
