// Package audience turns a user list into the set of users a campaign addresses.
package audience

import (
	"context"
	"fmt"

	"surveybot/internal/domain"
)

// Directory reports whether a user can currently be addressed.
type Directory interface {
	IsActive(ctx context.Context, uid domain.UserID) (bool, error)
}

type Resolver struct {
	dir Directory
}

// NewResolver returns a Resolver. A nil dir treats every user as active.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve returns (Included minus Excluded) minus inactive users. The list is
// read, never modified, and an empty result is not an error.
func (r *Resolver) Resolve(ctx context.Context, list *domain.UserList) (domain.UserSet, error) {
	if list == nil {
		return domain.NewUserSet(), nil
	}
	out := list.Included.Minus(list.Excluded)
	if r.dir == nil {
		return out, nil
	}
	for uid := range out {
		ok, err := r.dir.IsActive(ctx, uid)
		if err != nil {
			return nil, fmt.Errorf("resolve list %d: user %d: %w", list.ID, uid, err)
		}
		if !ok {
			delete(out, uid)
		}
	}
	return out, nil
}
