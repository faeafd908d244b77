package audience

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"surveybot/internal/domain"
)

type dirFunc func(uid domain.UserID) (bool, error)

func (f dirFunc) IsActive(_ context.Context, uid domain.UserID) (bool, error) { return f(uid) }

func TestResolve(t *testing.T) {
	t.Parallel()
	inactive := dirFunc(func(uid domain.UserID) (bool, error) { return uid != 4, nil })

	tests := []struct {
		name string
		list *domain.UserList
		dir  Directory
		want []domain.UserID
	}{
		{name: "excluded wins", list: &domain.UserList{Included: domain.NewUserSet(1, 2, 3), Excluded: domain.NewUserSet(2)}, want: []domain.UserID{1, 3}},
		{name: "inactive dropped", list: &domain.UserList{Included: domain.NewUserSet(1, 4)}, dir: inactive, want: []domain.UserID{1}},
		{name: "all excluded is empty", list: &domain.UserList{Included: domain.NewUserSet(5), Excluded: domain.NewUserSet(5)}, want: []domain.UserID{}},
		{name: "nil list", list: nil, want: []domain.UserID{}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NewResolver(tc.dir).Resolve(context.Background(), tc.list)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if !reflect.DeepEqual(got.Sorted(), tc.want) {
				t.Fatalf("got %v want %v", got.Sorted(), tc.want)
			}
		})
	}
}

func TestResolveDoesNotMutateList(t *testing.T) {
	t.Parallel()
	l := &domain.UserList{Included: domain.NewUserSet(1, 2), Excluded: domain.NewUserSet(2)}
	if _, err := NewResolver(nil).Resolve(context.Background(), l); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if l.Included.Len() != 2 || l.Excluded.Len() != 1 {
		t.Fatalf("list mutated: %+v", l)
	}
}

func TestResolveDirectoryError(t *testing.T) {
	t.Parallel()
	boom := errors.New("db down")
	_, err := NewResolver(dirFunc(func(domain.UserID) (bool, error) { return false, boom })).
		Resolve(context.Background(), &domain.UserList{ID: 9, Included: domain.NewUserSet(1)})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
}
