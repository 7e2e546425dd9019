package main

import (
	"context"
	"testing"

	"github.com/atiera/atiera/internal/shared"
	"github.com/atiera/atiera/internal/users"
)

type stubUserLookup struct {
	users map[int64]users.User
}

func (s stubUserLookup) GetUser(ctx context.Context, id int64) (users.User, error) {
	user, ok := s.users[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	return user, nil
}

type stubRoleLookup struct {
	assignable map[int64]bool
}

func (s stubRoleLookup) UserHoldsAssignableRole(ctx context.Context, userID int64) (bool, error) {
	return s.assignable[userID], nil
}

func TestAssigneeDirectoryRequiresActiveStaff(t *testing.T) {
	directory := assigneeDirectory{
		users: stubUserLookup{users: map[int64]users.User{
			1: {ID: 1, Status: shared.StatusActive},
			2: {ID: 2, Status: shared.StatusActive},
			3: {ID: 3, Status: shared.StatusInactive},
		}},
		roles: stubRoleLookup{assignable: map[int64]bool{1: true, 3: true}},
	}
	ctx := context.Background()

	cases := []struct {
		name   string
		userID int64
		want   bool
	}{
		{"active staff", 1, true},
		{"active without assignable role", 2, false},
		{"inactive staff", 3, false},
		{"unknown user", 99, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := directory.IsAssignable(ctx, tc.userID)
			if err != nil {
				t.Fatalf("is assignable: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
