package userdir

import (
	"context"
	"time"

	"github.com/go-go-golems/ctxrelay/pkg/local"
	"github.com/go-go-golems/ctxrelay/pkg/locale"
	"github.com/go-go-golems/ctxrelay/pkg/restoration"
	"github.com/go-go-golems/ctxrelay/pkg/tools"
	"github.com/pkg/errors"
)

type ListUsersInput struct {
	Limit int `json:"limit" jsonschema:"description=Maximum number of users to return,minimum=0"`
	Skip  int `json:"skip" jsonschema:"description=Number of users to skip,minimum=0"`
}

type UserIDInput struct {
	ID int `json:"id" jsonschema:"description=The user ID,minimum=1"`
}

type SearchUsersInput struct {
	Query string `json:"query" jsonschema:"description=The search query"`
}

type AddUserInput struct {
	User User `json:"user" jsonschema:"description=The user to add"`
}

type UpdateUserInput struct {
	ID      int            `json:"id" jsonschema:"description=The ID of the user to update,minimum=1"`
	Updates map[string]any `json:"updates" jsonschema:"description=Fields to update"`
}

// CurrentTime is the result of the current_time tool.
type CurrentTime struct {
	Time     string `json:"time"`
	TimeZone string `json:"timeZone"`
	Locale   string `json:"locale"`
}

// Tools registers the user directory tools and current_time.
type Tools struct {
	client   *Client
	restorer *restoration.Service
	now      func() time.Time
}

func NewTools(client *Client, restorer *restoration.Service) *Tools {
	return &Tools{client: client, restorer: restorer, now: time.Now}
}

func (t *Tools) Register(r *tools.InMemoryToolRegistry) error {
	defs := []struct {
		name, description string
		fn                any
	}{
		{"getAllUsers", "Get all users", t.getAllUsers},
		{"getAllUsersDefault", "Get all users with default pagination", t.getAllUsersDefault},
		{"getUserById", "Get a single user by ID", t.getUserByID},
		{"searchUsers", "Search for users by query", t.searchUsers},
		{"addUser", "Add a new user", t.addUser},
		{"updateUser", "Update a user", t.updateUser},
		{"deleteUser", "Delete a user", t.deleteUser},
		{"current_time", "Current date and time in the caller's time zone", t.currentTime},
	}
	for _, d := range defs {
		if err := r.RegisterFunc(d.name, d.description, d.fn, "userdir"); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tools) getAllUsers(ctx context.Context, in ListUsersInput) (*UsersResponse, error) {
	return t.client.ListUsers(ctx, in.Limit, in.Skip)
}

func (t *Tools) getAllUsersDefault(ctx context.Context) (*UsersResponse, error) {
	return t.client.ListUsersDefault(ctx)
}

func (t *Tools) getUserByID(ctx context.Context, in UserIDInput) (*User, error) {
	return t.client.GetUser(ctx, in.ID)
}

func (t *Tools) searchUsers(ctx context.Context, in SearchUsersInput) (*UsersResponse, error) {
	return t.client.SearchUsers(ctx, in.Query)
}

func (t *Tools) addUser(ctx context.Context, in AddUserInput) (*User, error) {
	return t.client.AddUser(ctx, in.User)
}

func (t *Tools) updateUser(ctx context.Context, in UpdateUserInput) (*User, error) {
	if len(in.Updates) == 0 {
		return nil, errors.New("no fields to update")
	}
	return t.client.UpdateUser(ctx, in.ID, in.Updates)
}

func (t *Tools) deleteUser(ctx context.Context, in UserIDInput) (*User, error) {
	return t.client.DeleteUser(ctx, in.ID)
}

func (t *Tools) currentTime(ctx context.Context) (*CurrentTime, error) {
	t.restorer.RestoreAllContexts(ctx)
	s, _ := local.FromContext(ctx)
	c := locale.Current(s)
	now := t.now().In(c.TimeZone())
	return &CurrentTime{
		Time:     now.Format(time.RFC3339),
		TimeZone: c.TimeZone().String(),
		Locale:   c.Tag.String(),
	}, nil
}
