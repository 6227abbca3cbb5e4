package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercado/backend/internal/domain"
	"mercado/backend/internal/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func (s *userStoreStub) UpdateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for username, existing := range s.users {
		if existing.ID == user.ID {
			existing.Role = user.Role
			existing.Active = user.Active
			s.users[username] = existing
			return nil
		}
	}
	return store.NotFound("user", user.ID)
}

func legacyAdminStore() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				ID:        "usr-admin",
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	users := legacyAdminStore()

	manager := NewAuthManager(testSecret, time.Hour, users, nil)
	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	stored, err := users.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, strings.HasPrefix(stored[0].Password, "$2"), "expected bcrypt hash, got %s", stored[0].Password)
	assert.Equal(t, 1, users.updates)
}

func TestLoginTokenCarriesUserID(t *testing.T) {
	manager := NewAuthManager(testSecret, time.Hour, legacyAdminStore(), nil)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: " Admin ", Password: "admin123"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, resp.Role)

	actor, err := manager.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{ID: "usr-admin", Username: "admin", Role: domain.RoleAdmin}, actor)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	users := legacyAdminStore()
	inactive := users.users["admin"]
	inactive.Username = "former"
	inactive.ID = "usr-former"
	inactive.Active = false
	users.users["former"] = inactive

	manager := NewAuthManager(testSecret, time.Hour, users, nil)

	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "nope"})
	assert.ErrorIs(t, err, store.ErrUnauthenticated)
	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "ghost", Password: "admin123"})
	assert.ErrorIs(t, err, store.ErrUnauthenticated)
	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "former", Password: "admin123"})
	assert.ErrorIs(t, err, store.ErrUnauthenticated)
}

func TestParseTokenRejectsForeignSignature(t *testing.T) {
	issuer := NewAuthManager("ffffffffffffffffffffffffffffffff", time.Hour, legacyAdminStore(), nil)
	verifier := NewAuthManager(testSecret, time.Hour, nil, nil)

	resp, err := issuer.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	_, err = verifier.ParseToken(resp.AccessToken)
	assert.ErrorIs(t, err, store.ErrUnauthenticated)
	_, err = verifier.ParseToken("not-a-token")
	assert.ErrorIs(t, err, store.ErrUnauthenticated)
}

func TestCreateCashierStoresPasswordHash(t *testing.T) {
	users := legacyAdminStore()
	manager := NewAuthManager(testSecret, time.Hour, users, nil)

	cashier, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "Caixa02", Password: "pass1234"})
	require.NoError(t, err)
	assert.Equal(t, "caixa02", cashier.Username)
	assert.Equal(t, domain.RoleCashier, cashier.Role)
	assert.True(t, strings.HasPrefix(cashier.ID, "usr_"))

	saved, ok := users.users["caixa02"]
	require.True(t, ok, "expected cashier to be saved")
	assert.True(t, strings.HasPrefix(saved.Password, "$2"))

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "caixa02", Password: "pass1234"})
	require.NoError(t, err)
	actor, err := manager.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, cashier.ID, actor.ID)

	_, err = manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "caixa02", Password: "pass1234"})
	assert.ErrorIs(t, err, store.ErrValidation)
	_, err = manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "abc", Password: "pass1234"})
	assert.ErrorIs(t, err, store.ErrValidation)
	_, err = manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "caixa03", Password: "123"})
	assert.ErrorIs(t, err, store.ErrValidation)

	cashiers := manager.ListCashiers(context.Background())
	require.Len(t, cashiers, 1)
	assert.Equal(t, "caixa02", cashiers[0].Username)
}

func TestUpdateUserChangesRoleAndActiveFlag(t *testing.T) {
	users := legacyAdminStore()
	manager := NewAuthManager(testSecret, time.Hour, users, nil)
	admin := domain.Actor{ID: "usr-admin", Username: "admin", Role: domain.RoleAdmin}
	ctx := context.Background()

	cashier, err := manager.CreateCashier(ctx, domain.CashierCreateRequest{Username: "caixa02", Password: "pass1234"})
	require.NoError(t, err)
	resp, err := manager.Login(ctx, domain.LoginRequest{Username: "caixa02", Password: "pass1234"})
	require.NoError(t, err)
	token, err := manager.ParseToken(resp.AccessToken)
	require.NoError(t, err)

	promoted, err := manager.UpdateUser(ctx, admin, cashier.ID, domain.UserUpdateRequest{Role: ptr(" Admin ")})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, promoted.Role)
	assert.Equal(t, domain.RoleAdmin, users.users["caixa02"].Role)
	current, err := manager.Authorize(token)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, current.Role, "issued token picks up the new role")

	disabled, err := manager.UpdateUser(ctx, admin, cashier.ID, domain.UserUpdateRequest{Active: ptr(false)})
	require.NoError(t, err)
	assert.False(t, disabled.Active)
	assert.False(t, users.users["caixa02"].Active)
	_, err = manager.Authorize(token)
	assert.ErrorIs(t, err, store.ErrUnauthenticated)
	_, err = manager.Login(ctx, domain.LoginRequest{Username: "caixa02", Password: "pass1234"})
	assert.ErrorIs(t, err, store.ErrUnauthenticated)
}

func TestUpdateUserKeepsAnActiveAdmin(t *testing.T) {
	manager := NewAuthManager(testSecret, time.Hour, legacyAdminStore(), nil)
	admin := domain.Actor{ID: "usr-admin", Username: "admin", Role: domain.RoleAdmin}
	ctx := context.Background()

	cases := map[string]struct {
		id  string
		req domain.UserUpdateRequest
		err error
	}{
		"empty request":        {id: "usr-admin", req: domain.UserUpdateRequest{}, err: store.ErrValidation},
		"unknown role":         {id: "usr-admin", req: domain.UserUpdateRequest{Role: ptr("manager")}, err: store.ErrValidation},
		"self demotion":        {id: "usr-admin", req: domain.UserUpdateRequest{Role: ptr(domain.RoleCashier)}, err: store.ErrValidation},
		"self deactivation":    {id: "usr-admin", req: domain.UserUpdateRequest{Active: ptr(false)}, err: store.ErrValidation},
		"unknown user":         {id: "usr-ghost", req: domain.UserUpdateRequest{Active: ptr(false)}, err: store.ErrNotFound},
		"last admin by others": {id: "usr-admin", req: domain.UserUpdateRequest{Active: ptr(false)}, err: store.ErrValidation},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			actor := admin
			if name == "last admin by others" {
				actor = domain.Actor{ID: "usr-other", Username: "other", Role: domain.RoleAdmin}
			}
			_, err := manager.UpdateUser(ctx, actor, tc.id, tc.req)
			assert.ErrorIs(t, err, tc.err)
		})
	}

	stillAdmin, err := manager.Authorize(admin)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, stillAdmin.Role)
}

func ptr[T any](v T) *T {
	return &v
}
