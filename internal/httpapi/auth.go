package httpapi

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"mercado/backend/internal/domain"
	"mercado/backend/internal/store"
	"mercado/backend/internal/xid"
)

const userStoreTimeout = 3 * time.Second

type AuthManager struct {
	mu        sync.RWMutex
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
	users     map[string]credential
	logger    *zap.Logger
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	UpdateUser(ctx context.Context, user domain.UserAccount) error
}

type credential struct {
	id       string
	password string
	role     string
	active   bool
	created  time.Time
}

type actorClaims struct {
	jwtlib.RegisteredClaims
	Username string `json:"username"`
	Role     string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore, logger *zap.Logger) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	manager := &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
		users:     make(map[string]credential),
		logger:    logger,
	}
	manager.bootstrapUsers(context.Background())
	return manager
}

// Login checks the credentials and issues a bearer token whose subject is
// the user id.
func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	a.mu.RLock()
	cred, ok := a.users[username]
	a.mu.RUnlock()
	if !ok || !verifyPassword(cred.password, req.Password) {
		return domain.LoginResponse{}, fmt.Errorf("%w: invalid credentials", store.ErrUnauthenticated)
	}
	if !cred.active {
		return domain.LoginResponse{}, fmt.Errorf("%w: account is inactive", store.ErrUnauthenticated)
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(domain.Actor{ID: cred.id, Username: username, Role: cred.role}, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        cred.role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &actorClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer("mercado"))
	if err != nil || !token.Valid {
		return domain.Actor{}, fmt.Errorf("%w: invalid or expired token", store.ErrUnauthenticated)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, fmt.Errorf("%w: invalid token subject", store.ErrUnauthenticated)
	}
	return domain.Actor{ID: sub, Username: claims.Username, Role: claims.Role}, nil
}

// Authorize checks a parsed token against the account it names, so a
// deactivation or role change applies to tokens already issued.
func (a *AuthManager) Authorize(actor domain.Actor) (domain.Actor, error) {
	a.mu.RLock()
	cred, ok := a.users[strings.ToLower(actor.Username)]
	a.mu.RUnlock()
	if !ok {
		return actor, nil
	}
	if cred.id != actor.ID {
		return domain.Actor{}, fmt.Errorf("%w: invalid token subject", store.ErrUnauthenticated)
	}
	if !cred.active {
		return domain.Actor{}, fmt.Errorf("%w: account is inactive", store.ErrUnauthenticated)
	}
	actor.Role = cred.role
	return actor, nil
}

func (a *AuthManager) sign(actor domain.Actor, expiresAt time.Time) (string, error) {
	claims := actorClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "mercado",
		},
		Username: actor.Username,
		Role:     actor.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) CreateCashier(ctx context.Context, req domain.CashierCreateRequest) (domain.CashierUser, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 4 {
		return domain.CashierUser{}, store.Invalid("username", "must be at least 4 characters")
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.CashierUser{}, store.Invalid("username", "must not contain spaces")
	}
	if len(strings.TrimSpace(req.Password)) < 6 {
		return domain.CashierUser{}, store.Invalid("password", "must be at least 6 characters")
	}

	a.mu.RLock()
	_, exists := a.users[username]
	a.mu.RUnlock()
	if exists {
		return domain.CashierUser{}, store.Invalid("username", "already exists")
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.CashierUser{}, fmt.Errorf("hash password: %w", err)
	}
	account := domain.UserAccount{
		ID:        xid.New("usr"),
		Username:  username,
		Password:  passwordHash,
		Role:      domain.RoleCashier,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if a.userStore != nil {
		if err := a.userStore.CreateUser(ctx, account); err != nil {
			return domain.CashierUser{}, err
		}
	}

	a.mu.Lock()
	a.users[username] = credential{
		id:       account.ID,
		password: account.Password,
		role:     account.Role,
		active:   true,
		created:  account.CreatedAt,
	}
	a.mu.Unlock()

	return domain.CashierUser{
		ID:        account.ID,
		Username:  username,
		Role:      account.Role,
		Active:    true,
		CreatedAt: account.CreatedAt,
	}, nil
}

func (a *AuthManager) ListCashiers(ctx context.Context) []domain.CashierUser {
	a.bootstrapUsers(ctx)
	a.mu.RLock()
	result := make([]domain.CashierUser, 0, len(a.users))
	for username, user := range a.users {
		if user.role != domain.RoleCashier {
			continue
		}
		result = append(result, domain.CashierUser{
			ID:        user.id,
			Username:  username,
			Role:      user.role,
			Active:    user.active,
			CreatedAt: user.created,
		})
	}
	a.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result
}

// UpdateUser changes the role or active flag of the account with id. An
// admin cannot demote or deactivate themselves, and at least one active admin
// always remains.
func (a *AuthManager) UpdateUser(ctx context.Context, actor domain.Actor, id string, req domain.UserUpdateRequest) (domain.CashierUser, error) {
	a.bootstrapUsers(ctx)
	id = strings.TrimSpace(id)
	if req.Role == nil && req.Active == nil {
		return domain.CashierUser{}, store.Invalid("body", "role or active is required")
	}
	if req.Role != nil {
		role := strings.ToLower(strings.TrimSpace(*req.Role))
		if role != domain.RoleAdmin && role != domain.RoleCashier {
			return domain.CashierUser{}, store.Invalid("role", "must be admin or cashier")
		}
		req.Role = &role
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	username, cred, found := "", credential{}, false
	activeAdmins := 0
	for name, c := range a.users {
		if c.id == id {
			username, cred, found = name, c, true
		}
		if c.active && c.role == domain.RoleAdmin {
			activeAdmins++
		}
	}
	if !found {
		return domain.CashierUser{}, store.NotFound("user", id)
	}

	updated := cred
	if req.Role != nil {
		updated.role = *req.Role
	}
	if req.Active != nil {
		updated.active = *req.Active
	}
	losesAdmin := cred.active && cred.role == domain.RoleAdmin && (!updated.active || updated.role != domain.RoleAdmin)
	if losesAdmin && id == actor.ID {
		return domain.CashierUser{}, store.Invalid("id", "cannot demote or deactivate your own account")
	}
	if losesAdmin && activeAdmins <= 1 {
		return domain.CashierUser{}, store.Invalid("id", "at least one active admin is required")
	}

	if a.userStore != nil {
		err := a.userStore.UpdateUser(ctx, domain.UserAccount{
			ID:        cred.id,
			Username:  username,
			Password:  cred.password,
			Role:      updated.role,
			Active:    updated.active,
			CreatedAt: cred.created,
		})
		if err != nil {
			return domain.CashierUser{}, err
		}
	}
	a.users[username] = updated
	a.logger.Info("user updated",
		zap.String("actor_id", actor.ID),
		zap.String("user_id", id),
		zap.String("role", updated.role),
		zap.Bool("active", updated.active))

	return domain.CashierUser{
		ID:        updated.id,
		Username:  username,
		Role:      updated.role,
		Active:    updated.active,
		CreatedAt: updated.created,
	}, nil
}

// bootstrapUsers refreshes the credential cache from the user store and
// rehashes any plain-text password it finds.
func (a *AuthManager) bootstrapUsers(ctx context.Context) {
	if a.userStore == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, userStoreTimeout)
	defer cancel()

	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		a.logger.Warn("failed to load users", zap.Error(err))
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, user := range users {
		username := strings.ToLower(strings.TrimSpace(user.Username))
		if username == "" {
			continue
		}
		password := user.Password
		if !isPasswordHash(password) {
			hashed, err := hashPassword(password)
			if err == nil {
				password = hashed
				if err := a.userStore.UpdateUserPassword(ctx, username, hashed); err != nil {
					a.logger.Warn("failed to store upgraded password hash", zap.String("username", username), zap.Error(err))
				}
			}
		}
		id := user.ID
		if id == "" {
			id = username
		}
		a.users[username] = credential{
			id:       id,
			password: password,
			role:     user.Role,
			active:   user.Active,
			created:  user.CreatedAt,
		}
	}
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
