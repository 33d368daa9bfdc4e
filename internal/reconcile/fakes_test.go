package reconcile

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"nutri-auth/internal/clientstate"
	"nutri-auth/internal/domain"
	"nutri-auth/internal/identity"
	"nutri-auth/internal/profile"
	"nutri-auth/internal/sso"
	apperrors "nutri-auth/pkg/errors"
	"nutri-auth/pkg/redis"
)

type providerAccount struct {
	identity string
	password string
}

// fakeProvider is an in-memory identity provider
type fakeProvider struct {
	mu           sync.Mutex
	accounts     map[string]*providerAccount
	nextID       int
	signUps      int
	exchanges    int
	resets       []string
	signOuts     []string
	rejectSignIn bool
	rejectTokens bool
	signInHold   *hold
	exchangeHold *hold
}

// hold parks one provider call until released
type hold struct {
	started chan struct{}
	release chan struct{}
}

func newHold() *hold {
	return &hold{started: make(chan struct{}), release: make(chan struct{})}
}

// wait is called by the held operation
func (h *hold) wait() {
	if h == nil {
		return
	}
	close(h.started)
	<-h.release
}

// holdSignIn parks the next password sign-in
func (p *fakeProvider) holdSignIn() *hold {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signInHold = newHold()
	return p.signInHold
}

// holdExchange parks the next token exchange
func (p *fakeProvider) holdExchange() *hold {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchangeHold = newHold()
	return p.exchangeHold
}

func (p *fakeProvider) takeHold(slot **hold) *hold {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := *slot
	*slot = nil
	return h
}

func (p *fakeProvider) revoked(accessToken string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.signOuts {
		if t == accessToken {
			return true
		}
	}
	return false
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{accounts: make(map[string]*providerAccount)}
}

func (p *fakeProvider) addAccount(email, password, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[email] = &providerAccount{identity: id, password: password}
}

func (p *fakeProvider) session(email string, acc *providerAccount) *domain.ProviderSession {
	return &domain.ProviderSession{
		Identity:     acc.identity,
		Email:        email,
		AccessToken:  "at-" + acc.identity,
		RefreshToken: "rt-" + acc.identity,
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

func (p *fakeProvider) SignIn(_ context.Context, email, password string) (*domain.ProviderSession, error) {
	p.takeHold(&p.signInHold).wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	acc := p.accounts[email]
	if p.rejectSignIn || acc == nil || acc.password != password {
		return nil, apperrors.NewInvalidCredentialsError("", nil)
	}
	return p.session(email, acc), nil
}

func (p *fakeProvider) SignUp(_ context.Context, email, password string) (*domain.ProviderSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.accounts[email]; ok {
		return nil, apperrors.NewEmailInUseError(nil)
	}
	p.signUps++
	p.nextID++
	acc := &providerAccount{identity: fmt.Sprintf("uid-new-%d", p.nextID), password: password}
	p.accounts[email] = acc
	return p.session(email, acc), nil
}

func (p *fakeProvider) SignInWithToken(_ context.Context, token string) (*domain.ProviderSession, error) {
	p.takeHold(&p.exchangeHold).wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchanges++
	if p.rejectTokens {
		return nil, apperrors.NewTokenInvalidError(nil)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, apperrors.NewTokenInvalidError(err)
	}
	email, _ := claims["email"].(string)
	sub, _ := claims["sub"].(string)
	acc, ok := p.accounts[email]
	if !ok {
		acc = &providerAccount{identity: sub}
		p.accounts[email] = acc
	}
	return p.session(email, acc), nil
}

func (p *fakeProvider) Refresh(context.Context, string) (*domain.ProviderSession, error) {
	return nil, apperrors.NewAuthenticationError("refresh rejected")
}

func (p *fakeProvider) SignOut(_ context.Context, accessToken string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signOuts = append(p.signOuts, accessToken)
	return nil
}

func (p *fakeProvider) RequestPasswordReset(_ context.Context, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets = append(p.resets, email)
	return nil
}

func (p *fakeProvider) counts() (signUps, exchanges, resets int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signUps, p.exchanges, len(p.resets)
}

// hookedProfiles wraps the memory store with a lookup hook and failure switches
type hookedProfiles struct {
	*profile.MemoryStore
	beforeGet func()
	getErr    error

	mu       sync.Mutex
	failNext map[string]error
}

// failOnce makes the next call of the named write fail with err
func (h *hookedProfiles) failOnce(method string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failNext == nil {
		h.failNext = make(map[string]error)
	}
	h.failNext[method] = err
}

func (h *hookedProfiles) injected(method string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.failNext[method]
	delete(h.failNext, method)
	return err
}

func (h *hookedProfiles) CreateProfile(ctx context.Context, id, email string, userType domain.UserType, extra domain.ProfileExtra) error {
	if err := h.injected("CreateProfile"); err != nil {
		return err
	}
	return h.MemoryStore.CreateProfile(ctx, id, email, userType, extra)
}

func (h *hookedProfiles) Reassign(ctx context.Context, fromIdentity, toIdentity string) error {
	if err := h.injected("Reassign"); err != nil {
		return err
	}
	return h.MemoryStore.Reassign(ctx, fromIdentity, toIdentity)
}

func (h *hookedProfiles) GetUserType(ctx context.Context, id string) (domain.UserType, bool, error) {
	if h.beforeGet != nil {
		h.beforeGet()
	}
	if h.getErr != nil {
		return domain.UserTypeUnknown, false, h.getErr
	}
	return h.MemoryStore.GetUserType(ctx, id)
}

type commerceAccount struct {
	customer domain.CommerceCustomer
	password string
}

// fakeCommerce is an in-memory commerce platform
type fakeCommerce struct {
	mu          sync.Mutex
	customers   map[string]*commerceAccount
	unavailable bool
	authCalls   int
}

func newFakeCommerce() *fakeCommerce {
	return &fakeCommerce{customers: make(map[string]*commerceAccount)}
}

func (c *fakeCommerce) add(email, password, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.customers[email] = &commerceAccount{
		customer: domain.CommerceCustomer{ID: id, Email: email, FirstName: "Store", LastName: "Customer"},
		password: password,
	}
}

func (c *fakeCommerce) down() error {
	return apperrors.NewCommerceUnavailableError(fmt.Errorf("connection refused"))
}

func (c *fakeCommerce) CustomerExists(_ context.Context, email string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unavailable {
		return false, c.down()
	}
	_, ok := c.customers[domain.NormalizeEmail(email)]
	return ok, nil
}

func (c *fakeCommerce) Authenticate(_ context.Context, email, password string) (*domain.CommerceCustomer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authCalls++
	if c.unavailable {
		return nil, c.down()
	}
	acc, ok := c.customers[domain.NormalizeEmail(email)]
	if !ok || acc.password != password {
		return nil, apperrors.NewInvalidCredentialsError("", fmt.Errorf("UNIDENTIFIED_CUSTOMER"))
	}
	cust := acc.customer
	return &cust, nil
}

func (c *fakeCommerce) CreateCustomer(_ context.Context, email, password string, extra domain.CustomerExtra) (*domain.CommerceCustomer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unavailable {
		return nil, c.down()
	}
	email = domain.NormalizeEmail(email)
	if _, ok := c.customers[email]; ok {
		return nil, apperrors.NewEmailInUseError(nil)
	}
	acc := &commerceAccount{
		customer: domain.CommerceCustomer{
			ID:        fmt.Sprintf("%d", 9000+len(c.customers)),
			Email:     email,
			FirstName: extra.FirstName,
			LastName:  extra.LastName,
		},
		password: password,
	}
	c.customers[email] = acc
	cust := acc.customer
	return &cust, nil
}

func (c *fakeCommerce) ValidateCustomer(_ context.Context, customerID, email string) (*domain.CommerceCustomer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unavailable {
		return nil, c.down()
	}
	for _, acc := range c.customers {
		if acc.customer.ID != customerID {
			continue
		}
		if acc.customer.Email != domain.NormalizeEmail(email) {
			return nil, apperrors.NewEmailMismatchError()
		}
		cust := acc.customer
		return &cust, nil
	}
	return nil, apperrors.NewNotFoundError("Customer not found")
}

const testSecret = "test-sso-secret"

type harness struct {
	engine   *Engine
	tracker  *identity.Tracker
	provider *fakeProvider
	profiles *hookedProfiles
	commerce *fakeCommerce
	state    *clientstate.State
	metrics  *Metrics
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		provider: newFakeProvider(),
		profiles: &hookedProfiles{MemoryStore: profile.NewMemoryStore()},
		commerce: newFakeCommerce(),
		now:      time.Now(),
	}
	h.state = clientstate.New(clientstate.NewMemoryStore(), redis.NewKeyBuilder("test"), nil,
		clientstate.WithClock(func() time.Time { return h.now }))
	h.tracker = identity.NewTracker(h.provider, h.state, nil)

	metrics, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	h.metrics = metrics

	h.engine = New(Deps{
		Tracker:  h.tracker,
		Profiles: h.profiles,
		Commerce: h.commerce,
		State:    h.state,
		Decoder:  sso.NewDecoder(testSecret, "", nil),
		Metrics:  metrics,
	})
	t.Cleanup(h.engine.Close)
	return h
}

func (h *harness) token(t *testing.T, email, sub string, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": email,
		"sub":   sub,
		"exp":   exp.Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return tok
}

func (h *harness) addProfile(t *testing.T, id, email string, userType domain.UserType) {
	t.Helper()
	require.NoError(t, h.profiles.CreateProfile(context.Background(), id, email, userType, domain.ProfileExtra{}))
}
