package auth

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrsteele09/go-compta-client/store"
	"github.com/jrsteele09/go-compta-client/tenants"
	"github.com/jrsteele09/go-compta-client/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Backend is the remote side of authentication and tenant selection.
type Backend interface {
	Login(ctx context.Context, username, password string) (*LoginResult, error)
	ListSocietes(ctx context.Context, identityToken string, cabinetID int64) ([]tenants.Societe, error)
	SelectSociete(ctx context.Context, identityToken string, selection tenants.Selection) (*SelectResult, error)
}

// LoginOutcome describes where a login left the session.
type LoginOutcome struct {
	State    State
	Agent    Agent
	Cabinets []tenants.Cabinet
	// Societes is filled when the agent has a single cabinet.
	Societes []tenants.Societe
	// AutoSelected is true when the only available société was selected
	// without asking the user.
	AutoSelected bool
}

// Manager is the single source of truth for who is acting and in which
// tenant scope.
type Manager struct {
	backend     Backend
	repo        store.Repo
	creds       *CredentialSource
	nowFunc     func() time.Time
	checkExpiry bool

	lock  sync.Mutex // serialises login, selection and logout
	epoch atomic.Uint64
}

type ManagerOption func(*Manager)

// WithNowFunc sets the clock used for expiry checks (primarily for testing).
func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

// WithExpiryCheck controls whether an expired context counts as no context.
// Enabled by default.
func WithExpiryCheck(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.checkExpiry = enabled
	}
}

func NewManager(backend Backend, repo store.Repo, options ...ManagerOption) (*Manager, error) {
	if backend == nil {
		return nil, errors.New("[NewManager] backend is required")
	}
	if repo == nil {
		return nil, errors.New("[NewManager] store repo is required")
	}

	m := &Manager{
		backend:     backend,
		repo:        repo,
		creds:       NewCredentialSource(repo),
		nowFunc:     time.Now,
		checkExpiry: true,
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// Credentials returns the source the remote client reads bearer tokens from.
func (m *Manager) Credentials() *CredentialSource {
	return m.creds
}

func (m *Manager) AgentCredential() Credential {
	return m.creds.AgentCredential()
}

func (m *Manager) AdminCredential() Credential {
	return m.creds.AdminCredential()
}

// Epoch changes every time the tenant context is replaced or cleared. A run
// that captured an older epoch must not trust results for the current société.
func (m *Manager) Epoch() uint64 {
	return m.epoch.Load()
}

// Login authenticates an identity. Admin identities get an admin session and
// skip tenant selection entirely. Agents with a single cabinet holding a
// single société are scoped to it straight away.
func (m *Manager) Login(ctx context.Context, username, password string) (*LoginOutcome, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	res, err := m.login(ctx, StepLogin, username, password)
	if err != nil {
		return nil, err
	}

	if res.Agent.IsAdmin {
		admin, err := m.establishAdminLocked(res)
		if err != nil {
			return nil, err
		}
		return &LoginOutcome{State: AdminAuthenticated{Admin: *admin}, Agent: res.Agent, Cabinets: res.Cabinets}, nil
	}

	cabinetsJSON, err := json.Marshal(res.Cabinets)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Login] marshal cabinets")
	}
	// A new identity must not inherit the previous identity's tenant scope.
	if err := m.repo.Replace(map[store.Key]string{
		store.KeyAccessToken: res.AccessToken,
		store.KeyCabinets:    string(cabinetsJSON),
	}, store.KeySessionToken, store.KeyCurrentCabinetID, store.KeyCurrentSocieteID); err != nil {
		return nil, errors.Wrap(err, "[Manager.Login] store identity")
	}
	m.epoch.Add(1)

	log.Info().Str("username", res.Agent.Username).Int("cabinets", len(res.Cabinets)).Msg("agent logged in")

	outcome := &LoginOutcome{
		State:    Authenticated{Cabinets: res.Cabinets},
		Agent:    res.Agent,
		Cabinets: res.Cabinets,
	}
	if len(res.Cabinets) != 1 {
		return outcome, nil
	}

	societes, err := m.backend.ListSocietes(ctx, res.AccessToken, res.Cabinets[0].ID)
	if err != nil {
		log.Warn().Err(err).Int64("cabinet_id", res.Cabinets[0].ID).Msg("could not list sociétés after login")
		return outcome, nil
	}
	outcome.Societes = societes
	if len(societes) != 1 {
		return outcome, nil
	}

	payload, err := m.selectLocked(ctx, tenants.Selection{CabinetID: res.Cabinets[0].ID, SocieteID: societes[0].ID})
	if err != nil {
		log.Warn().Err(err).Msg("automatic société selection failed")
		return outcome, nil
	}
	outcome.State = Scoped{Context: *payload}
	outcome.AutoSelected = true
	return outcome, nil
}

// AdminLogin is the admin entry point: identities without the admin flag are
// refused and nothing is stored.
func (m *Manager) AdminLogin(ctx context.Context, username, password string) (*AdminUser, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	res, err := m.login(ctx, StepAdminLogin, username, password)
	if err != nil {
		return nil, err
	}
	if !res.Agent.IsAdmin {
		return nil, &AuthError{Step: StepAdminLogin, Err: ErrNotAdmin}
	}
	return m.establishAdminLocked(res)
}

func (m *Manager) login(ctx context.Context, step Step, username, password string) (*LoginResult, error) {
	res, err := m.backend.Login(ctx, username, password)
	if err != nil {
		log.Info().Str("username", username).Str("step", string(step)).Msg("login rejected")
		return nil, &AuthError{Step: step, Err: err}
	}
	if res == nil || res.AccessToken == "" {
		return nil, &AuthError{Step: step, Err: errors.New("backend returned no access token")}
	}
	return res, nil
}

func (m *Manager) establishAdminLocked(res *LoginResult) (*AdminUser, error) {
	admin := adminUserFromAgent(res.Agent)
	userJSON, err := json.Marshal(admin)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.establishAdmin] marshal admin user")
	}
	values := map[store.Key]string{
		store.KeyAdminToken: res.AccessToken,
		store.KeyAdminUser:  string(userJSON),
	}
	if len(res.Cabinets) > 0 {
		if cabinetsJSON, err := json.Marshal(res.Cabinets); err == nil {
			values[store.KeyCabinets] = string(cabinetsJSON)
		}
	}
	if err := m.repo.Upsert(values); err != nil {
		return nil, errors.Wrap(err, "[Manager.establishAdmin] store admin session")
	}
	log.Info().Str("username", admin.Username).Bool("super_admin", admin.IsSuperAdmin).Msg("admin logged in")
	return &admin, nil
}

// ListSocietes lists the sociétés the identity may select within a cabinet.
func (m *Manager) ListSocietes(ctx context.Context, cabinetID int64) ([]tenants.Societe, error) {
	identity, err := m.identityToken()
	if err != nil {
		return nil, err
	}
	societes, err := m.backend.ListSocietes(ctx, identity, cabinetID)
	if err != nil {
		return nil, &AuthError{Step: StepListSocietes, Err: err}
	}
	return societes, nil
}

// SelectSociete scopes the session to a société. The new context token is
// adopted only once received and checked; on any failure the previous
// context, if any, is left untouched.
func (m *Manager) SelectSociete(ctx context.Context, selection tenants.Selection) (*token.Payload, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.selectLocked(ctx, selection)
}

// SwitchSociete replaces the current tenant context with another one. It has
// the same contract as SelectSociete; no state of the old context is kept.
func (m *Manager) SwitchSociete(ctx context.Context, selection tenants.Selection) (*token.Payload, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	var from int64
	if prev, err := m.CurrentContext(); err == nil {
		from = prev.SocieteID
	}
	payload, err := m.selectLocked(ctx, selection)
	if err != nil {
		return nil, err
	}
	log.Info().Int64("from_societe_id", from).Int64("to_societe_id", payload.SocieteID).Msg("société switched")
	return payload, nil
}

func (m *Manager) selectLocked(ctx context.Context, selection tenants.Selection) (*token.Payload, error) {
	if !selection.Valid() {
		return nil, ErrInvalidSelection
	}
	identity, err := m.identityToken()
	if err != nil {
		return nil, err
	}

	res, err := m.backend.SelectSociete(ctx, identity, selection)
	if err != nil {
		return nil, &AuthError{Step: StepSelectSociete, Err: err}
	}
	if res == nil || res.SessionToken == "" {
		return nil, &AuthError{Step: StepSelectSociete, Err: errors.New("backend returned no session token")}
	}

	payload, err := token.Decode(res.SessionToken)
	if err != nil {
		return nil, &AuthError{Step: StepSelectSociete, Err: err}
	}
	if payload.SocieteID != selection.SocieteID {
		return nil, &AuthError{Step: StepSelectSociete, Err: ErrScopeMismatch}
	}

	if err := m.repo.Upsert(map[store.Key]string{
		store.KeySessionToken:     res.SessionToken,
		store.KeyCurrentCabinetID: strconv.FormatInt(selection.CabinetID, 10),
		store.KeyCurrentSocieteID: strconv.FormatInt(payload.SocieteID, 10),
	}); err != nil {
		return nil, errors.Wrap(err, "[Manager.SelectSociete] store context")
	}
	m.epoch.Add(1)

	log.Info().Int64("cabinet_id", selection.CabinetID).Int64("societe_id", payload.SocieteID).Msg("société selected")
	return payload, nil
}

// identityToken returns the stored identity token if it is present and, when
// decodable, not expired.
func (m *Manager) identityToken() (string, error) {
	identity, ok, err := store.Lookup(m.repo, store.KeyAccessToken)
	if err != nil {
		return "", errors.Wrap(err, "[Manager] read identity token")
	}
	if !ok {
		return "", ErrNotAuthenticated
	}
	if m.checkExpiry {
		if claims, err := token.DecodeIdentity(identity); err == nil {
			if exp, ok := claims.ExpiresAt(); ok && exp.Before(m.nowFunc()) {
				return "", errors.Wrap(ErrNotAuthenticated, ErrSessionExpired.Error())
			}
		}
	}
	return identity, nil
}

// CurrentContext decodes the stored tenant context token. It is read on every
// call and never cached.
func (m *Manager) CurrentContext() (*token.Payload, error) {
	raw, ok, err := store.Lookup(m.repo, store.KeySessionToken)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.CurrentContext] read session token")
	}
	if !ok {
		return nil, ErrNotScoped
	}
	payload, err := token.Decode(raw)
	if err != nil {
		return nil, err
	}
	if m.checkExpiry && payload.Expired(m.nowFunc()) {
		return nil, ErrSessionExpired
	}
	return payload, nil
}

// Identity returns the claims of the stored identity token.
func (m *Manager) Identity() (*token.IdentityClaims, error) {
	identity, ok, err := store.Lookup(m.repo, store.KeyAccessToken)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Identity] read identity token")
	}
	if !ok {
		return nil, ErrNotAuthenticated
	}
	return token.DecodeIdentity(identity)
}

// Cabinets returns the cabinets received at login.
func (m *Manager) Cabinets() ([]tenants.Cabinet, error) {
	raw, ok, err := store.Lookup(m.repo, store.KeyCabinets)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Cabinets] read cabinets")
	}
	if !ok {
		return nil, nil
	}
	var cabinets []tenants.Cabinet
	if err := json.Unmarshal([]byte(raw), &cabinets); err != nil {
		return nil, errors.Wrap(err, "[Manager.Cabinets] decode cabinets")
	}
	return cabinets, nil
}

// AdminSession returns the stored admin user, or ErrNotAdmin if there is no
// complete admin session.
func (m *Manager) AdminSession() (*AdminUser, error) {
	if !m.creds.AdminCredential().Present() {
		return nil, ErrNotAdmin
	}
	raw, ok, err := store.Lookup(m.repo, store.KeyAdminUser)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.AdminSession] read admin user")
	}
	if !ok {
		return nil, ErrNotAdmin
	}
	var user AdminUser
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, errors.Wrap(ErrNotAdmin, err.Error())
	}
	return &user, nil
}

// State derives the current session state from the stored credentials.
func (m *Manager) State() State {
	if p, err := m.CurrentContext(); err == nil {
		return Scoped{Context: *p}
	}
	if _, err := m.identityToken(); err == nil {
		cabinets, _ := m.Cabinets()
		return Authenticated{Cabinets: cabinets}
	}
	if u, err := m.AdminSession(); err == nil && u.IsAdmin {
		return AdminAuthenticated{Admin: *u}
	}
	return LoggedOut{}
}

// Logout clears the identity, tenant context and admin session in one
// atomic store operation.
func (m *Manager) Logout() error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if err := m.repo.Delete(store.AllKeys...); err != nil {
		return errors.Wrap(err, "[Manager.Logout] clear session")
	}
	m.epoch.Add(1)
	log.Info().Msg("session cleared")
	return nil
}

// AdminLogout ends the admin session only; an agent session is kept.
func (m *Manager) AdminLogout() error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if err := m.repo.Delete(store.KeyAdminToken, store.KeyAdminUser); err != nil {
		return errors.Wrap(err, "[Manager.AdminLogout] clear admin session")
	}
	return nil
}
