// Package remotefake is an in-process stand-in for the accounting backend.
// It speaks the same HTTP contract, re-validates tenant scope on every call
// and lets tests inject failures and delays per operation.
package remotefake

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/go-compta-client/auth"
	"github.com/jrsteele09/go-compta-client/factures"
	"github.com/jrsteele09/go-compta-client/tenants"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// Failure is an injected answer for an operation.
type Failure struct {
	Status int
	Detail string
	// Delay is applied before answering. A delay longer than the client
	// timeout produces a transport timeout on the client side.
	Delay time.Duration
}

type agentRecord struct {
	agent        auth.Agent
	passwordHash []byte
	societes     map[int64]bool
}

type factureRecord struct {
	facture     factures.Facture
	societeID   int64
	lines       []factures.InvoiceLine
	entries     []factures.JournalEntry
	validatedBy string
}

type mappingRecord struct {
	cabinetID   int64
	supplierICE string
	accountCode string
	updatedAt   time.Time
}

// Backend is the fake server state.
type Backend struct {
	lock     sync.Mutex
	agents   map[string]*agentRecord
	cabinets []tenants.Cabinet
	societes []tenants.Societe
	factures map[int64]*factureRecord
	issued   map[string]bool
	nextID   int64

	accounts      []factures.PcmAccount
	mappings      map[int64]*mappingRecord
	nextMappingID int64

	failures map[string]Failure
	calls    map[string]int

	nowFunc        func() time.Time
	tokenTTL       time.Duration
	allowedOrigins []string
	router         chi.Router
}

type Option func(*Backend)

func WithNowFunc(now func() time.Time) Option {
	return func(b *Backend) {
		b.nowFunc = now
	}
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(b *Backend) {
		b.tokenTTL = ttl
	}
}

// WithAllowedOrigins lets browser clients served from origins call the
// backend. "*" allows any origin without credentials.
func WithAllowedOrigins(origins ...string) Option {
	return func(b *Backend) {
		b.allowedOrigins = origins
	}
}

func New(options ...Option) *Backend {
	b := &Backend{
		agents:   make(map[string]*agentRecord),
		factures: make(map[int64]*factureRecord),
		issued:   make(map[string]bool),
		failures: make(map[string]Failure),
		calls:    make(map[string]int),
		nextID:   1,

		accounts:      pcmChart(),
		mappings:      make(map[int64]*mappingRecord),
		nextMappingID: 1,
		nowFunc:  time.Now,
		tokenTTL: 8 * time.Hour,
	}
	for _, opt := range options {
		opt(b)
	}
	b.router = b.routes()
	return b
}

func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.router.ServeHTTP(w, r)
}

func (b *Backend) AddCabinet(c tenants.Cabinet) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.cabinets = append(b.cabinets, c)
}

func (b *Backend) AddSociete(s tenants.Societe) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.societes = append(b.societes, s)
}

// AddAgent registers an account. The password is stored as a bcrypt hash.
func (b *Backend) AddAgent(a auth.Agent, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return errors.Wrap(err, "[remotefake.AddAgent] hash password")
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	a.IsActive = true
	b.agents[a.Username] = &agentRecord{agent: a, passwordHash: hash, societes: make(map[int64]bool)}
	return nil
}

// Grant gives an agent access to a société.
func (b *Backend) Grant(username string, societeID int64) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if rec, ok := b.agents[username]; ok {
		rec.societes[societeID] = true
	}
}

// Revoke removes an agent's access to a société. Tokens already issued for
// it stop working on the next call.
func (b *Backend) Revoke(username string, societeID int64) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if rec, ok := b.agents[username]; ok {
		delete(rec.societes, societeID)
	}
}

// FailOn makes every call to op answer with the given failure.
func (b *Backend) FailOn(op string, f Failure) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.failures[op] = f
}

func (b *Backend) ClearFailures() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.failures = make(map[string]Failure)
}

// Calls returns how many requests reached op, injected failures included.
func (b *Backend) Calls(op string) int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.calls[op]
}

// Facture returns a copy of a stored facture.
func (b *Backend) Facture(id int64) (factures.Facture, bool) {
	b.lock.Lock()
	defer b.lock.Unlock()
	rec, ok := b.factures[id]
	if !ok {
		return factures.Facture{}, false
	}
	return rec.facture, true
}

// SetNextFactureID fixes the id of the next uploaded facture.
func (b *Backend) SetNextFactureID(id int64) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.nextID = id
}

// Seed loads a small demo dataset: one cabinet with two sociétés, an agent
// with access to both, an agent with a single société and an administrator.
// Every password is "demo".
func (b *Backend) Seed() error {
	b.AddCabinet(tenants.Cabinet{ID: 1, Nom: "Cabinet Atlas"})
	b.AddSociete(tenants.Societe{ID: 1, CabinetID: 1, RaisonSociale: "Alpha Distribution SARL", ICE: "001234567000089"})
	b.AddSociete(tenants.Societe{ID: 2, CabinetID: 1, RaisonSociale: "Beta Services SA", ICE: "002345678000012"})

	accounts := []auth.Agent{
		{ID: 1, CabinetID: 1, Username: "agent", Email: "agent@atlas.ma", Nom: "Alaoui", Prenom: "Karim"},
		{ID: 2, CabinetID: 1, Username: "solo", Email: "solo@atlas.ma", Nom: "Bennani", Prenom: "Salma"},
		{ID: 3, CabinetID: 1, Username: "admin", Email: "admin@atlas.ma", IsAdmin: true},
	}
	for _, a := range accounts {
		if err := b.AddAgent(a, "demo"); err != nil {
			return err
		}
	}
	b.Grant("agent", 1)
	b.Grant("agent", 2)
	b.Grant("solo", 1)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail answers the way FastAPI reports HTTPException.
func writeDetail(w http.ResponseWriter, status int, detail any) {
	writeJSON(w, status, map[string]any{"detail": detail})
}
