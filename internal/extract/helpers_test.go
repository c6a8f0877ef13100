package extract

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cleared-dev/harvest/internal/bank"
	"github.com/cleared-dev/harvest/internal/bank/banktest"
	"github.com/cleared-dev/harvest/internal/mfa"
	"github.com/cleared-dev/harvest/internal/model"
	"github.com/cleared-dev/harvest/internal/store"
	"github.com/cleared-dev/harvest/internal/stream"
)

// answeringChallenges hands out code as soon as a challenge is polled and
// logs challenge lifetime into the fake adapter's call log.
type answeringChallenges struct {
	fake *banktest.Fake
	code string

	mu   sync.Mutex
	live bool
}

func (a *answeringChallenges) PutChallenge(_ context.Context, ch model.MFAChallenge) error {
	a.mu.Lock()
	a.live = true
	a.mu.Unlock()
	a.fake.Record("challenge:put")
	return nil
}

func (a *answeringChallenges) GetChallenge(_ context.Context, bankID string) (model.MFAChallenge, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.live {
		return model.MFAChallenge{}, store.ErrNotFound
	}
	option := 0
	return model.MFAChallenge{BankID: bankID, Code: a.code, Option: &option}, nil
}

func (a *answeringChallenges) DeleteChallenge(context.Context, string) error {
	a.mu.Lock()
	a.live = false
	a.mu.Unlock()
	a.fake.Record("challenge:delete")
	return nil
}

func (a *answeringChallenges) Live() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}

type memSessions struct {
	mu          sync.Mutex
	states      map[string][]byte
	screenshots map[string][]byte
}

func newMemSessions() *memSessions {
	return &memSessions{states: map[string][]byte{}, screenshots: map[string][]byte{}}
}

func (m *memSessions) Load(accountID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[accountID], nil
}

func (m *memSessions) Save(accountID string, state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[accountID] = state
	return nil
}

func (m *memSessions) SaveScreenshot(accountID string, png []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path := accountID + ".png"
	m.screenshots[path] = png
	return path, nil
}

type recorder struct {
	mu     sync.Mutex
	chunks []stream.Chunk
}

func (r *recorder) Emit(c stream.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, c)
	return nil
}

func (r *recorder) Chunks() []stream.Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.chunks)
}

func (r *recorder) Transactions() []model.Transaction {
	var out []model.Transaction
	for _, c := range r.Chunks() {
		out = append(out, c.Transactions...)
	}
	return out
}

type harness struct {
	fake       *banktest.Fake
	challenges *answeringChallenges
	sessions   *memSessions
	coord      *Coordinator
}

var testNow = time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, fake *banktest.Fake) *harness {
	t.Helper()
	if fake.ID == "" {
		fake.ID = "chase"
	}
	reg := bank.NewRegistry()
	reg.Register(fake)

	logger := zaptest.NewLogger(t)
	challenges := &answeringChallenges{fake: fake, code: "123456"}
	relay := mfa.NewRelay(challenges, logger, mfa.WithInterval(time.Millisecond), mfa.WithMaxPolls(50))
	sessions := newMemSessions()
	coord := NewCoordinator(reg, relay, sessions, logger, WithSettle(0), WithClock(func() time.Time { return testNow }))
	return &harness{fake: fake, challenges: challenges, sessions: sessions, coord: coord}
}

func account(typ model.AccountType) model.Account {
	return model.Account{
		ID:      "acct-1",
		BankID:  "chase",
		Name:    "Sapphire",
		Type:    typ,
		Balance: model.Price{Currency: "USD"},
	}
}

func indexOf(t *testing.T, calls []string, step string) int {
	t.Helper()
	i := slices.Index(calls, step)
	require.GreaterOrEqual(t, i, 0, "%q not in %v", step, calls)
	return i
}
