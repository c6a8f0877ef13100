package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/harvest/internal/bank"
	"github.com/cleared-dev/harvest/internal/bank/banktest"
	"github.com/cleared-dev/harvest/internal/model"
	"github.com/cleared-dev/harvest/internal/stream"
)

func request(typ model.AccountType) stream.Request {
	return stream.Request{Account: account(typ), BankCreds: model.BankCredentials{Username: "u", Password: "p"}}
}

func TestExtract_Success(t *testing.T) {
	h := newHarness(t, &banktest.Fake{
		Dashboards:    []bool{true},
		BalanceAmount: decimal.RequireFromString("1200.00"),
		Pages:         []banktest.Page{page(2), page(1)},
	})
	var rec recorder

	require.NoError(t, h.coord.Extract(context.Background(), request(model.AccountTypeAssets), &rec))

	chunks := rec.Chunks()
	require.Len(t, chunks, 5)
	require.NotNil(t, chunks[0].Extraction)
	assert.NotNil(t, chunks[0].Extraction.StartedAt)
	require.NotNil(t, chunks[1].Price)
	assert.Equal(t, "1200", chunks[1].Price.Amount.String())
	assert.Len(t, chunks[2].Transactions, 2)
	assert.NotNil(t, chunks[2].Extraction.UpdatedAt)
	assert.Len(t, chunks[3].Transactions, 1)
	last := chunks[4].Extraction
	require.NotNil(t, last)
	assert.NotNil(t, last.FinishedAt)
	assert.Nil(t, last.Error)

	sess := h.fake.Sessions()[0]
	assert.True(t, sess.Closed())
	assert.JSONEq(t, `{"cookies":["session=1"]}`, string(h.sessions.states["acct-1"]))
	assert.Empty(t, h.sessions.screenshots)
}

func TestExtract_LiabilitiesBalanceIsNegated(t *testing.T) {
	h := newHarness(t, &banktest.Fake{Dashboards: []bool{true}, BalanceAmount: decimal.RequireFromString("532.10")})
	var rec recorder

	require.NoError(t, h.coord.Extract(context.Background(), request(model.AccountTypeLiabilities), &rec))

	price := rec.Chunks()[1].Price
	require.NotNil(t, price)
	assert.True(t, price.Amount.Equal(decimal.RequireFromString("-532.10")))
	assert.Equal(t, "USD", price.Currency)
}

func TestExtract_RestoresSavedState(t *testing.T) {
	h := newHarness(t, &banktest.Fake{Dashboards: []bool{true}})
	ctx := context.Background()

	require.NoError(t, h.coord.Extract(ctx, request(model.AccountTypeAssets), stream.Discard))
	require.NoError(t, h.coord.Extract(ctx, request(model.AccountTypeAssets), stream.Discard))

	sessions := h.fake.Sessions()
	require.Len(t, sessions, 2)
	assert.Nil(t, sessions[0].Restored)
	assert.JSONEq(t, `{"cookies":["session=1"]}`, string(sessions[1].Restored))
}

func TestExtract_MFACodeGatesProgress(t *testing.T) {
	h := newHarness(t, &banktest.Fake{
		Dashboards: []bool{false, false, true},
		MFA:        true,
		Pages:      []banktest.Page{page(1)},
	})
	var rec recorder

	require.NoError(t, h.coord.Extract(context.Background(), request(model.AccountTypeAssets), &rec))

	calls := h.fake.Calls()
	put := indexOf(t, calls, "challenge:put")
	del := indexOf(t, calls, "challenge:delete")
	code := indexOf(t, calls, "code:123456")
	balance := indexOf(t, calls, "balance")
	assert.Less(t, indexOf(t, calls, "mfa"), put)
	assert.Less(t, put, del)
	assert.Less(t, del, code)
	assert.Less(t, code, balance)
	assert.False(t, h.challenges.Live())

	var need, finish bool
	for _, c := range rec.Chunks() {
		need = need || c.NeedMFACode
		finish = finish || c.MFAFinish
	}
	assert.True(t, need)
	assert.True(t, finish)
}

func TestExtract_PreferredOptionSkipsChallenge(t *testing.T) {
	h := newHarness(t, &banktest.Fake{Dashboards: []bool{false, false, true}, MFAOptions: []string{"sms", "email"}})
	req := request(model.AccountTypeAssets)
	req.Account.MFAOption = "email"

	require.NoError(t, h.coord.Extract(context.Background(), req, stream.Discard))
	assert.Equal(t, []int{1}, h.fake.Options())
	assert.NotContains(t, h.fake.Calls(), "challenge:put")
}

func TestExtract_StageFailure(t *testing.T) {
	boom := errors.New("balance element not found")
	h := newHarness(t, &banktest.Fake{Dashboards: []bool{true}, Fail: map[string]error{"balance": boom}})
	var rec recorder

	err := h.coord.Extract(context.Background(), request(model.AccountTypeAssets), &rec)
	require.ErrorIs(t, err, boom)

	chunks := rec.Chunks()
	require.Len(t, chunks, 2)
	last := chunks[1].Extraction
	require.NotNil(t, last)
	assert.NotNil(t, last.FinishedAt)
	require.NotNil(t, last.Error)
	assert.Contains(t, *last.Error, "balance element not found")

	assert.Contains(t, h.sessions.screenshots, "acct-1.png")
	assert.True(t, h.fake.Sessions()[0].Closed())
	assert.NotNil(t, h.sessions.states["acct-1"], "state is saved on failure too")
	assert.NotContains(t, h.fake.Calls(), "scrape")
}

func TestExtract_FirstScrapeFailure(t *testing.T) {
	boom := errors.New("download failed")
	h := newHarness(t, &banktest.Fake{Dashboards: []bool{true}, Pages: []banktest.Page{{Err: boom}}})
	var rec recorder

	err := h.coord.Extract(context.Background(), request(model.AccountTypeAssets), &rec)
	require.ErrorIs(t, err, boom)
	assert.Empty(t, rec.Transactions())
	assert.Len(t, h.sessions.screenshots, 1)
}

func TestExtract_SecondScrapeFailureKeepsFirstChunk(t *testing.T) {
	h := newHarness(t, &banktest.Fake{
		Dashboards: []bool{true},
		Pages:      []banktest.Page{page(3), {Err: errors.New("download failed")}},
	})
	var rec recorder

	require.NoError(t, h.coord.Extract(context.Background(), request(model.AccountTypeAssets), &rec))
	assert.Len(t, rec.Transactions(), 3)
	chunks := rec.Chunks()
	assert.Nil(t, chunks[len(chunks)-1].Extraction.Error)
	assert.Empty(t, h.sessions.screenshots)
}

func TestExtract_UnknownBank(t *testing.T) {
	h := newHarness(t, &banktest.Fake{})
	req := request(model.AccountTypeAssets)
	req.Account.BankID = "nowhere"
	var rec recorder

	err := h.coord.Extract(context.Background(), req, &rec)
	require.ErrorIs(t, err, bank.ErrUnknownBank)
	chunks := rec.Chunks()
	require.Len(t, chunks, 2)
	require.NotNil(t, chunks[1].Extraction.Error)
	assert.Empty(t, h.fake.Calls())
}

func TestExtract_OpenFailure(t *testing.T) {
	boom := errors.New("browser crashed")
	h := newHarness(t, &banktest.Fake{Fail: map[string]error{"open": boom}})
	err := h.coord.Extract(context.Background(), request(model.AccountTypeAssets), stream.Discard)
	require.ErrorIs(t, err, boom)
	assert.Empty(t, h.sessions.states)
}

func TestExtract_EmitFailure(t *testing.T) {
	h := newHarness(t, &banktest.Fake{Dashboards: []bool{true}})
	gone := errors.New("client went away")
	err := h.coord.Extract(context.Background(), request(model.AccountTypeAssets), stream.EmitterFunc(func(stream.Chunk) error { return gone }))
	assert.ErrorIs(t, err, gone)
	assert.Empty(t, h.fake.Calls())
}
