package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/cleared-dev/harvest/internal/aggregate"
	"github.com/cleared-dev/harvest/internal/api/respond"
	"github.com/cleared-dev/harvest/internal/bank"
	"github.com/cleared-dev/harvest/internal/bank/banktest"
	"github.com/cleared-dev/harvest/internal/extract"
	"github.com/cleared-dev/harvest/internal/id"
	"github.com/cleared-dev/harvest/internal/mfa"
	"github.com/cleared-dev/harvest/internal/model"
	"github.com/cleared-dev/harvest/internal/session"
	"github.com/cleared-dev/harvest/internal/store"
	"github.com/cleared-dev/harvest/internal/stream"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "harvest.db"), Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newCoordinator(t *testing.T, challenges mfa.ChallengeStore, fakes ...*banktest.Fake) *extract.Coordinator {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := bank.NewRegistry()
	for _, f := range fakes {
		reg.Register(f)
	}
	relay := mfa.NewRelay(challenges, logger, mfa.WithInterval(5*time.Millisecond), mfa.WithMaxPolls(1000))
	sessions := &session.Files{StateDir: t.TempDir(), ScreenshotDir: t.TempDir()}
	return extract.NewCoordinator(reg, relay, sessions, logger, extract.WithSettle(0))
}

func pages() []banktest.Page {
	return []banktest.Page{{Rows: banktest.Rows("2025-01-03", "GITHUB", "-4.00", "2025-01-06", "AWS", "-12.37")}}
}

func decodeEnvelope(t *testing.T, resp *http.Response, v any) respond.Envelope {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	env, err := respond.Decode(body, v)
	require.NoError(t, err, string(body))
	return env
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestExtractor_StreamsChunks(t *testing.T) {
	fake := &banktest.Fake{ID: "chase", Dashboards: []bool{true}, BalanceAmount: decimal.RequireFromString("10"), Pages: pages()}
	srv := httptest.NewServer(NewExtractorRouter(newCoordinator(t, openStore(t), fake), zaptest.NewLogger(t)))
	t.Cleanup(srv.Close)

	req := stream.Request{Account: model.Account{ID: "acct-1", BankID: "chase", Type: model.AccountTypeAssets}}
	for _, framing := range []stream.Framing{stream.FramingNDJSON, stream.FramingRaw} {
		t.Run(string(framing), func(t *testing.T) {
			resp := do(t, http.MethodPost, srv.URL+"/extract?framing="+string(framing), req)
			defer resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, framing.ContentType(), resp.Header.Get("Content-Type"))

			if framing == stream.FramingRaw {
				// Raw framing depends on delivery boundaries; only check
				// that the bytes are concatenated objects.
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				assert.Contains(t, string(body), `}{`)
				return
			}

			dec := stream.NewDecoder(resp.Body, framing)
			var chunks []stream.Chunk
			for {
				c, err := dec.Next()
				if errors.Is(err, io.EOF) {
					break
				}
				require.NoError(t, err)
				chunks = append(chunks, c)
			}
			require.Len(t, chunks, 4)
			assert.NotNil(t, chunks[0].Extraction.StartedAt)
			assert.Equal(t, "10", chunks[1].Price.Amount.String())
			assert.Len(t, chunks[2].Transactions, 2)
			assert.NotNil(t, chunks[3].Extraction.FinishedAt)
		})
	}
}

func TestExtractor_RejectsBadRequests(t *testing.T) {
	fake := &banktest.Fake{ID: "chase"}
	srv := httptest.NewServer(NewExtractorRouter(newCoordinator(t, openStore(t), fake), zaptest.NewLogger(t)))
	t.Cleanup(srv.Close)

	resp := do(t, http.MethodPost, srv.URL+"/extract", stream.Request{Account: model.Account{ID: "a", BankID: "nowhere"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env := decodeEnvelope(t, resp, nil)
	assert.Contains(t, env.Message, "nowhere")

	resp = do(t, http.MethodPost, srv.URL+"/extract", stream.Request{Account: model.Account{BankID: "chase"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, http.MethodPost, srv.URL+"/extract?framing=xml", stream.Request{Account: model.Account{ID: "a", BankID: "chase"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, http.MethodGet, srv.URL+"/banks", nil)
	var catalog []bank.Info
	decodeEnvelope(t, resp, &catalog)
	require.Len(t, catalog, 1)
	assert.Equal(t, "chase", catalog[0].ID)
}

type serviceFixture struct {
	db  *store.Store
	svc *aggregate.Service
	url string
}

func newServiceFixture(t *testing.T, transport aggregate.Transport) *serviceFixture {
	t.Helper()
	db := openStore(t)
	logger := zaptest.NewLogger(t)
	svc := aggregate.NewService(db, transport, nil, 2, logger)
	srv := httptest.NewServer(NewServiceRouter(svc, db, logger))
	t.Cleanup(srv.Close)
	return &serviceFixture{db: db, svc: svc, url: srv.URL}
}

func TestService_AccountsAndExtractions(t *testing.T) {
	db := openStore(t)
	fake := &banktest.Fake{ID: "chase", Dashboards: []bool{true}, Pages: pages()}
	logger := zaptest.NewLogger(t)
	svc := aggregate.NewService(db, aggregate.NewLocal(newCoordinator(t, db, fake), logger), nil, 2, logger)
	srv := httptest.NewServer(NewServiceRouter(svc, db, logger))
	t.Cleanup(srv.Close)

	resp := do(t, http.MethodGet, srv.URL+"/accounts", nil)
	var accts []model.Account
	decodeEnvelope(t, resp, &accts)
	assert.Empty(t, accts)

	acct, err := db.CreateAccount(context.Background(), model.Account{BankID: "chase", Name: "Checking", Type: model.AccountTypeAssets})
	require.NoError(t, err)

	resp = do(t, http.MethodPost, srv.URL+"/extractions", EnqueueRequest{AccountIDs: []string{acct.ID}})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var queued []model.Extraction
	decodeEnvelope(t, resp, &queued)
	require.Len(t, queued, 1)

	svc.Wait()

	resp = do(t, http.MethodGet, srv.URL+"/extractions/"+queued[0].ID, nil)
	var e model.Extraction
	decodeEnvelope(t, resp, &e)
	assert.True(t, e.Finished())
	assert.Equal(t, 2, e.AddCt)

	resp = do(t, http.MethodGet, srv.URL+"/extractions?unfinished=true", nil)
	var unfinished []model.Extraction
	decodeEnvelope(t, resp, &unfinished)
	assert.Empty(t, unfinished)

	resp = do(t, http.MethodGet, srv.URL+"/accounts/"+acct.ID+"/transactions", nil)
	var txns []model.Transaction
	decodeEnvelope(t, resp, &txns)
	require.Len(t, txns, 2)
	assert.Equal(t, "AWS", txns[0].Payee, "newest first")

	resp = do(t, http.MethodGet, srv.URL+"/accounts/nope/transactions", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, http.MethodGet, srv.URL+"/extractions/nope", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, http.MethodGet, srv.URL+"/extractions/"+id.New(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, http.MethodGet, srv.URL+"/extractions?unfinished=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, http.MethodPost, srv.URL+"/extractions", EnqueueRequest{AccountIDs: []string{"nope"}})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, http.MethodGet, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestService_MFAChannel(t *testing.T) {
	fx := newServiceFixture(t, aggregate.NewLocal(newCoordinator(t, openStore(t)), zap.NewNop()))
	client := mfa.NewClient(fx.url, nil)
	ctx := context.Background()

	_, err := client.GetChallenge(ctx, "chase")
	assert.ErrorIs(t, err, store.ErrNotFound)

	code := "111111"
	err = client.Submit(ctx, "chase", model.MFAUpdate{Code: &code})
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, client.PutChallenge(ctx, model.MFAChallenge{BankID: "chase", Options: []string{"sms", "email"}}))
	ch, err := client.GetChallenge(ctx, "chase")
	require.NoError(t, err)
	assert.Equal(t, []string{"sms", "email"}, ch.Options)

	resp := do(t, http.MethodPost, fx.url+"/mfa/chase", model.MFAUpdate{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	option := 1
	require.NoError(t, client.Submit(ctx, "chase", model.MFAUpdate{Option: &option, Code: &code}))
	ch, err = fx.db.GetChallenge(ctx, "chase")
	require.NoError(t, err)
	assert.Equal(t, "111111", ch.Code)
	assert.Equal(t, 1, *ch.Option)

	require.NoError(t, client.DeleteChallenge(ctx, "chase"))
	_, err = fx.db.GetChallenge(ctx, "chase")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// TestRemote_EndToEnd runs the service against a separate extractor whose
// MFA relay reaches back through the service's /mfa channel.
func TestRemote_EndToEnd(t *testing.T) {
	var serviceHandler http.Handler
	serviceSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serviceHandler.ServeHTTP(w, r)
	}))
	t.Cleanup(serviceSrv.Close)

	fake := &banktest.Fake{
		ID:            "chase",
		Dashboards:    []bool{false, false, true},
		MFA:           true,
		BalanceAmount: decimal.RequireFromString("532.10"),
		Pages:         pages(),
	}
	channel := mfa.NewClient(serviceSrv.URL, nil)
	extractorSrv := httptest.NewServer(NewExtractorRouter(newCoordinator(t, channel, fake), zaptest.NewLogger(t)))
	t.Cleanup(extractorSrv.Close)

	db := openStore(t)
	logger := zaptest.NewLogger(t)
	svc := aggregate.NewService(db, aggregate.NewRemote(extractorSrv.URL, stream.FramingNDJSON, nil), nil, 2, logger)
	serviceHandler = NewServiceRouter(svc, db, logger)

	acct, err := db.CreateAccount(context.Background(), model.Account{BankID: "chase", Name: "Card", Type: model.AccountTypeLiabilities})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go func() {
		for ctx.Err() == nil {
			if _, err := channel.GetChallenge(ctx, "chase"); err == nil {
				code := "246810"
				_ = channel.Submit(ctx, "chase", model.MFAUpdate{Code: &code})
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	report, err := svc.Run(ctx, []string{acct.ID})
	require.NoError(t, err)
	require.Len(t, report.Extractions, 1)
	e := report.Extractions[0]
	assert.Empty(t, e.Error)
	assert.Equal(t, 2, e.AddCt)
	assert.Equal(t, []string{"246810"}, fake.Codes())

	stored, err := db.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "-532.10", stored.Balance.Amount.StringFixed(2))

	_, err = db.GetChallenge(ctx, "chase")
	assert.ErrorIs(t, err, store.ErrNotFound)

	catalog, err := svc.Catalog(ctx)
	require.NoError(t, err)
	require.Len(t, catalog, 1)
}

func TestRemote_ExtractorGoneAbortsRecords(t *testing.T) {
	// The extractor sends one chunk then drops the connection.
	extractorSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/banks" {
			respond.JSON(w, zap.NewNop(), http.StatusOK, "ok", []bank.Info{{ID: "chase"}})
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{\"extraction\":{\"startedAt\":\"2025-01-01T00:00:00Z\"}}\n{\"price\":"))
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}))
	t.Cleanup(extractorSrv.Close)

	db := openStore(t)
	ctx := context.Background()
	other, err := db.CreateAccount(ctx, model.Account{BankID: "ally"})
	require.NoError(t, err)
	pending, err := db.CreateExtraction(ctx, other.ID)
	require.NoError(t, err)
	acct, err := db.CreateAccount(ctx, model.Account{BankID: "chase"})
	require.NoError(t, err)

	svc := aggregate.NewService(db, aggregate.NewRemote(extractorSrv.URL, stream.FramingNDJSON, nil), nil, 1, zaptest.NewLogger(t))
	report, err := svc.Run(ctx, []string{acct.ID})
	require.NoError(t, err)
	assert.Equal(t, "Aborted", report.Extractions[0].Error)

	got, err := db.GetExtraction(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, "Aborted", got.Error)
}
