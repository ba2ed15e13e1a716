package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volant-labs/surety/pkg/api"
	"github.com/volant-labs/surety/pkg/archive"
	"github.com/volant-labs/surety/pkg/audit"
	"github.com/volant-labs/surety/pkg/authz"
	"github.com/volant-labs/surety/pkg/contracts"
	"github.com/volant-labs/surety/pkg/ledger"
	"github.com/volant-labs/surety/pkg/oracle"
	"github.com/volant-labs/surety/pkg/settlement"
	"github.com/volant-labs/surety/pkg/store"
)

const (
	apiOwner = contracts.Account("owner")
	apiAlpha = contracts.Account("airline:alpha")
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	al := authz.New(apiOwner)
	require.NoError(t, al.Grant(apiOwner, "component:settlement"))
	log := ledger.NewMemLog()
	eng, err := settlement.New(settlement.Config{
		Owner:     apiOwner,
		Component: "component:settlement",
		Store:     store.NewMemStore(al),
		Allowlist: al,
		Log:       log,
		Audit:     audit.NewLoggerWithWriter(io.Discard),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Indexes:   oracle.NewIndexSource(oracle.StaticSeed("api-test-seed")),
	})
	require.NoError(t, err)

	handler := api.NewServer(eng, nil, slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithLedger(log, archive.NewExporter(log, archive.NewMemStore())).
		Handler()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// seedFundedAirline walks the HTTP surface itself so the test exercises the
// same path a deployment script would.
func seedFundedAirline(t *testing.T, base string) {
	t.Helper()
	resp := postJSON(t, base+"/v1/airlines/first", map[string]interface{}{
		"caller": apiOwner, "account": apiAlpha, "name": "Alpha Air",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = postJSON(t, base+"/v1/airlines/fund", map[string]interface{}{
		"caller": apiAlpha, "payment": contracts.FundingAmount,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOperationalEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/operational")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got map[string]bool
	decodeBody(t, resp, &got)
	assert.True(t, got["operational"])

	resp = postJSON(t, srv.URL+"/v1/operational", map[string]interface{}{
		"caller": apiOwner, "mode": false,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Non-owner callers get a problem document, not a flip.
	resp = postJSON(t, srv.URL+"/v1/operational", map[string]interface{}{
		"caller": "mallet", "mode": true,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
}

func TestAirlineLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	seedFundedAirline(t, srv.URL)

	// alpha is funded, so it can sponsor a second airline directly.
	resp := postJSON(t, srv.URL+"/v1/airlines", map[string]interface{}{
		"caller": apiAlpha, "candidate": "airline:bravo", "name": "Bravo Air",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reg struct {
		Registered bool `json:"registered"`
		Votes      int  `json:"votes"`
	}
	decodeBody(t, resp, &reg)
	assert.True(t, reg.Registered)

	listResp, err := http.Get(srv.URL + "/v1/airlines")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var list struct {
		Airlines []contracts.Airline `json:"airlines"`
	}
	decodeBody(t, listResp, &list)
	assert.Len(t, list.Airlines, 2)

	oneResp, err := http.Get(srv.URL + "/v1/airlines/airline:bravo")
	require.NoError(t, err)
	defer oneResp.Body.Close()
	var one map[string]bool
	decodeBody(t, oneResp, &one)
	assert.True(t, one["registered"])
	assert.False(t, one["funded"])
}

func TestFundingErrorsMapToUnprocessable(t *testing.T) {
	srv := newTestServer(t)
	seedFundedAirline(t, srv.URL)

	resp := postJSON(t, srv.URL+"/v1/airlines", map[string]interface{}{
		"caller": apiAlpha, "candidate": "airline:bravo", "name": "Bravo Air",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/v1/airlines/fund", map[string]interface{}{
		"caller": "airline:bravo", "payment": contracts.FundingAmount - 1,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestFlightAndInsuranceOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	seedFundedAirline(t, srv.URL)

	resp := postJSON(t, srv.URL+"/v1/flights", map[string]interface{}{
		"caller": apiAlpha, "number": "AA100", "origin": "SFO",
		"destination": "JFK", "timestamp": 1735689600,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Key contracts.FlightKey `json:"key"`
	}
	decodeBody(t, resp, &created)
	assert.NotEmpty(t, created.Key)

	resp = postJSON(t, srv.URL+"/v1/insurance", map[string]interface{}{
		"passenger": "pax:1", "airline": apiAlpha, "number": "AA100",
		"timestamp": 1735689600, "premium": 1,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	q := fmt.Sprintf("?passenger=pax:1&airline=%s&number=AA100&timestamp=1735689600", apiAlpha)
	insResp, err := http.Get(srv.URL + "/v1/insurance" + q)
	require.NoError(t, err)
	defer insResp.Body.Close()
	var ins map[string]bool
	decodeBody(t, insResp, &ins)
	assert.True(t, ins["insured"])

	statusResp, err := http.Get(srv.URL + fmt.Sprintf(
		"/v1/flights/status?airline=%s&number=AA100&timestamp=1735689600", apiAlpha))
	require.NoError(t, err)
	defer statusResp.Body.Close()
	require.Equal(t, http.StatusOK, statusResp.StatusCode)
	var st struct {
		Status contracts.StatusCode `json:"status"`
		Landed bool                 `json:"landed"`
	}
	decodeBody(t, statusResp, &st)
	assert.Equal(t, contracts.StatusUnknown, st.Status)
	assert.False(t, st.Landed)
}

func TestOracleEndpoints(t *testing.T) {
	srv := newTestServer(t)
	seedFundedAirline(t, srv.URL)

	resp := postJSON(t, srv.URL+"/v1/flights", map[string]interface{}{
		"caller": apiAlpha, "number": "AA100", "timestamp": 1735689600,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/v1/oracles", map[string]interface{}{
		"caller": "oracle:1", "fee": contracts.OracleFee,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var regd struct {
		Indexes []uint8 `json:"indexes"`
	}
	decodeBody(t, resp, &regd)
	require.Len(t, regd.Indexes, contracts.OracleIndexCount)

	idxResp, err := http.Get(srv.URL + "/v1/oracles/oracle:1/indexes")
	require.NoError(t, err)
	defer idxResp.Body.Close()
	require.Equal(t, http.StatusOK, idxResp.StatusCode)
	var mine struct {
		Indexes []uint8 `json:"indexes"`
	}
	decodeBody(t, idxResp, &mine)
	assert.Equal(t, regd.Indexes, mine.Indexes)

	resp = postJSON(t, srv.URL+"/v1/oracles/requests", map[string]interface{}{
		"requester": "pax:1", "airline": apiAlpha, "number": "AA100", "timestamp": 1735689600,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var req struct {
		Index uint8 `json:"index"`
	}
	decodeBody(t, resp, &req)
	assert.Less(t, req.Index, uint8(contracts.IndexRange))

	// A response for an index the oracle does not hold is rejected. Three
	// distinct indexes over ten values always leave at least one unheld.
	held := make(map[uint8]bool, len(mine.Indexes))
	for _, idx := range mine.Indexes {
		held[idx] = true
	}
	var wrong uint8
	for idx := uint8(0); int(idx) < contracts.IndexRange; idx++ {
		if !held[idx] {
			wrong = idx
			break
		}
	}
	resp = postJSON(t, srv.URL+"/v1/oracles/responses", map[string]interface{}{
		"caller": "oracle:1", "index": wrong, "airline": apiAlpha,
		"number": "AA100", "timestamp": 1735689600, "status": contracts.StatusLateAirline,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWithdrawalEndpoints(t *testing.T) {
	srv := newTestServer(t)

	balResp, err := http.Get(srv.URL + "/v1/balances/pax:1")
	require.NoError(t, err)
	defer balResp.Body.Close()
	require.Equal(t, http.StatusOK, balResp.StatusCode)
	var bal struct {
		Pending contracts.Amount `json:"pending"`
	}
	decodeBody(t, balResp, &bal)
	assert.Zero(t, bal.Pending)

	resp := postJSON(t, srv.URL+"/v1/withdrawals", map[string]interface{}{"caller": "pax:1"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestLedgerEndpoints(t *testing.T) {
	srv := newTestServer(t)
	seedFundedAirline(t, srv.URL)

	headResp, err := http.Get(srv.URL + "/v1/ledger/head")
	require.NoError(t, err)
	defer headResp.Body.Close()
	require.Equal(t, http.StatusOK, headResp.StatusCode)
	var head struct {
		Length uint64         `json:"length"`
		Head   *ledger.Record `json:"head"`
	}
	decodeBody(t, headResp, &head)
	require.NotNil(t, head.Head)
	assert.Equal(t, head.Length-1, head.Head.Position)

	verifyResp, err := http.Get(srv.URL + "/v1/ledger/verify")
	require.NoError(t, err)
	defer verifyResp.Body.Close()
	var verdict map[string]bool
	decodeBody(t, verifyResp, &verdict)
	assert.True(t, verdict["valid"])

	// Export the whole chain and confirm the manifest covers it.
	resp := postJSON(t, srv.URL+"/v1/ledger/exports", map[string]interface{}{"start": 0})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var exported struct {
		Manifest     archive.Manifest `json:"manifest"`
		ManifestHash string           `json:"manifest_hash"`
	}
	decodeBody(t, resp, &exported)
	assert.Equal(t, int(head.Length), exported.Manifest.Records)
	assert.NotEmpty(t, exported.ManifestHash)
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/airlines", "application/json", bytes.NewReader([]byte("{nope")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var problem api.ProblemDetail
	decodeBody(t, resp, &problem)
	assert.Equal(t, http.StatusBadRequest, problem.Status)
	assert.NotEmpty(t, problem.Type)
}
