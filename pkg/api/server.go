package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/volant-labs/surety/pkg/archive"
	"github.com/volant-labs/surety/pkg/contracts"
	"github.com/volant-labs/surety/pkg/ledger"
	"github.com/volant-labs/surety/pkg/observability"
	"github.com/volant-labs/surety/pkg/settlement"
)

// Server maps the engine's entry points onto HTTP JSON endpoints.
type Server struct {
	engine  *settlement.Engine
	obs     *observability.Provider
	logger  *slog.Logger
	limiter *GlobalRateLimiter

	// Set via WithLedger.
	log      ledger.Log
	exporter *archive.Exporter
}

// NewServer creates a server over the engine. A nil provider disables
// telemetry; a nil logger uses the default.
func NewServer(engine *settlement.Engine, obs *observability.Provider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:  engine,
		obs:     obs,
		logger:  logger.With("component", "api"),
		limiter: NewGlobalRateLimiter(50, 100),
	}
}

// Handler returns the routed handler with rate limiting applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/operational", s.handleGetOperational)
	mux.HandleFunc("POST /v1/operational", s.handleSetOperational)
	mux.HandleFunc("POST /v1/callers/authorize", s.handleAuthorize)
	mux.HandleFunc("POST /v1/callers/deauthorize", s.handleDeauthorize)

	mux.HandleFunc("GET /v1/airlines", s.handleListAirlines)
	mux.HandleFunc("POST /v1/airlines", s.handleRegisterAirline)
	mux.HandleFunc("POST /v1/airlines/first", s.handleRegisterFirstAirline)
	mux.HandleFunc("GET /v1/airlines/{account}", s.handleGetAirline)
	mux.HandleFunc("POST /v1/airlines/fund", s.handleFundAirline)

	mux.HandleFunc("POST /v1/flights", s.handleRegisterFlight)
	mux.HandleFunc("GET /v1/flights/status", s.handleFlightStatus)

	mux.HandleFunc("POST /v1/insurance", s.handleBuyInsurance)
	mux.HandleFunc("GET /v1/insurance", s.handleIsInsured)

	mux.HandleFunc("POST /v1/oracles", s.handleRegisterOracle)
	mux.HandleFunc("GET /v1/oracles/{account}/indexes", s.handleMyIndexes)
	mux.HandleFunc("POST /v1/oracles/requests", s.handleFetchFlightStatus)
	mux.HandleFunc("POST /v1/oracles/responses", s.handleSubmitResponse)

	mux.HandleFunc("GET /v1/balances/{account}", s.handlePendingBalance)
	mux.HandleFunc("POST /v1/withdrawals", s.handleWithdraw)

	s.registerLedgerRoutes(mux)

	return s.limiter.Middleware(mux)
}

// track opens RED bookkeeping for one handler invocation when telemetry is
// configured.
func (s *Server) track(r *http.Request, name string) func(error) {
	if s.obs == nil {
		return func(error) {}
	}
	_, done := s.obs.TrackOperation(r.Context(), name,
		attribute.String("http.route", r.URL.Path),
	)
	return done
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteBadRequest(w, "malformed JSON body")
		return false
	}
	return true
}

func (s *Server) handleGetOperational(w http.ResponseWriter, r *http.Request) {
	op, err := s.engine.IsOperational(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"operational": op})
}

func (s *Server) handleSetOperational(w http.ResponseWriter, r *http.Request) {
	done := s.track(r, "set_operating_status")
	var req struct {
		Caller contracts.Account `json:"caller"`
		Mode   bool              `json:"mode"`
	}
	if !decode(w, r, &req) {
		done(nil)
		return
	}
	err := s.engine.SetOperatingStatus(r.Context(), req.Caller, req.Mode)
	done(err)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"operational": req.Mode})
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller  contracts.Account `json:"caller"`
		Account contracts.Account `json:"account"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.AuthorizeCaller(r.Context(), req.Caller, req.Account); err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "authorized"})
}

func (s *Server) handleDeauthorize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller  contracts.Account `json:"caller"`
		Account contracts.Account `json:"account"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.DeauthorizeCaller(r.Context(), req.Caller, req.Account); err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deauthorized"})
}

func (s *Server) handleListAirlines(w http.ResponseWriter, r *http.Request) {
	airlines, err := s.engine.Airlines(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"airlines": airlines})
}

func (s *Server) handleRegisterAirline(w http.ResponseWriter, r *http.Request) {
	done := s.track(r, "register_airline")
	var req struct {
		Caller    contracts.Account `json:"caller"`
		Candidate contracts.Account `json:"candidate"`
		Name      string            `json:"name"`
	}
	if !decode(w, r, &req) {
		done(nil)
		return
	}
	registered, votes, err := s.engine.RegisterAirline(r.Context(), req.Caller, req.Candidate, req.Name)
	done(err)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"registered": registered, "votes": votes})
}

func (s *Server) handleGetAirline(w http.ResponseWriter, r *http.Request) {
	account := contracts.Account(r.PathValue("account"))
	registered, err := s.engine.IsAirlineRegistered(r.Context(), account)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	funded := false
	if registered {
		funded, err = s.engine.IsAirlineFunded(r.Context(), account)
		if err != nil {
			WriteDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"registered": registered, "funded": funded})
}

func (s *Server) handleRegisterFirstAirline(w http.ResponseWriter, r *http.Request) {
	done := s.track(r, "register_first_airline")
	var req struct {
		Caller  contracts.Account `json:"caller"`
		Account contracts.Account `json:"account"`
		Name    string            `json:"name"`
	}
	if !decode(w, r, &req) {
		done(nil)
		return
	}
	err := s.engine.RegisterFirstAirline(r.Context(), req.Caller, req.Account, req.Name)
	done(err)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

func (s *Server) handleFundAirline(w http.ResponseWriter, r *http.Request) {
	done := s.track(r, "fund_airline")
	var req struct {
		Caller  contracts.Account `json:"caller"`
		Payment contracts.Amount  `json:"payment"`
	}
	if !decode(w, r, &req) {
		done(nil)
		return
	}
	err := s.engine.FundAirline(r.Context(), req.Caller, req.Payment)
	done(err)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "funded"})
}

func (s *Server) handleRegisterFlight(w http.ResponseWriter, r *http.Request) {
	done := s.track(r, "register_flight")
	var req struct {
		Caller      contracts.Account `json:"caller"`
		Number      string            `json:"number"`
		Origin      string            `json:"origin"`
		Destination string            `json:"destination"`
		Timestamp   int64             `json:"timestamp"`
	}
	if !decode(w, r, &req) {
		done(nil)
		return
	}
	key, err := s.engine.RegisterFlight(r.Context(), req.Caller, req.Number, req.Origin, req.Destination, req.Timestamp)
	done(err)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"key": key})
}

// flightQuery pulls the (airline, number, timestamp) triple from the query
// string.
func flightQuery(w http.ResponseWriter, r *http.Request) (contracts.Account, string, int64, bool) {
	q := r.URL.Query()
	airline := contracts.Account(q.Get("airline"))
	number := q.Get("number")
	ts, err := strconv.ParseInt(q.Get("timestamp"), 10, 64)
	if airline == "" || number == "" || err != nil {
		WriteBadRequest(w, "airline, number, and timestamp query parameters are required")
		return "", "", 0, false
	}
	return airline, number, ts, true
}

func (s *Server) handleFlightStatus(w http.ResponseWriter, r *http.Request) {
	airline, number, ts, ok := flightQuery(w, r)
	if !ok {
		return
	}
	f, err := s.engine.Flight(r.Context(), airline, number, ts)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key": f.Key, "status": f.Status, "landed": f.Status.Terminal(),
	})
}

func (s *Server) handleBuyInsurance(w http.ResponseWriter, r *http.Request) {
	done := s.track(r, "buy_insurance")
	var req struct {
		Passenger contracts.Account `json:"passenger"`
		Airline   contracts.Account `json:"airline"`
		Number    string            `json:"number"`
		Timestamp int64             `json:"timestamp"`
		Premium   contracts.Amount  `json:"premium"`
	}
	if !decode(w, r, &req) {
		done(nil)
		return
	}
	err := s.engine.BuyInsurance(r.Context(), req.Passenger, req.Airline, req.Number, req.Timestamp, req.Premium)
	done(err)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "insured"})
}

func (s *Server) handleIsInsured(w http.ResponseWriter, r *http.Request) {
	airline, number, ts, ok := flightQuery(w, r)
	if !ok {
		return
	}
	passenger := contracts.Account(r.URL.Query().Get("passenger"))
	if passenger == "" {
		WriteBadRequest(w, "passenger query parameter is required")
		return
	}
	insured, err := s.engine.IsInsured(r.Context(), passenger, airline, number, ts)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"insured": insured})
}

func (s *Server) handleRegisterOracle(w http.ResponseWriter, r *http.Request) {
	done := s.track(r, "register_oracle")
	var req struct {
		Caller contracts.Account `json:"caller"`
		Fee    contracts.Amount  `json:"fee"`
	}
	if !decode(w, r, &req) {
		done(nil)
		return
	}
	indexes, err := s.engine.RegisterOracle(r.Context(), req.Caller, req.Fee)
	done(err)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"indexes": indexes})
}

func (s *Server) handleMyIndexes(w http.ResponseWriter, r *http.Request) {
	account := contracts.Account(r.PathValue("account"))
	indexes, err := s.engine.MyIndexes(r.Context(), account)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"indexes": indexes})
}

func (s *Server) handleFetchFlightStatus(w http.ResponseWriter, r *http.Request) {
	done := s.track(r, "fetch_flight_status")
	var req struct {
		Requester contracts.Account `json:"requester"`
		Airline   contracts.Account `json:"airline"`
		Number    string            `json:"number"`
		Timestamp int64             `json:"timestamp"`
	}
	if !decode(w, r, &req) {
		done(nil)
		return
	}
	index, err := s.engine.FetchFlightStatus(r.Context(), req.Requester, req.Airline, req.Number, req.Timestamp)
	done(err)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"index": index})
}

func (s *Server) handleSubmitResponse(w http.ResponseWriter, r *http.Request) {
	done := s.track(r, "submit_oracle_response")
	var req struct {
		Caller    contracts.Account   `json:"caller"`
		Index     uint8               `json:"index"`
		Airline   contracts.Account   `json:"airline"`
		Number    string              `json:"number"`
		Timestamp int64               `json:"timestamp"`
		Status    contracts.StatusCode `json:"status"`
	}
	if !decode(w, r, &req) {
		done(nil)
		return
	}
	err := s.engine.SubmitOracleResponse(r.Context(), req.Caller, req.Index, req.Airline, req.Number, req.Timestamp, req.Status)
	done(err)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *Server) handlePendingBalance(w http.ResponseWriter, r *http.Request) {
	account := contracts.Account(r.PathValue("account"))
	balance, err := s.engine.PendingBalance(r.Context(), account)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pending": balance})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	done := s.track(r, "withdraw")
	var req struct {
		Caller contracts.Account `json:"caller"`
	}
	if !decode(w, r, &req) {
		done(nil)
		return
	}
	amount, err := s.engine.Withdraw(r.Context(), req.Caller)
	done(err)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"amount": amount})
}
