package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/volant-labs/surety/pkg/archive"
	"github.com/volant-labs/surety/pkg/ledger"
)

// WithLedger exposes the commit log, and optionally an archive exporter, on
// the /v1/ledger endpoint group. Returns the server for chaining.
func (s *Server) WithLedger(log ledger.Log, exporter *archive.Exporter) *Server {
	s.log = log
	s.exporter = exporter
	return s
}

func (s *Server) registerLedgerRoutes(mux *http.ServeMux) {
	if s.log == nil {
		return
	}
	mux.HandleFunc("GET /v1/ledger/head", s.handleLedgerHead)
	mux.HandleFunc("GET /v1/ledger/records", s.handleLedgerRange)
	mux.HandleFunc("GET /v1/ledger/verify", s.handleLedgerVerify)
	if s.exporter != nil {
		mux.HandleFunc("POST /v1/ledger/exports", s.handleLedgerExport)
	}
}

func (s *Server) handleLedgerHead(w http.ResponseWriter, r *http.Request) {
	head, err := s.log.Head(r.Context())
	if err != nil {
		if errors.Is(err, ledger.ErrRecordNotFound) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"length": 0})
			return
		}
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"length": s.log.Len(), "head": head,
	})
}

// rangeQuery pulls start/end positions from the query string. A missing end
// defaults to the log head.
func (s *Server) rangeQuery(w http.ResponseWriter, r *http.Request) (uint64, uint64, bool) {
	q := r.URL.Query()
	start, err := strconv.ParseUint(q.Get("start"), 10, 64)
	if q.Get("start") != "" && err != nil {
		WriteBadRequest(w, "start must be a non-negative integer")
		return 0, 0, false
	}
	end := s.log.Len()
	if raw := q.Get("end"); raw != "" {
		end, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			WriteBadRequest(w, "end must be a non-negative integer")
			return 0, 0, false
		}
	}
	return start, end, true
}

func (s *Server) handleLedgerRange(w http.ResponseWriter, r *http.Request) {
	start, end, ok := s.rangeQuery(w, r)
	if !ok {
		return
	}
	records, err := s.log.Range(r.Context(), start, end)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}

func (s *Server) handleLedgerVerify(w http.ResponseWriter, r *http.Request) {
	start, end, ok := s.rangeQuery(w, r)
	if !ok {
		return
	}
	valid, err := s.log.Verify(r.Context(), start, end)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

func (s *Server) handleLedgerExport(w http.ResponseWriter, r *http.Request) {
	done := s.track(r, "ledger_export")
	var req struct {
		Start uint64 `json:"start"`
		End   uint64 `json:"end"`
	}
	if !decode(w, r, &req) {
		done(nil)
		return
	}
	if req.End == 0 {
		req.End = s.log.Len()
	}
	manifest, hash, err := s.exporter.Export(r.Context(), req.Start, req.End)
	done(err)
	if err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "Export Failed", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"manifest": manifest, "manifest_hash": hash,
	})
}
