// Package api exposes the settlement engine over HTTP JSON. Failures are
// reported as RFC 7807 problem documents carrying the domain error detail.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/volant-labs/surety/pkg/contracts"
)

// problemTypeBase prefixes the per-status problem type URIs.
const problemTypeBase = "https://volant-labs.github.io/surety/errors"

// ProblemDetail is the RFC 7807 error body every endpoint emits on failure.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError emits a problem document with the given status, title, and
// detail.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&ProblemDetail{
		Type:   fmt.Sprintf("%s/%d", problemTypeBase, status),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// WriteBadRequest reports a malformed request body or query.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteTooManyRequests reports throttling, with a Retry-After hint.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests",
		"Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal logs err and reports an opaque 500. The error text never
// reaches the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error",
		"An unexpected error occurred.")
}

// domainStatus maps each sentinel family onto an HTTP status.
var domainStatus = []struct {
	match  []error
	status int
	title  string
}{
	{[]error{contracts.ErrNotOperational}, http.StatusServiceUnavailable, "Not Operational"},
	{[]error{contracts.ErrUnauthorized, contracts.ErrNotOwner, contracts.ErrNotFunded}, http.StatusForbidden, "Forbidden"},
	{[]error{contracts.ErrDuplicate, contracts.ErrFlightResolved, contracts.ErrReentrantCall}, http.StatusConflict, "Conflict"},
	{[]error{contracts.ErrInsufficientFunds, contracts.ErrOutOfRange}, http.StatusUnprocessableEntity, "Unprocessable"},
	{[]error{contracts.ErrNotFound}, http.StatusNotFound, "Not Found"},
}

// WriteDomainError translates the settlement error taxonomy into a problem
// document. Unrecognized errors are treated as internal.
func WriteDomainError(w http.ResponseWriter, err error) {
	if errors.Is(err, contracts.ErrRateLimited) {
		WriteTooManyRequests(w, 5)
		return
	}
	for _, m := range domainStatus {
		for _, sentinel := range m.match {
			if errors.Is(err, sentinel) {
				WriteError(w, m.status, m.title, err.Error())
				return
			}
		}
	}
	WriteInternal(w, err)
}
