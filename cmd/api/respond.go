package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"freightflow/auth"
	"freightflow/carrier"
	"freightflow/negotiation"
	"freightflow/pickup"
	"freightflow/quote"
	"freightflow/rating"
	"freightflow/settlement"
	"freightflow/workflow"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

type errorBody struct {
	Error     errorDetail `json:"error"`
	RequestID string      `json:"request_id,omitempty"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiError struct {
	status int
	code   string
}

// errorTable maps domain sentinels to a status and a stable machine code.
// The first match wins, so more specific errors come first.
var errorTable = []struct {
	err error
	apiError
}{
	{quote.ErrAlreadyAccepted, apiError{http.StatusConflict, "already_accepted"}},
	{quote.ErrExpiredWindow, apiError{http.StatusConflict, "expired_window"}},
	{quote.ErrMissingReadinessCondition, apiError{http.StatusConflict, "missing_readiness_condition"}},
	{quote.ErrAlreadyEvaluated, apiError{http.StatusConflict, "already_evaluated"}},
	{quote.ErrInvalidStateTransition, apiError{http.StatusConflict, "invalid_state_transition"}},
	{pickup.ErrCodeNotGeneratedToday, apiError{http.StatusConflict, "code_not_generated_today"}},
	{pickup.ErrCodeMismatch, apiError{http.StatusConflict, "code_mismatch"}},
	{rating.ErrEvaluationGateBlocked, apiError{http.StatusConflict, "evaluation_gate_blocked"}},
	{negotiation.ErrCounterProposalLimit, apiError{http.StatusConflict, "counter_proposal_limit"}},
	{negotiation.ErrDecisionNotPending, apiError{http.StatusConflict, "decision_not_pending"}},
	{negotiation.ErrCycleOpen, apiError{http.StatusConflict, "renegotiation_open"}},
	{negotiation.ErrNotRenegotiation, apiError{http.StatusConflict, "not_a_renegotiation"}},
	{carrier.ErrBlocked, apiError{http.StatusConflict, "carrier_blocked"}},
	{workflow.ErrDuplicateResponse, apiError{http.StatusConflict, "duplicate_response"}},
	{settlement.ErrLedgerReleased, apiError{http.StatusConflict, "ledger_released"}},
	{auth.ErrDuplicateEmail, apiError{http.StatusConflict, "duplicate_email"}},
	{workflow.ErrNotFound, apiError{http.StatusNotFound, "not_found"}},
	{carrier.ErrNotFound, apiError{http.StatusNotFound, "not_found"}},
	{workflow.ErrForbidden, apiError{http.StatusForbidden, "forbidden"}},
	{auth.ErrInvalidCredentials, apiError{http.StatusUnauthorized, "invalid_credentials"}},
	{workflow.ErrValidation, apiError{http.StatusBadRequest, "validation_failed"}},
	{quote.ErrValidation, apiError{http.StatusBadRequest, "validation_failed"}},
	{negotiation.ErrInvalidProposal, apiError{http.StatusBadRequest, "validation_failed"}},
	{rating.ErrInvalidStars, apiError{http.StatusBadRequest, "validation_failed"}},
	{auth.ErrWeakPassword, apiError{http.StatusBadRequest, "validation_failed"}},
	{auth.ErrInvalidRole, apiError{http.StatusBadRequest, "validation_failed"}},
	{auth.ErrMissingFields, apiError{http.StatusBadRequest, "validation_failed"}},
	{errBadRequest, apiError{http.StatusBadRequest, "bad_request"}},
}

func classify(err error) apiError {
	for _, row := range errorTable {
		if errors.Is(err, row.err) {
			return row.apiError
		}
	}
	return apiError{http.StatusInternalServerError, "internal"}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorBody{
		Error:     errorDetail{Code: code, Message: message},
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// respondErr translates err into the error envelope. Internal failures are
// logged and reported without detail.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, action string, err error) {
	e := classify(err)
	if e.status == http.StatusInternalServerError {
		s.logger().WithFields(logrus.Fields{
			"action":     action,
			"request_id": middleware.GetReqID(r.Context()),
		}).WithError(err).Error("request failed")
		writeError(w, r, e.status, e.code, "internal server error")
		return
	}
	writeError(w, r, e.status, e.code, err.Error())
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be omitted.
func decodeOptionalJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}
