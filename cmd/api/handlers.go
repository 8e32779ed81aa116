package main

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"freightflow/auth"
	"freightflow/quote"
	"freightflow/workflow"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, "register", err)
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.respondErr(w, r, "register", err)
		return
	}
	writeJSON(w, http.StatusCreated, newUserResponse(*user))
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, "login", err)
		return
	}
	res, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.respondErr(w, r, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: res.Token, User: newUserResponse(res.User)})
}

func (s *Server) handleCreateQuote(w http.ResponseWriter, r *http.Request) {
	var req createQuoteRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, "create_quote", err)
		return
	}
	q, err := s.workflow.CreateQuote(r.Context(), actorFrom(r), req.params())
	if err != nil {
		s.respondErr(w, r, "create_quote", err)
		return
	}
	writeJSON(w, http.StatusCreated, newQuoteResponse(q))
}

func (s *Server) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	q, err := s.workflow.GetQuote(r.Context(), actorFrom(r), chi.URLParam(r, "quoteID"))
	if err != nil {
		s.respondErr(w, r, "get_quote", err)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteResponse(q))
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, key)
	}
	return n, nil
}

func (s *Server) handleListQuotes(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.respondErr(w, r, "list_quotes", err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.respondErr(w, r, "list_quotes", err)
		return
	}

	params := workflow.ListQuotesParams{
		ClientID:  r.URL.Query().Get("clientId"),
		CarrierID: r.URL.Query().Get("carrierId"),
		Limit:     limit,
		Offset:    offset,
	}
	for _, raw := range r.URL.Query()["status"] {
		for _, st := range strings.Split(raw, ",") {
			if st = strings.TrimSpace(st); st != "" {
				params.Statuses = append(params.Statuses, quote.Status(st))
			}
		}
	}

	quotes, err := s.workflow.ListQuotes(r.Context(), actorFrom(r), params)
	if err != nil {
		s.respondErr(w, r, "list_quotes", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": newQuoteResponses(quotes)})
}

func (s *Server) handlePendingEvaluations(w http.ResponseWriter, r *http.Request) {
	pending, err := s.workflow.PendingEvaluations(r.Context(), actorFrom(r))
	if err != nil {
		s.respondErr(w, r, "pending_evaluations", err)
		return
	}
	now := s.workflow.Now()
	blocked := false
	items := make([]pendingEvaluationResponse, 0, len(pending))
	for _, p := range pending {
		overdue := p.Overdue(now)
		blocked = blocked || overdue
		items = append(items, pendingEvaluationResponse{
			QuoteID:     p.QuoteID,
			CarrierID:   p.CarrierID,
			FinalizedAt: timestamp(p.FinalizedAt),
			Overdue:     overdue,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "gateBlocked": blocked})
}

func (s *Server) handleSubmitResponse(w http.ResponseWriter, r *http.Request) {
	var req submitResponseRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, "submit_response", err)
		return
	}
	resp, err := s.workflow.SubmitResponse(r.Context(), actorFrom(r), chi.URLParam(r, "quoteID"), workflow.ResponseParams{
		TotalValue:     req.TotalValue,
		LeadTimeDays:   req.LeadTimeDays,
		InsuranceValue: req.InsuranceValue,
	})
	if err != nil {
		s.respondErr(w, r, "submit_response", err)
		return
	}
	writeJSON(w, http.StatusCreated, newBidResponse(resp))
}

func (s *Server) handleListResponses(w http.ResponseWriter, r *http.Request) {
	responses, err := s.workflow.ListResponses(r.Context(), actorFrom(r), chi.URLParam(r, "quoteID"))
	if err != nil {
		s.respondErr(w, r, "list_responses", err)
		return
	}
	items := make([]bidResponse, 0, len(responses))
	for _, resp := range responses {
		items = append(items, newBidResponse(resp))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ResponseID string `json:"responseId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, "accept_response", err)
		return
	}
	if strings.TrimSpace(req.ResponseID) == "" {
		s.respondErr(w, r, "accept_response", fmt.Errorf("%w: responseId is required", errBadRequest))
		return
	}
	q, err := s.workflow.AcceptResponse(r.Context(), actorFrom(r), chi.URLParam(r, "quoteID"), req.ResponseID)
	if err != nil {
		s.respondErr(w, r, "accept_response", err)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteResponse(q))
}

func (s *Server) handleConfirmPickup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, "confirm_pickup", err)
		return
	}
	q, err := s.workflow.ConfirmPickup(r.Context(), actorFrom(r), chi.URLParam(r, "quoteID"), req.Code)
	if err != nil {
		s.respondErr(w, r, "confirm_pickup", err)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteResponse(q))
}

func (s *Server) handleTransportDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, "submit_transport_document", err)
		return
	}
	res, err := s.workflow.SubmitTransportDocument(r.Context(), actorFrom(r), chi.URLParam(r, "quoteID"), workflow.DocumentParams{
		Code:          req.DocumentCode,
		DeclaredValue: req.DeclaredValue,
		Reason:        req.Reason,
	})
	if err != nil {
		s.respondErr(w, r, "submit_transport_document", err)
		return
	}
	writeJSON(w, http.StatusOK, newDocumentResultResponse(res))
}

func (s *Server) handleDeliveryDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reference string `json:"reference"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, "attach_delivery_document", err)
		return
	}
	q, err := s.workflow.AttachDeliveryDocument(r.Context(), actorFrom(r), chi.URLParam(r, "quoteID"), req.Reference)
	if err != nil {
		s.respondErr(w, r, "attach_delivery_document", err)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteResponse(q))
}

func (s *Server) handleTracking(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL  string `json:"url"`
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, "set_tracking", err)
		return
	}
	q, err := s.workflow.SetTracking(r.Context(), actorFrom(r), chi.URLParam(r, "quoteID"), req.URL, req.Code)
	if err != nil {
		s.respondErr(w, r, "set_tracking", err)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteResponse(q))
}

func (s *Server) handleDelay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason          string    `json:"reason"`
		RevisedDelivery time.Time `json:"revisedDelivery"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, "report_delay", err)
		return
	}
	q, err := s.workflow.ReportDelay(r.Context(), actorFrom(r), chi.URLParam(r, "quoteID"), req.Reason, req.RevisedDelivery)
	if err != nil {
		s.respondErr(w, r, "report_delay", err)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteResponse(q))
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	res, err := s.workflow.Finalize(r.Context(), actorFrom(r), chi.URLParam(r, "quoteID"))
	if err != nil {
		s.respondErr(w, r, "finalize", err)
		return
	}
	writeJSON(w, http.StatusOK, finalizeResponse{
		Quote:      newQuoteResponse(res.Quote),
		Settlement: newSplitResponse(res.Split),
		Ledger:     newLedgerResponse(res.Ledger),
	})
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.respondErr(w, r, "return_quote", err)
		return
	}
	q, err := s.workflow.ReturnQuote(r.Context(), actorFrom(r), chi.URLParam(r, "quoteID"), req.Reason)
	if err != nil {
		s.respondErr(w, r, "return_quote", err)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteResponse(q))
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, "evaluate", err)
		return
	}
	ev, err := s.workflow.Evaluate(r.Context(), actorFrom(r), chi.URLParam(r, "quoteID"), req.Rating, req.Comment)
	if err != nil {
		s.respondErr(w, r, "evaluate", err)
		return
	}
	writeJSON(w, http.StatusCreated, newEvaluationResponse(ev))
}

func (s *Server) handleGenerateDailyCode(w http.ResponseWriter, r *http.Request) {
	code, err := s.workflow.GenerateDailyCode(r.Context(), actorFrom(r))
	if err != nil {
		s.respondErr(w, r, "generate_daily_code", err)
		return
	}
	writeJSON(w, http.StatusCreated, newDailyCodeResponse(code))
}

func (s *Server) handleCurrentDailyCode(w http.ResponseWriter, r *http.Request) {
	code, err := s.workflow.CurrentDailyCode(r.Context(), actorFrom(r))
	if err != nil {
		s.respondErr(w, r, "current_daily_code", err)
		return
	}
	writeJSON(w, http.StatusOK, newDailyCodeResponse(code))
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	views, err := s.workflow.Ledger(r.Context(), actorFrom(r), r.URL.Query().Get("carrierId"))
	if err != nil {
		s.respondErr(w, r, "ledger", err)
		return
	}
	items := make([]ledgerResponse, 0, len(views))
	for _, v := range views {
		items = append(items, newLedgerViewResponse(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleCarrier(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "carrierID"))
	if id == "" {
		s.respondErr(w, r, "get_carrier", fmt.Errorf("%w: carrier id is required", errBadRequest))
		return
	}
	profile, err := s.carrierService.GetByID(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, "get_carrier", err)
		return
	}
	writeJSON(w, http.StatusOK, newCarrierResponse(profile))
}

func (s *Server) handleCarriers(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.respondErr(w, r, "list_carriers", err)
		return
	}
	profiles, err := s.carrierService.List(r.Context(), limit)
	if err != nil {
		s.respondErr(w, r, "list_carriers", err)
		return
	}
	items := make([]carrierResponse, 0, len(profiles))
	for _, p := range profiles {
		items = append(items, newCarrierResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
