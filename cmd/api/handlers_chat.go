package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"freightflow/workflow"
)

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.workflow.ListChats(r.Context(), actorFrom(r), chi.URLParam(r, "quoteID"))
	if err != nil {
		s.respondErr(w, r, "list_chats", err)
		return
	}
	items := make([]chatResponse, 0, len(chats))
	for _, c := range chats {
		items = append(items, newChatResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleOpenChat(w http.ResponseWriter, r *http.Request) {
	c, err := s.workflow.OpenChat(r.Context(), actorFrom(r), chi.URLParam(r, "quoteID"))
	if err != nil {
		s.respondErr(w, r, "open_chat", err)
		return
	}
	writeJSON(w, http.StatusOK, newChatResponse(c))
}

type chatViewResponse struct {
	Chat     chatResponse      `json:"chat"`
	Messages []messageResponse `json:"messages"`
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	view, err := s.workflow.GetChat(r.Context(), actorFrom(r), chi.URLParam(r, "chatID"))
	if err != nil {
		s.respondErr(w, r, "get_chat", err)
		return
	}
	out := chatViewResponse{Chat: newChatResponse(view.Chat), Messages: make([]messageResponse, 0, len(view.Messages))}
	for _, m := range view.Messages {
		out.Messages = append(out.Messages, newMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Body string `json:"body"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, "post_message", err)
		return
	}
	m, err := s.workflow.PostMessage(r.Context(), actorFrom(r), chi.URLParam(r, "chatID"), req.Body)
	if err != nil {
		s.respondErr(w, r, "post_message", err)
		return
	}
	writeJSON(w, http.StatusCreated, newMessageResponse(m))
}

// respondDecision writes the outcome shared by every renegotiation decision.
func (s *Server) respondDecision(w http.ResponseWriter, r *http.Request, action string, res workflow.DecisionResult, err error) {
	if err != nil {
		s.respondErr(w, r, action, err)
		return
	}
	writeJSON(w, http.StatusOK, newDecisionResponse(res))
}

func (s *Server) handleApproveValue(w http.ResponseWriter, r *http.Request) {
	res, err := s.workflow.ApproveValue(r.Context(), actorFrom(r), chi.URLParam(r, "chatID"))
	s.respondDecision(w, r, "approve_value", res, err)
}

func (s *Server) handleRejectValue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Justification string `json:"justification"`
	}
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.respondErr(w, r, "reject_value", err)
		return
	}
	res, err := s.workflow.RejectValue(r.Context(), actorFrom(r), chi.URLParam(r, "chatID"), req.Justification)
	s.respondDecision(w, r, "reject_value", res, err)
}

func (s *Server) handleCounterProposal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value  decimal.Decimal `json:"value"`
		Reason string          `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, "counter_proposal", err)
		return
	}
	res, err := s.workflow.CounterPropose(r.Context(), actorFrom(r), chi.URLParam(r, "chatID"), req.Value, req.Reason)
	s.respondDecision(w, r, "counter_proposal", res, err)
}

func (s *Server) handleAcceptOriginal(w http.ResponseWriter, r *http.Request) {
	res, err := s.workflow.AcceptOriginalValue(r.Context(), actorFrom(r), chi.URLParam(r, "chatID"))
	s.respondDecision(w, r, "accept_original_value", res, err)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.respondErr(w, r, "withdraw", err)
		return
	}
	res, err := s.workflow.Withdraw(r.Context(), actorFrom(r), chi.URLParam(r, "chatID"), req.Reason)
	s.respondDecision(w, r, "withdraw", res, err)
}
