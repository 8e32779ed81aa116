package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"freightflow/auth"
	"freightflow/carrier"
	"freightflow/workflow"
)

type ctxKey string

const (
	ctxKeyUserID ctxKey = "user_id"
	ctxKeyRole   ctxKey = "role"
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
}

type carrierService interface {
	GetByID(ctx context.Context, id string) (carrier.Profile, error)
	List(ctx context.Context, limit int) ([]carrier.Profile, error)
}

// Server exposes the quote workflow over HTTP.
type Server struct {
	authService    authService
	workflow       *workflow.Service
	carrierService carrierService
	log            logrus.FieldLogger
	timeout        time.Duration
}

func (s *Server) logger() logrus.FieldLogger {
	if s.log == nil {
		return logrus.StandardLogger()
	}
	return s.log
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.timeout > 0 {
		r.Use(middleware.Timeout(s.timeout))
	}

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", s.handleHealth)
		api.Post("/auth/register", s.handleRegister)
		api.Post("/auth/login", s.handleLogin)

		api.Group(func(p chi.Router) {
			p.Use(s.authenticate)

			p.Route("/quotes", func(q chi.Router) {
				q.Post("/", s.handleCreateQuote)
				q.Get("/", s.handleListQuotes)
				q.Get("/pending-evaluations", s.handlePendingEvaluations)

				q.Route("/{quoteID}", func(one chi.Router) {
					one.Get("/", s.handleGetQuote)
					one.Post("/responses", s.handleSubmitResponse)
					one.Get("/responses", s.handleListResponses)
					one.Post("/accept", s.handleAccept)
					one.Post("/confirm-pickup", s.handleConfirmPickup)
					one.Post("/transport-document", s.handleTransportDocument)
					one.Post("/delivery-documents", s.handleDeliveryDocument)
					one.Put("/tracking", s.handleTracking)
					one.Post("/delay", s.handleDelay)
					one.Post("/finalize", s.handleFinalize)
					one.Post("/return", s.handleReturn)
					one.Post("/evaluate", s.handleEvaluate)
					one.Get("/chats", s.handleListChats)
					one.Post("/chats", s.handleOpenChat)
				})
			})

			p.Route("/negotiation-chats/{chatID}", func(c chi.Router) {
				c.Get("/", s.handleGetChat)
				c.Post("/messages", s.handlePostMessage)
				c.Post("/approve", s.handleApproveValue)
				c.Post("/reject", s.handleRejectValue)
				c.Post("/counter-proposal", s.handleCounterProposal)
				c.Post("/accept-original", s.handleAcceptOriginal)
				c.Post("/withdraw", s.handleWithdraw)
			})

			p.Post("/carrier-profile/daily-code", s.handleGenerateDailyCode)
			p.Get("/carrier-profile/daily-code", s.handleCurrentDailyCode)
			p.Get("/carrier-profile/ledger", s.handleLedger)
			p.Get("/carriers", s.handleCarriers)
			p.Get("/carriers/{carrierID}", s.handleCarrier)
		})
	})
	return r
}

// authenticate resolves the bearer token into the user id and role the
// handlers read back through actorFrom.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, r, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
			return
		}
		userID, role, err := s.authService.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "unauthenticated", "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFrom(r *http.Request) workflow.Actor {
	id, _ := r.Context().Value(ctxKeyUserID).(string)
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	return workflow.Actor{ID: id, Role: role}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		entry := s.logger().WithFields(logrus.Fields{
			"action":      "http_request",
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
		if ww.Status() >= http.StatusInternalServerError {
			entry.Warn("request served")
			return
		}
		entry.Info("request served")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
