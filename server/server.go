// Package server exposes the operations core over HTTP: one route per
// engine operation, bearer-token scopes, DB-backed idempotency for mutating
// requests, and an SSE stream fanning out role-scoped notifications.
package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mesaops/auth"
	"mesaops/bus"
	"mesaops/fault"
	"mesaops/models"
	"mesaops/workflow"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine   *workflow.Engine
	Verifier *auth.Verifier
	Stream   bus.Stream
	Logger   *slog.Logger

	// PollInterval paces the SSE long-poll loop.
	PollInterval time.Duration
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	Engine       *workflow.Engine
	Verifier     *auth.Verifier
	Stream       bus.Stream
	Log          *slog.Logger
	PollInterval time.Duration

	router http.Handler
}

// New constructs a configured HTTP router.
func New(cfg Config) *Server {
	srv := &Server{
		Engine:       cfg.Engine,
		Verifier:     cfg.Verifier,
		Stream:       cfg.Stream,
		Log:          cfg.Logger,
		PollInterval: cfg.PollInterval,
	}
	if srv.Log == nil {
		srv.Log = slog.Default()
	}
	if srv.PollInterval <= 0 {
		srv.PollInterval = time.Second
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(func(next http.Handler) http.Handler { return WithIdempotency(s.Engine.DB(), next) })
	r.Use(s.Verifier.Middleware)

	staff := auth.RequireScope(models.ScopeWaiter, models.ScopeChef, models.ScopeCashier)

	r.Route("/api/v1", func(api chi.Router) {
		// Guest-reachable surface. The engine's policy table is the
		// authority on which scope may drive which edge, so transitions
		// stay open and carry the resolved request scope.
		api.Post("/orders", s.CreateOrder)
		api.Post("/orders/{id}/transition", s.TransitionOrder)
		api.Post("/orders/{id}/modifications", s.ProposeModification)

		api.Get("/sessions/{id}", s.GetSession)
		api.Post("/sessions/{id}/check", s.RequestCheck)
		api.Post("/sessions/{id}/tip", s.ApplyTip)
		api.Post("/sessions/{id}/payments", s.FinalizePayment)
		api.Post("/sessions/{id}/waiter-calls", s.CreateWaiterCall)
		api.Post("/waiter-calls/{id}/cancel", s.CancelWaiterCall)
		api.Get("/sessions/{id}/ticket", s.RenderTicket)
		api.Post("/sessions/{id}/ticket/resend", s.ResendTicket)

		// Staff surface.
		api.Group(func(protected chi.Router) {
			protected.With(auth.RequireScope(models.ScopeWaiter)).Post("/orders/{id}/deliveries", s.DeliverItems)
			protected.With(auth.RequireScope(models.ScopeWaiter)).Post("/modifications/{id}/approve", s.ApproveModification)
			protected.With(auth.RequireScope(models.ScopeWaiter)).Post("/modifications/{id}/reject", s.RejectModification)

			protected.With(auth.RequireScope(models.ScopeCashier)).Get("/sessions/closed", s.ListClosedSessions)
			protected.With(auth.RequireScope(models.ScopeCashier)).Post("/sessions/{id}/confirm-payment", s.ConfirmPayment)
			protected.With(auth.RequireScope(models.ScopeCashier)).Post("/sessions/{id}/partial-payments", s.ConfirmPartialPayment)

			protected.With(auth.RequireScope(models.ScopeWaiter, models.ScopeCashier)).Post("/sessions/{id}/splits", s.CreateSplit)
			protected.With(auth.RequireScope(models.ScopeWaiter, models.ScopeCashier)).Post("/splits/{id}/assignments", s.AssignSplitItem)
			protected.With(auth.RequireScope(models.ScopeWaiter, models.ScopeCashier)).Post("/splits/{id}/recalculate", s.RecalculateSplit)
			protected.With(auth.RequireScope(models.ScopeWaiter, models.ScopeCashier)).Post("/splits/{id}/persons/{personID}/pay", s.PaySplitPerson)

			protected.With(auth.RequireScope(models.ScopeWaiter)).Get("/assignments", s.ListAssignments)
			protected.With(auth.RequireScope(models.ScopeWaiter)).Post("/assignments", s.AssignTables)
			protected.With(auth.RequireScope(models.ScopeWaiter)).Post("/assignments/conflicts", s.CheckConflicts)
			protected.With(auth.RequireScope(models.ScopeWaiter)).Post("/transfers", s.CreateTransfer)
			protected.With(auth.RequireScope(models.ScopeWaiter)).Post("/transfers/{id}/accept", s.AcceptTransfer)
			protected.With(auth.RequireScope(models.ScopeWaiter)).Post("/transfers/{id}/reject", s.RejectTransfer)

			protected.With(auth.RequireScope(models.ScopeWaiter)).Get("/waiter-calls/pending", s.ListPendingCalls)
			protected.With(auth.RequireScope(models.ScopeWaiter)).Post("/waiter-calls/{id}/confirm", s.ConfirmWaiterCall)
			protected.With(staff).Post("/supervisor-calls", s.CallSupervisor)
		})

		api.Get("/streams/notifications", s.StreamNotifications)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// paramUint parses a numeric chi route parameter.
func paramUint(r *http.Request, name string) (uint, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fault.BadRequest("invalid %s %q", name, raw)
	}
	return uint(id), nil
}

// actorOrFail returns the authenticated employee ID. Routes wired behind
// RequireScope always have one; the guard is for direct handler use.
func actorOrFail(r *http.Request) (uint, error) {
	actor := auth.ActorID(r.Context())
	if actor == nil {
		return 0, fault.Forbidden("authentication required")
	}
	return *actor, nil
}
