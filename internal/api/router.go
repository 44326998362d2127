package api

import (
	"errors"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcoach/assessment-engine/internal/logger"
	"github.com/mcoach/assessment-engine/internal/middleware"
	"github.com/mcoach/assessment-engine/internal/services"
)

const maxBodyBytes = 1 << 20

type Deps struct {
	Store      Store
	Quizzes    services.QuizRegistry
	Cache      services.SnapshotCache
	Analyzer   services.Analyzer
	Sender     services.Sender
	AdminEmail string
	Log        *logger.Logger
}

type Router struct {
	store    Store
	log      *logger.Logger
	auth     *services.AuthService
	roles    *services.RoleRegistry
	funnel   *services.FunnelService
	strain   *services.StrainScorer
	peer     *services.PeerReviewService
	employer *services.EmployerService
}

// NewRouter wires every engine service onto store.
func NewRouter(d Deps) *Router {
	log := d.Log
	if log == nil {
		log = logger.Nop()
	}
	engine := newEngineStoreAdapter(d.Store)
	roles := services.NewRoleRegistry(NewRoleStore(d.Store), log)
	funnel := services.NewFunnelService(services.FunnelDeps{
		Store:      engine,
		Quizzes:    d.Quizzes,
		PeerReview: newPeerSourceAdapter(d.Store, d.Quizzes),
		Cache:      d.Cache,
		Analyzer:   d.Analyzer,
		Sender:     d.Sender,
		AdminEmail: d.AdminEmail,
		Log:        log,
	})
	return &Router{
		store:    d.Store,
		log:      log.With("component", "api"),
		auth:     services.NewAuthService(newAuthStoreAdapter(d.Store), middleware.SignToken),
		roles:    roles,
		funnel:   funnel,
		strain:   services.NewStrainScorer(engine, d.Quizzes, log),
		peer:     services.NewPeerReviewService(engine, funnel),
		employer: services.NewEmployerService(newEmployerStoreAdapter(d.Store), roles, funnel),
	}
}

func (rt *Router) Roles() *services.RoleRegistry   { return rt.roles }
func (rt *Router) Funnel() *services.FunnelService { return rt.funnel }

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", rt.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /api/auth/login", rt.handleLogin)

	mux.Handle("GET /api/funnel/config", rt.authed(rt.handleGetConfig))
	mux.Handle("PUT /api/funnel/config", rt.authed(rt.handleSaveConfig))
	mux.Handle("DELETE /api/funnel/config", rt.authed(rt.handleResetConfig))
	mux.Handle("GET /api/funnel/dashboard", rt.authed(rt.handleDashboard))
	mux.Handle("POST /api/funnel/check", rt.authed(rt.handleCheck))

	mux.Handle("GET /api/results", rt.authed(rt.handleResults))
	mux.Handle("PUT /api/results/{slug}", rt.authed(rt.handlePutResult))
	mux.Handle("DELETE /api/results/{actor}/{slug}", rt.authed(rt.handleDeleteResult))

	mux.Handle("POST /api/peer/self", rt.authed(rt.handlePeerSelf))
	mux.Handle("POST /api/peer/{subject}/feedback", rt.authed(rt.handlePeerFeedback))

	mux.Handle("POST /api/strain/calculate", rt.authed(rt.handleStrainCalculate))
	mux.Handle("GET /api/strain/latest", rt.authed(rt.handleStrainLatest))
	mux.Handle("GET /api/strain/history", rt.authed(rt.handleStrainHistory))

	mux.Handle("GET /api/employees", rt.authed(rt.handleEmployees))
	mux.Handle("GET /api/employees/{id}/results", rt.authed(rt.handleEmployeeResults))

	mux.Handle("POST /api/admin/roles/migrate", rt.authed(rt.handleMigrateRoles))
	mux.Handle("GET /api/admin/audit", rt.authed(rt.handleAudit))
}

// Handler returns the mux with the standard middleware chain applied.
func (rt *Router) Handler(corsOrigins []string) http.Handler {
	mux := http.NewServeMux()
	rt.Register(mux)
	var h http.Handler = mux
	h = middleware.WithAuth(h)
	h = middleware.NoStore(h)
	h = middleware.SecureHeaders(h)
	h = middleware.CORS(corsOrigins)(h)
	return middleware.RequestLog(rt.log)(h)
}

func (rt *Router) authed(fn func(http.ResponseWriter, *http.Request, *services.Actor)) http.Handler {
	return middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := middleware.ActorIDFromContext(r.Context())
		a, err := rt.store.GetActor(id)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		if a == nil {
			rt.writeError(w, services.NewUnauthorizedError("unknown actor"))
			return
		}
		fn(w, r, toServiceActor(a))
	}))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (rt *Router) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	if se, ok := services.AsServiceError(err); ok {
		msg = se.Message
		switch se.Code {
		case services.ErrorInvalid:
			status = http.StatusBadRequest
		case services.ErrorUnauthorized:
			status = http.StatusUnauthorized
		case services.ErrorForbidden:
			status = http.StatusForbidden
		case services.ErrorNotFound:
			status = http.StatusNotFound
		case services.ErrorConflict:
			status = http.StatusConflict
		case services.ErrorUnavailable:
			status = http.StatusServiceUnavailable
		}
	} else {
		rt.log.Error("request error", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, services.NewInvalidError("request body too large")
		}
		return nil, services.NewInvalidError("unreadable request body")
	}
	return b, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	b, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return services.NewInvalidError("invalid JSON body")
	}
	return nil
}
