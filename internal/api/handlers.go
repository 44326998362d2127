package api

import (
	"net/http"

	"github.com/mcoach/assessment-engine/internal/services"
)

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "name": "assessment-engine"})
}

// POST /api/auth/login {email,password}
func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		rt.writeError(w, err)
		return
	}
	res, err := rt.auth.Login(req.Email, req.Password)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": res.Token, "actor_id": res.ActorID})
}

func (rt *Router) handleGetConfig(w http.ResponseWriter, r *http.Request, a *services.Actor) {
	writeJSON(w, http.StatusOK, rt.funnel.Config())
}

func (rt *Router) handleSaveConfig(w http.ResponseWriter, r *http.Request, a *services.Actor) {
	if err := rt.roles.Require(a, services.CapManageFunnel); err != nil {
		rt.writeError(w, err)
		return
	}
	var in services.FunnelConfigInput
	if err := decodeJSON(w, r, &in); err != nil {
		rt.writeError(w, err)
		return
	}
	cfg, err := rt.funnel.SaveConfig(r.Context(), in, a.ID)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (rt *Router) handleResetConfig(w http.ResponseWriter, r *http.Request, a *services.Actor) {
	if err := rt.roles.Require(a, services.CapManageFunnel); err != nil {
		rt.writeError(w, err)
		return
	}
	if err := rt.funnel.ResetConfig(r.Context(), a.ID); err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rt.funnel.Config())
}

func (rt *Router) handleDashboard(w http.ResponseWriter, r *http.Request, a *services.Actor) {
	if !rt.roles.HasCapability(a, services.CapTakeAssessments) && !rt.roles.HasCapability(a, services.CapManageEmployees) {
		rt.writeError(w, services.NewForbiddenError("forbidden"))
		return
	}
	snap, err := rt.funnel.Dashboard(r.Context(), a.ID)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (rt *Router) handleCheck(w http.ResponseWriter, r *http.Request, a *services.Actor) {
	if err := rt.roles.Require(a, services.CapTakeAssessments); err != nil {
		rt.writeError(w, err)
		return
	}
	out, err := rt.funnel.CheckCompletionAndNotify(r.Context(), a.ID)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (rt *Router) handleResults(w http.ResponseWriter, r *http.Request, a *services.Actor) {
	if err := rt.roles.Require(a, services.CapViewOwnResults); err != nil {
		rt.writeError(w, err)
		return
	}
	res, err := rt.funnel.AggregateAllResults(a.ID)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PUT /api/results/{slug} with the raw quiz payload as body. A save that
// completes the strain sources also refreshes the strain index.
func (rt *Router) handlePutResult(w http.ResponseWriter, r *http.Request, a *services.Actor) {
	if err := rt.roles.Require(a, services.CapTakeAssessments); err != nil {
		rt.writeError(w, err)
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	slug := r.PathValue("slug")
	out, err := rt.funnel.PutResult(r.Context(), a.ID, slug, body)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	resp := map[string]any{"completion": out}
	if rt.strain.IsSource(slug) {
		res, err := rt.strain.CalculateFromResults(a.ID)
		if err != nil {
			rt.log.Warn("strain recalculation failed", "actor_id", a.ID, "error", err)
		} else if res != nil {
			rt.funnel.InvalidateDashboard(r.Context(), a.ID)
			resp["strain"] = res
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) handleDeleteResult(w http.ResponseWriter, r *http.Request, a *services.Actor) {
	if err := rt.roles.Require(a, services.CapManageFunnel); err != nil {
		rt.writeError(w, err)
		return
	}
	if err := rt.funnel.DeleteResult(r.Context(), r.PathValue("actor"), r.PathValue("slug"), a.ID); err != nil {
		rt.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) handlePeerSelf(w http.ResponseWriter, r *http.Request, a *services.Actor) {
	if err := rt.roles.Require(a, services.CapTakeAssessments); err != nil {
		rt.writeError(w, err)
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	out, err := rt.peer.SubmitSelfAssessment(r.Context(), a.ID, body)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (rt *Router) handlePeerFeedback(w http.ResponseWriter, r *http.Request, a *services.Actor) {
	body, err := readBody(w, r)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	subject := r.PathValue("subject")
	target, err := rt.store.GetActor(subject)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	if target == nil {
		rt.writeError(w, services.NewNotFoundError("actor not found"))
		return
	}
	if _, err := rt.peer.AddFeedback(r.Context(), subject, a.ID, body); err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

func (rt *Router) handleStrainCalculate(w http.ResponseWriter, r *http.Request, a *services.Actor) {
	if err := rt.roles.Require(a, services.CapViewOwnResults); err != nil {
		rt.writeError(w, err)
		return
	}
	res, err := rt.strain.CalculateFromResults(a.ID)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	if res == nil {
		rt.writeError(w, services.NewConflictError("strain sources incomplete"))
		return
	}
	rt.funnel.InvalidateDashboard(r.Context(), a.ID)
	writeJSON(w, http.StatusOK, res)
}

func (rt *Router) handleStrainLatest(w http.ResponseWriter, r *http.Request, a *services.Actor) {
	if err := rt.roles.Require(a, services.CapViewOwnResults); err != nil {
		rt.writeError(w, err)
		return
	}
	res, err := rt.strain.Latest(a.ID)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	if res == nil {
		rt.writeError(w, services.NewNotFoundError("no strain index yet"))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (rt *Router) handleStrainHistory(w http.ResponseWriter, r *http.Request, a *services.Actor) {
	if err := rt.roles.Require(a, services.CapViewOwnResults); err != nil {
		rt.writeError(w, err)
		return
	}
	list, err := rt.strain.History(a.ID)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": list})
}

func (rt *Router) handleEmployees(w http.ResponseWriter, r *http.Request, a *services.Actor) {
	list, err := rt.employer.ListEmployees(a)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"employees": list})
}

func (rt *Router) handleEmployeeResults(w http.ResponseWriter, r *http.Request, a *services.Actor) {
	res, err := rt.employer.EmployeeResults(a, r.PathValue("id"))
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (rt *Router) handleMigrateRoles(w http.ResponseWriter, r *http.Request, a *services.Actor) {
	if err := rt.roles.Require(a, services.CapManageFunnel); err != nil {
		rt.writeError(w, err)
		return
	}
	n, err := rt.roles.MigrateLegacyActors()
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"migrated": n})
}

func (rt *Router) handleAudit(w http.ResponseWriter, r *http.Request, a *services.Actor) {
	if err := rt.roles.Require(a, services.CapManageFunnel); err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": rt.store.ListAudit()})
}
