package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/costwatch/internal/envelope"
	"github.com/sells-group/costwatch/internal/model"
	"github.com/sells-group/costwatch/internal/reconcile"
	"github.com/sells-group/costwatch/internal/variance"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Projects

type createProjectRequest struct {
	ID            string  `json:"id,omitempty"`
	Name          string  `json:"name"`
	ContractValue float64 `json:"contract_value"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		s.respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	p := &model.Project{
		ID:            req.ID,
		Name:          req.Name,
		ContractValue: req.ContractValue,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.PutProject(r.Context(), p); err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusCreated, p)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, projects)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetProject(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if p == nil {
		s.respondError(w, http.StatusNotFound, "project not found")
		return
	}
	s.respond(w, http.StatusOK, p)
}

func (s *Server) handleSetContract(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContractValue float64 `json:"contract_value"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.store.UpdateProject(r.Context(), chi.URLParam(r, "projectID"), func(p *model.Project) {
		p.ContractValue = req.ContractValue
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	if p == nil {
		s.respondError(w, http.StatusNotFound, "project not found")
		return
	}
	s.respond(w, http.StatusOK, p)
}

// Envelope lifecycle

func (s *Server) handleGetEnvelope(w http.ResponseWriter, r *http.Request) {
	env, err := s.service.GetEnvelope(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if env == nil {
		s.respondError(w, http.StatusNotFound, "envelope not found")
		return
	}
	s.respond(w, http.StatusOK, env)
}

func (s *Server) handleEnsureDraft(w http.ResponseWriter, r *http.Request) {
	env, err := s.service.EnsureDraft(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, env)
}

func (s *Server) handleUpsertItem(w http.ResponseWriter, r *http.Request) {
	var input envelope.ItemInput
	if !s.decode(w, r, &input) {
		return
	}
	res, err := s.service.UpsertItem(r.Context(), chi.URLParam(r, "projectID"), input)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondMutation(w, res)
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PurchaseOrderID string  `json:"purchase_order_id"`
		BreakdownItemID string  `json:"breakdown_item_id"`
		Amount          float64 `json:"amount"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.service.AllocatePurchaseToItem(r.Context(), envelope.AllocationParams{
		ProjectID:       chi.URLParam(r, "projectID"),
		ItemID:          chi.URLParam(r, "itemID"),
		PurchaseOrderID: req.PurchaseOrderID,
		BreakdownItemID: req.BreakdownItemID,
		Amount:          req.Amount,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondMutation(w, res)
}

// Breakdown tables

func (s *Server) handleAddTable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.service.AddActualBreakdownTable(r.Context(),
		chi.URLParam(r, "projectID"), chi.URLParam(r, "itemID"), req.Name)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondMutation(w, res)
}

func (s *Server) handleRenameTable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.service.RenameActualBreakdownTable(r.Context(),
		chi.URLParam(r, "projectID"), chi.URLParam(r, "itemID"),
		chi.URLParam(r, "tableID"), req.Name)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondMutation(w, res)
}

func (s *Server) handleRemoveTable(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.RemoveActualBreakdownTable(r.Context(),
		chi.URLParam(r, "projectID"), chi.URLParam(r, "itemID"), chi.URLParam(r, "tableID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondMutation(w, res)
}

func (s *Server) handleUpsertRow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string             `json:"category"`
		Row      model.BreakdownRow `json:"row"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.service.UpsertActualBreakdownRow(r.Context(),
		chi.URLParam(r, "projectID"), chi.URLParam(r, "itemID"),
		chi.URLParam(r, "tableID"), req.Category, req.Row)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondMutation(w, res)
}

func (s *Server) handleRemoveRow(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	res, err := s.service.RemoveActualBreakdownRow(r.Context(),
		chi.URLParam(r, "projectID"), chi.URLParam(r, "itemID"),
		chi.URLParam(r, "tableID"), category, chi.URLParam(r, "rowID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondMutation(w, res)
}

// Promotion and reconciliation

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.Promote(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	<-res.Settled
	s.respond(w, http.StatusOK, res.Envelope)
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenderID string `json:"tender_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.TenderID == "" {
		s.respondError(w, http.StatusBadRequest, "tender_id is required")
		return
	}
	res, err := s.engine.MergeFromTender(r.Context(), chi.URLParam(r, "projectID"), req.TenderID)
	if err != nil {
		s.fail(w, err)
		return
	}
	<-res.Settled
	s.respond(w, http.StatusOK, res.Stats)
}

func (s *Server) handleDecomposition(w http.ResponseWriter, r *http.Request) {
	dec, err := s.service.ComputeActualCostDecomposition(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, dec)
}

// Variance

func (s *Server) handleGetVariance(w http.ResponseWriter, r *http.Request) {
	entry, err := s.analyzer.GetCachedAnalysis(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if entry == nil {
		s.respondError(w, http.StatusNotFound, "project has never been analyzed")
		return
	}
	s.respond(w, http.StatusOK, entry)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	entry, err := s.analyzer.AnalyzeProject(r.Context(), chi.URLParam(r, "projectID"),
		variance.AnalyzeOptions{Force: force})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, entry)
}

func (s *Server) handleGetVarianceConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.analyzer.GetProjectConfig(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, cfg)
}

func (s *Server) handlePatchVarianceConfig(w http.ResponseWriter, r *http.Request) {
	var patch variance.ConfigPatch
	if !s.decode(w, r, &patch) {
		return
	}
	cfg, err := s.analyzer.UpdateProjectConfig(r.Context(), chi.URLParam(r, "projectID"), patch)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, cfg)
}

// Helpers

type mutationResponse struct {
	Envelope *model.CostEnvelope `json:"envelope"`
	Draft    *model.BOQSnapshot  `json:"draft"`
}

// respondMutation waits for the settlement tail so the response reflects the
// persisted state, then returns the recomputed envelope.
func (s *Server) respondMutation(w http.ResponseWriter, res *envelope.MutationResult) {
	<-res.Settled
	s.respond(w, http.StatusOK, mutationResponse{Envelope: res.Envelope, Draft: res.Draft})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("server: encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respond(w, status, map[string]string{"error": msg})
}

// fail maps engine errors onto HTTP statuses: unmet preconditions conflict,
// missing targets 404, everything else 500.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, envelope.ErrDraftNotInitialized),
		errors.Is(err, envelope.ErrNothingToPromote):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, envelope.ErrItemNotFound),
		errors.Is(err, reconcile.ErrTenderBOQNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	default:
		s.log.Error("server: request failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "internal error")
	}
}
