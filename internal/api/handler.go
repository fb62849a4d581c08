package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/refurb-labs/kestrel/internal/domain"
	"github.com/refurb-labs/kestrel/internal/pricing"
	"github.com/refurb-labs/kestrel/internal/snapshot"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *pricing.Engine
	builder *snapshot.Builder
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *pricing.Engine, builder *snapshot.Builder, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		engine:  engine,
		builder: builder,
		version: version,
	}
}

// ValuationRequest is the request body for POST /valuations.
// Either ListingID (a stored listing) or Listing (inline) must be set.
type ValuationRequest struct {
	ListingID string                 `json:"listingId,omitempty"`
	Listing   *domain.ListingRequest `json:"listing,omitempty"`
}

// PreviewRequest is the request body for POST /valuations/preview:
// an inline listing appraised against an inline ruleset, nothing
// persisted. This is the authoring what-if surface.
type PreviewRequest struct {
	Listing *domain.ListingRequest `json:"listing"`
	Ruleset *domain.Ruleset        `json:"ruleset"`
}

// ValuationResponse is the response for POST /valuations.
type ValuationResponse struct {
	ValuationID   string                     `json:"valuationId,omitempty"`
	ListingID     string                     `json:"listingId,omitempty"`
	RulesetID     string                     `json:"rulesetId,omitempty"`
	BasePrice     string                     `json:"basePrice"`
	AdjustedPrice string                     `json:"adjustedPrice"`
	Breakdown     []domain.RuleContribution  `json:"breakdown"`
	Groups        []domain.GroupContribution `json:"groups,omitempty"`
	Metadata      domain.ValuationMetadata   `json:"metadata"`
}

// Appraise handles POST /valuations: builds the listing snapshot, runs
// the tenant's active ruleset over it, persists the valuation, and
// publishes a completion event.
func (h *Handler) Appraise(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req ValuationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	listing, status, errMsg := h.resolveListing(r, &req)
	if errMsg != "" {
		writeJSON(w, status, map[string]string{"error": errMsg})
		return
	}

	rs := h.engine.ActiveRuleset(tenantID)
	if rs == nil {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "no active ruleset for tenant",
		})
		return
	}

	snapStart := time.Now()
	snap, err := h.builder.Build(ctx, tenantID, listing)
	if err != nil {
		slog.Error("snapshot build failed", "listing_id", listing.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to build listing snapshot",
		})
		return
	}
	snapshotMs := time.Since(snapStart).Milliseconds()

	evalStart := time.Now()
	result := h.engine.Evaluate(rs, snap, listing.BasePrice)
	evalMs := time.Since(evalStart).Milliseconds()

	matched := 0
	for _, row := range result.Breakdown {
		if row.Matched {
			matched++
		}
	}

	valuation := &domain.Valuation{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		ListingID:     listing.ID,
		RulesetID:     rs.ID,
		BasePrice:     result.BasePrice,
		AdjustedPrice: result.AdjustedPrice,
		Breakdown:     result.Breakdown,
		Groups:        result.Groups,
		Timestamp:     time.Now().UTC(),
		Metadata: domain.ValuationMetadata{
			TraceID:        traceID,
			SnapshotMs:     snapshotMs,
			EvalMs:         evalMs,
			TotalMs:        time.Since(start).Milliseconds(),
			RulesEvaluated: len(result.Breakdown),
			RulesMatched:   matched,
			EngineVersion:  h.version,
		},
	}

	if h.repo != nil {
		if err := h.repo.SaveValuation(ctx, tenantID, valuation); err != nil {
			slog.Error("failed to save valuation", "id", valuation.ID, "error", err)
		}
	}

	if h.bus != nil {
		if payload, err := json.Marshal(valuation); err == nil {
			if err := h.bus.Publish(ctx, tenantID, domain.TopicValuationCompleted, payload); err != nil {
				slog.Error("failed to publish valuation event", "id", valuation.ID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, ValuationResponse{
		ValuationID:   valuation.ID,
		ListingID:     listing.ID,
		RulesetID:     rs.ID,
		BasePrice:     result.BasePrice.String(),
		AdjustedPrice: result.AdjustedPrice.String(),
		Breakdown:     result.Breakdown,
		Groups:        result.Groups,
		Metadata:      valuation.Metadata,
	})
}

// Preview handles POST /valuations/preview: appraises an inline listing
// against an inline ruleset without touching storage.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Listing == nil || req.Ruleset == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "listing and ruleset are required",
		})
		return
	}

	if err := pricing.ValidateRuleset(req.Ruleset); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid ruleset: " + err.Error(),
		})
		return
	}

	listing := req.Listing.ToListing(tenantID)

	snapStart := time.Now()
	snap, err := h.builder.Build(ctx, tenantID, listing)
	if err != nil {
		slog.Error("snapshot build failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to build listing snapshot",
		})
		return
	}
	snapshotMs := time.Since(snapStart).Milliseconds()

	evalStart := time.Now()
	result := h.engine.Evaluate(req.Ruleset, snap, listing.BasePrice)
	evalMs := time.Since(evalStart).Milliseconds()

	matched := 0
	for _, row := range result.Breakdown {
		if row.Matched {
			matched++
		}
	}

	writeJSON(w, http.StatusOK, ValuationResponse{
		RulesetID:     req.Ruleset.ID,
		BasePrice:     result.BasePrice.String(),
		AdjustedPrice: result.AdjustedPrice.String(),
		Breakdown:     result.Breakdown,
		Groups:        result.Groups,
		Metadata: domain.ValuationMetadata{
			TraceID:        traceID,
			SnapshotMs:     snapshotMs,
			EvalMs:         evalMs,
			TotalMs:        time.Since(start).Milliseconds(),
			RulesEvaluated: len(result.Breakdown),
			RulesMatched:   matched,
			EngineVersion:  h.version,
		},
	})
}

// resolveListing turns a valuation request into a listing: either looks
// up a stored listing by ID or materializes an inline one.
func (h *Handler) resolveListing(r *http.Request, req *ValuationRequest) (*domain.Listing, int, string) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	switch {
	case req.ListingID != "":
		if h.repo == nil {
			return nil, http.StatusServiceUnavailable, "repository not available"
		}
		listing, err := h.repo.GetListing(ctx, tenantID, req.ListingID)
		if err != nil {
			return nil, http.StatusNotFound, "listing not found"
		}
		return listing, 0, ""

	case req.Listing != nil:
		if req.Listing.BasePrice.IsNegative() {
			return nil, http.StatusBadRequest, "listing basePrice must not be negative"
		}
		return req.Listing.ToListing(tenantID), 0, ""

	default:
		return nil, http.StatusBadRequest, "listingId or listing is required"
	}
}

// ValidateFormula handles POST /rules/validate: parses a formula
// expression and reports syntax, unknown-function, and arity problems
// without evaluating anything.
func (h *Handler) ValidateFormula(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Expression string `json:"expression"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	writeJSON(w, http.StatusOK, h.engine.Validate(req.Expression))
}

// GetValuation retrieves a valuation by ID.
func (h *Handler) GetValuation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	valuationID := chi.URLParam(r, "id")

	if valuationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "valuation id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	valuation, err := h.repo.GetValuation(ctx, tenantID, valuationID)
	if err != nil {
		slog.Error("failed to get valuation", "id", valuationID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "valuation not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, valuation)
}

// CreateListing handles POST /listings: persists a listing and
// publishes an ingestion event for asynchronous valuation.
func (h *Handler) CreateListing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req domain.ListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Title == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "title is required",
		})
		return
	}
	if req.BasePrice.IsNegative() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "basePrice must not be negative",
		})
		return
	}

	listing := req.ToListing(tenantID)
	listing.ID = uuid.New().String()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.SaveListing(ctx, tenantID, listing); err != nil {
		slog.Error("failed to save listing", "id", listing.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save listing",
		})
		return
	}

	if h.bus != nil {
		if payload, err := json.Marshal(listing); err == nil {
			if err := h.bus.Publish(ctx, tenantID, domain.TopicListingIngested, payload); err != nil {
				slog.Error("failed to publish listing event", "id", listing.ID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusCreated, listing)
}

// GetListing retrieves a listing by ID.
func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	listingID := chi.URLParam(r, "id")

	if listingID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "listing id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	listing, err := h.repo.GetListing(ctx, tenantID, listingID)
	if err != nil {
		slog.Error("failed to get listing", "id", listingID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "listing not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, listing)
}

// ListRulesets returns all rulesets loaded in the engine.
// Rulesets load from the database at startup and can be reloaded via
// POST /rulesets/reload.
func (h *Handler) ListRulesets(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.GetLoadedRulesets()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rulesets": loaded,
		"count":    len(loaded),
		"source":   "database",
	})
}

// GetRuleset retrieves a ruleset by ID from the loaded engine registry.
func (h *Handler) GetRuleset(w http.ResponseWriter, r *http.Request) {
	rulesetID := chi.URLParam(r, "id")

	if rulesetID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "ruleset id is required",
		})
		return
	}

	for _, rs := range h.engine.GetLoadedRulesets() {
		if rs.ID == rulesetID {
			writeJSON(w, http.StatusOK, rs)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "ruleset not found",
	})
}

// CreateRuleset validates and saves a ruleset, then loads it into the
// engine. Rulesets save under the caller's tenant; use the global
// tenant header value to share one across all tenants.
func (h *Handler) CreateRuleset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var rs domain.Ruleset
	if err := json.NewDecoder(r.Body).Decode(&rs); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if rs.ID == "" || rs.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id and name are required",
		})
		return
	}

	rs.TenantID = tenantID
	if rs.Version == 0 {
		rs.Version = 1
	}

	// Save-time validation: formulas parse, operators and action types
	// are known, negations are legal. Evaluation never re-checks these.
	if err := pricing.ValidateRuleset(&rs); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid ruleset: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveRuleset(ctx, tenantID, &rs); err != nil {
			slog.Error("failed to save ruleset", "id", rs.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save ruleset",
			})
			return
		}
	}

	if rs.Active {
		if err := h.engine.LoadRuleset(&rs); err != nil {
			slog.Error("failed to load ruleset into engine", "id", rs.ID, "error", err)
		}
	}

	if h.bus != nil {
		if payload, err := json.Marshal(&rs); err == nil {
			_ = h.bus.Publish(ctx, tenantID, domain.TopicRulesetUpdated, payload)
		}
	}

	slog.Info("ruleset created", "id", rs.ID, "name", rs.Name, "version", rs.Version)
	writeJSON(w, http.StatusCreated, &rs)
}

// UpdateRuleset saves a new version of an existing ruleset. The ID
// comes from the URL; the version bumps past the stored one unless the
// caller pins it explicitly.
func (h *Handler) UpdateRuleset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	rulesetID := chi.URLParam(r, "id")

	if rulesetID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "ruleset id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	var rs domain.Ruleset
	if err := json.NewDecoder(r.Body).Decode(&rs); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	rs.ID = rulesetID
	rs.TenantID = tenantID
	if rs.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
		return
	}

	existing, err := h.repo.GetRuleset(ctx, tenantID, rulesetID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "ruleset not found",
		})
		return
	}
	if rs.Version == 0 {
		rs.Version = existing.Version + 1
	}

	if err := pricing.ValidateRuleset(&rs); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid ruleset: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveRuleset(ctx, tenantID, &rs); err != nil {
		slog.Error("failed to save ruleset", "id", rs.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save ruleset",
		})
		return
	}

	if rs.Active {
		if err := h.engine.LoadRuleset(&rs); err != nil {
			slog.Error("failed to load ruleset into engine", "id", rs.ID, "error", err)
		}
	}

	if h.bus != nil {
		if payload, err := json.Marshal(&rs); err == nil {
			_ = h.bus.Publish(ctx, tenantID, domain.TopicRulesetUpdated, payload)
		}
	}

	slog.Info("ruleset updated", "id", rs.ID, "name", rs.Name, "version", rs.Version)
	writeJSON(w, http.StatusOK, &rs)
}

// DeleteRuleset soft-deletes a ruleset and reloads the engine registry.
func (h *Handler) DeleteRuleset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	rulesetID := chi.URLParam(r, "id")

	if rulesetID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "ruleset id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.DeleteRuleset(ctx, tenantID, rulesetID); err != nil {
		slog.Error("failed to delete ruleset", "id", rulesetID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "ruleset not found",
		})
		return
	}

	// Reload the registry so the deleted ruleset stops serving.
	if rulesets, err := h.repo.ListRulesets(ctx, tenantID); err != nil {
		slog.Error("failed to reload rulesets after delete", "error", err)
	} else if err := h.engine.ReloadRulesets(rulesets); err != nil {
		slog.Error("failed to reload engine after delete", "error", err)
	}

	slog.Info("ruleset deleted", "id", rulesetID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "ruleset deleted and engine reloaded",
	})
}

// ReloadRulesets reloads all rulesets from the database into the
// engine. This enables hot-reloading without server restart.
func (h *Handler) ReloadRulesets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	rulesets, err := h.repo.ListRulesets(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list rulesets from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rulesets from database",
		})
		return
	}

	if err := h.engine.ReloadRulesets(rulesets); err != nil {
		slog.Error("failed to reload rulesets into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rulesets: " + err.Error(),
		})
		return
	}

	slog.Info("rulesets reloaded from database", "count", len(rulesets))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rulesets reloaded successfully",
		"count":   len(rulesets),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
