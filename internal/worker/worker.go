// Package worker provides async valuation processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/refurb-labs/kestrel/internal/domain"
	"github.com/refurb-labs/kestrel/internal/pricing"
	"github.com/refurb-labs/kestrel/internal/snapshot"
)

// Worker appraises listings asynchronously from the EventBus: listing
// ingestion and explicit valuation requests both flow through here.
type Worker struct {
	bus     domain.EventBus
	repo    domain.Repository
	engine  *pricing.Engine
	builder *snapshot.Builder
	version string

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string

	// WorkerCount is the number of concurrent workers per tenant
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, engine *pricing.Engine, builder *snapshot.Builder, version string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		repo:    repo,
		engine:  engine,
		builder: builder,
		version: version,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicListingIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	for _, topic := range []string{domain.TopicListingIngested, domain.TopicValuationRequested} {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, topic, func(ctx context.Context, msg *domain.Message) error {
			return w.processListing(ctx, tenantID, msg)
		})
		if err != nil {
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)

		slog.Info("tenant worker started",
			"tenant_id", tenantID,
			"topic", topic,
		)
	}

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processListing(ctx, msg.TenantID, msg)
}

// ListingMessage is the message payload for listing valuation. Either
// the full listing is embedded (the ingestion path publishes the
// listing it just stored) or only ListingID is set and the worker loads
// it from the repository.
type ListingMessage struct {
	ListingID string `json:"id,omitempty"`
	TenantID  string `json:"tenantId,omitempty"`
	TraceID   string `json:"traceId,omitempty"`

	domain.Listing
}

// processListing appraises one listing through the valuation pipeline.
func (w *Worker) processListing(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var lm ListingMessage
	if err := json.Unmarshal(msg.Payload, &lm); err != nil {
		slog.Error("failed to parse listing message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if lm.TenantID != "" {
		tenantID = lm.TenantID
	}

	traceID := lm.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	listing := &lm.Listing
	if lm.ListingID != "" {
		listing.ID = lm.ListingID
	}

	// Skinny message: load the listing from storage.
	if listing.Title == "" && listing.ID != "" && w.repo != nil {
		stored, err := w.repo.GetListing(ctx, tenantID, listing.ID)
		if err != nil {
			slog.Error("failed to load listing",
				"listing_id", listing.ID,
				"error", err,
			)
			return err
		}
		listing = stored
	}

	slog.Debug("processing listing",
		"listing_id", listing.ID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	rs := w.engine.ActiveRuleset(tenantID)
	if rs == nil {
		slog.Warn("no active ruleset for tenant, skipping",
			"listing_id", listing.ID,
			"tenant_id", tenantID,
		)
		return nil
	}

	snapStart := time.Now()
	snap, err := w.builder.Build(ctx, tenantID, listing)
	if err != nil {
		slog.Error("snapshot build failed",
			"listing_id", listing.ID,
			"error", err,
		)
		return err
	}
	snapshotMs := time.Since(snapStart).Milliseconds()

	evalStart := time.Now()
	result := w.engine.Evaluate(rs, snap, listing.BasePrice)
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
			EngineVersion:  w.version,
		},
	}

	if w.repo != nil {
		if err := w.repo.SaveValuation(ctx, tenantID, valuation); err != nil {
			slog.Error("failed to save valuation",
				"listing_id", listing.ID,
				"error", err,
			)
		}
	}

	resultPayload, _ := json.Marshal(valuation)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicValuationCompleted, resultPayload); err != nil {
		slog.Error("failed to publish valuation",
			"listing_id", listing.ID,
			"error", err,
		)
	}

	slog.Info("listing appraised",
		"listing_id", listing.ID,
		"tenant_id", tenantID,
		"base_price", result.BasePrice.String(),
		"adjusted_price", result.AdjustedPrice.String(),
		"rules_matched", matched,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
