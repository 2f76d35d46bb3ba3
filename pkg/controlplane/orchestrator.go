/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

// Package controlplane coordinates the agent's relationship with the Hub:
// instance registration, schema publication, and the periodic policy sync
// loop that keeps the resolver and the Engine endpoint current.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wso2/data-protection/crypto-agent/pkg/config"
	"github.com/wso2/data-protection/crypto-agent/pkg/constants"
	"github.com/wso2/data-protection/crypto-agent/pkg/engine"
	"github.com/wso2/data-protection/crypto-agent/pkg/hub"
	"github.com/wso2/data-protection/crypto-agent/pkg/metrics"
	"github.com/wso2/data-protection/crypto-agent/pkg/models"
	"github.com/wso2/data-protection/crypto-agent/pkg/policy"
	"github.com/wso2/data-protection/crypto-agent/pkg/schema"
	"github.com/wso2/data-protection/crypto-agent/pkg/storage"
)

// ErrTenantMissing is returned when a tenant-dependent call is attempted
// before the instance has a Hub identity (fail-open boot without a Hub).
var ErrTenantMissing = errors.New("no hub identity assigned yet")

// State represents the orchestrator lifecycle state
type State int

const (
	// Stopped state - not started, or shut down
	Stopped State = iota
	// LoadingLocal state - priming resolver and engine from local storage
	LoadingLocal
	// Registering state - obtaining a Hub identity
	Registering
	// Syncing state - exchanging schemas or policies with the Hub
	Syncing
	// Idle state - between periodic ticks
	Idle
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case LoadingLocal:
		return "loading_local"
	case Registering:
		return "registering"
	case Syncing:
		return "syncing"
	case Idle:
		return "idle"
	default:
		return "unknown"
	}
}

// Orchestrator owns the sync lifecycle. It loads persisted state, registers
// the instance when needed, publishes the local schema catalog, and runs the
// periodic mapping-check loop. It also owns the Engine client and rebuilds
// it when the Hub pushes a new endpoint or identity.
type Orchestrator struct {
	cfg      config.AgentConfig
	logger   *zap.Logger
	store    storage.Store
	resolver *policy.Resolver
	hub      *hub.Client
	provider schema.Collector

	identity   models.InstanceIdentity
	identityMu sync.RWMutex

	engine    atomic.Pointer[engine.Client]
	rebuildMu sync.Mutex
	cryptoURL string // guarded by rebuildMu

	state   State
	stateMu sync.RWMutex

	started  atomic.Bool
	inFlight atomic.Bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewOrchestrator creates an orchestrator. provider may be nil when the
// deployment has no local schema source.
func NewOrchestrator(
	cfg config.AgentConfig,
	store storage.Store,
	resolver *policy.Resolver,
	hubClient *hub.Client,
	provider schema.Collector,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		resolver: resolver,
		hub:      hubClient,
		provider: provider,
		state:    Stopped,
		stopChan: make(chan struct{}),
	}
}

// State returns the current lifecycle state (thread-safe)
func (o *Orchestrator) State() State {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.state
}

func (o *Orchestrator) setState(newState State) {
	o.stateMu.Lock()
	oldState := o.state
	o.state = newState
	o.stateMu.Unlock()

	if oldState != newState {
		o.logger.Debug("Orchestrator state changed",
			zap.String("from", oldState.String()),
			zap.String("to", newState.String()))
	}
}

// Identity returns a copy of the current instance identity
func (o *Orchestrator) Identity() models.InstanceIdentity {
	o.identityMu.RLock()
	defer o.identityMu.RUnlock()
	return o.identity
}

func (o *Orchestrator) hubID() string {
	o.identityMu.RLock()
	defer o.identityMu.RUnlock()
	return o.identity.HubID
}

// Engine returns the current Engine client, or nil when no crypto endpoint
// is known yet. Callers must re-obtain the reference on every call; the
// orchestrator swaps it atomically on re-registration and endpoint refresh.
func (o *Orchestrator) Engine() *engine.Client {
	return o.engine.Load()
}

// Start runs the bootstrap sequence and launches the periodic sync loop.
// It may be called at most once per process.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return fmt.Errorf("orchestrator already started")
	}

	o.setState(LoadingLocal)

	o.waitForSchemaProvider(ctx)

	if err := o.loadLocal(); err != nil {
		return err
	}

	if o.hubID() == "" {
		o.setState(Registering)
		if err := o.register(ctx); err != nil {
			if !o.cfg.FailOpen {
				o.setState(Stopped)
				return fmt.Errorf("instance registration failed: %w", err)
			}
			o.logger.Warn("Registration failed, continuing without a hub identity (fail-open)",
				zap.Error(err))
		}
	}

	if o.hubID() != "" {
		o.setState(Syncing)
		if err := o.publishSchemas(ctx); err != nil {
			o.logger.Warn("Schema publication failed, will retry on a later tick", zap.Error(err))
		}
	}

	o.setState(Idle)

	o.wg.Add(1)
	go o.run(ctx)

	metrics.Up.Set(1)
	o.logger.Info("Sync orchestrator started",
		zap.String("alias", o.cfg.Alias),
		zap.String("shape", o.cfg.Shape),
		zap.Bool("registered", o.hubID() != ""))
	return nil
}

// Stop terminates the periodic loop and waits for it to exit
func (o *Orchestrator) Stop() {
	if !o.started.Load() {
		return
	}
	o.stopOnce.Do(func() { close(o.stopChan) })
	o.wg.Wait()
	o.setState(Stopped)
	metrics.Up.Set(0)
	o.logger.Info("Sync orchestrator stopped")
}

// ForceSync runs one sync tick immediately. A tick already in flight
// coalesces with this one.
func (o *Orchestrator) ForceSync(ctx context.Context) {
	o.tick(ctx)
}

// waitForSchemaProvider blocks until the schema provider reports ready,
// bounded by the configured wait timeout. On timeout the bootstrap proceeds
// with whatever catalog is available.
func (o *Orchestrator) waitForSchemaProvider(ctx context.Context) {
	if o.provider == nil || o.cfg.SchemaWaitTimeout == 0 {
		return
	}

	timer := time.NewTimer(o.cfg.SchemaWaitTimeout)
	defer timer.Stop()

	select {
	case <-o.provider.Ready():
	case <-timer.C:
		o.logger.Warn("Schema provider not ready within timeout, proceeding with partial catalog",
			zap.Duration("timeout", o.cfg.SchemaWaitTimeout))
	case <-ctx.Done():
	}
}

// loadLocal primes the resolver and the Engine client from persisted state
func (o *Orchestrator) loadLocal() error {
	identity, err := o.store.LoadConfig()
	if err != nil {
		if !storage.IsNotFoundError(err) {
			return fmt.Errorf("failed to load persisted identity: %w", err)
		}
		identity = &models.InstanceIdentity{
			HubURL: o.cfg.HubURL,
			Alias:  o.cfg.Alias,
		}
	}
	o.identityMu.Lock()
	o.identity = *identity
	o.identityMu.Unlock()

	if err := o.resolver.ReloadFromStorage(); err != nil {
		o.logger.Warn("Failed to reload policy snapshot from storage", zap.Error(err))
	}
	if v := o.resolver.CurrentVersion(); v > 0 {
		metrics.PolicyVersion.Set(float64(v))
	}

	cryptoURL := o.cfg.CryptoURL
	endpoints, err := o.store.LoadEndpoints()
	if err == nil && endpoints.CryptoURL != "" {
		cryptoURL = endpoints.CryptoURL
	} else if err != nil && !storage.IsNotFoundError(err) {
		o.logger.Warn("Failed to load persisted endpoints", zap.Error(err))
	}

	if cryptoURL != "" {
		if err := o.rebuildEngine(cryptoURL); err != nil {
			o.logger.Warn("Failed to build Engine client from persisted endpoint",
				zap.String("cryptoUrl", cryptoURL), zap.Error(err))
		}
	}
	return nil
}

// register obtains a Hub identity and persists it
func (o *Orchestrator) register(ctx context.Context) error {
	hubID, err := o.hub.Register(ctx, o.cfg.Alias, o.cfg.Shape)
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues("failure").Inc()
		return err
	}
	metrics.RegistrationsTotal.WithLabelValues("success").Inc()

	o.adoptHubID(hubID)
	o.logger.Info("Instance registered with Hub", zap.String("alias", o.cfg.Alias))
	return nil
}

// adoptHubID persists a new identity and rebinds the Engine client to it
func (o *Orchestrator) adoptHubID(hubID string) {
	o.identityMu.Lock()
	o.identity.HubID = hubID
	o.identity.HubURL = o.cfg.HubURL
	o.identity.Alias = o.cfg.Alias
	o.identity.Timestamp = time.Now().UTC()
	identity := o.identity
	o.identityMu.Unlock()

	if err := o.store.SaveConfig(&identity); err != nil {
		metrics.StoreSaveFailuresTotal.Inc()
		o.logger.Warn("Failed to persist instance identity", zap.Error(err))
	}

	// Rebind the data plane to the new tenant
	if err := o.rebuildEngine(""); err != nil {
		o.logger.Warn("Failed to rebuild Engine client after identity change", zap.Error(err))
	}
}

// rebuildEngine swaps the Engine client. An empty cryptoURL reuses the last
// known one; when none is known yet the call is a no-op. The rebuild mutex
// serializes swaps; readers go through Engine() and never block.
func (o *Orchestrator) rebuildEngine(cryptoURL string) error {
	o.rebuildMu.Lock()
	defer o.rebuildMu.Unlock()

	if cryptoURL == "" {
		cryptoURL = o.cryptoURL
	}
	if cryptoURL == "" {
		return nil
	}

	client, err := engine.NewClient(cryptoURL, engine.Options{
		Timeout:    o.cfg.HTTPTimeout,
		CACertPath: o.cfg.CACertPath,
		HubID:      o.hubID(),
	}, o.logger)
	if err != nil {
		return err
	}

	o.cryptoURL = cryptoURL
	o.engine.Store(client)
	return nil
}

// publishSchemas collects the local catalog, reconciles it into storage and
// pushes the unacknowledged entries to the Hub. On first boot with nothing
// pending the full catalog is pushed instead.
func (o *Orchestrator) publishSchemas(ctx context.Context) error {
	hubID := o.hubID()
	if hubID == "" {
		return ErrTenantMissing
	}
	if o.provider == nil {
		return nil
	}

	fresh, err := o.provider.Collect(ctx)
	if err != nil {
		return fmt.Errorf("failed to collect local schema: %w", err)
	}

	stored, err := o.store.LoadSchemas()
	firstBoot := storage.IsNotFoundError(err) || (err == nil && len(stored) == 0)

	if _, err := o.store.CompareAndUpdate(fresh); err != nil {
		return fmt.Errorf("failed to reconcile schema catalog: %w", err)
	}

	toPush, err := o.store.GetCreated()
	if err != nil {
		return fmt.Errorf("failed to read pending schema entries: %w", err)
	}
	if firstBoot && len(toPush) == 0 {
		if toPush, err = o.store.LoadSchemas(); err != nil && !storage.IsNotFoundError(err) {
			return fmt.Errorf("failed to read schema catalog: %w", err)
		}
	}
	if len(toPush) == 0 {
		return nil
	}

	if err := o.hub.SyncSchemas(ctx, hubID, o.cfg.Alias, toPush); err != nil {
		metrics.SchemaPushesTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("failed to push schema entries: %w", err)
	}
	metrics.SchemaPushesTotal.WithLabelValues("success").Inc()

	keys := make([]string, 0, len(toPush))
	for i := range toPush {
		keys = append(keys, toPush[i].Key())
	}
	if _, err := o.store.UpdateStatus(keys, models.SchemaStatusRegistered); err != nil {
		o.logger.Warn("Failed to mark schema entries registered", zap.Error(err))
	}

	o.logger.Info("Schema catalog pushed to Hub", zap.Int("entries", len(toPush)))
	return nil
}

// run is the periodic loop goroutine
func (o *Orchestrator) run(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.tick(ctx)
		case <-o.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick performs one mapping-change check. Overlapping ticks coalesce.
func (o *Orchestrator) tick(ctx context.Context) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer o.inFlight.Store(false)

	outcome := o.syncOnce(ctx)
	metrics.SyncTicksTotal.WithLabelValues(outcome).Inc()
}

func (o *Orchestrator) syncOnce(ctx context.Context) string {
	hubID := o.hubID()
	if hubID == "" {
		// Fail-open boot without an identity: keep trying to register
		o.setState(Registering)
		defer o.setState(Idle)
		if err := o.register(ctx); err != nil {
			o.logger.Warn("Registration retry failed", zap.Error(err))
			return "unregistered"
		}
		if err := o.publishSchemas(ctx); err != nil {
			o.logger.Warn("Schema publication failed after registration", zap.Error(err))
		}
		hubID = o.hubID()
	}

	o.setState(Syncing)
	defer o.setState(Idle)

	result, err := o.hub.CheckMappingChange(ctx, hubID, o.resolver.CurrentVersion())
	if err != nil {
		o.logger.Warn("Mapping change check failed, will retry next tick", zap.Error(err))
		return "error"
	}

	switch result.Outcome {
	case hub.CheckNotModified:
		return "not_modified"

	case hub.CheckReregistered:
		o.logger.Info("Hub re-registered this instance, adopting new identity")
		o.adoptHubID(result.NewHubID)
		if err := o.publishSchemas(ctx); err != nil {
			o.logger.Warn("Schema publication failed after re-registration", zap.Error(err))
		}
		o.pullSnapshot(ctx)
		return "reregistered"

	case hub.CheckChanged:
		o.pullSnapshot(ctx)
		return "changed"

	case hub.CheckNotFound:
		o.logger.Warn("Hub no longer knows this instance, re-registering")
		if err := o.register(ctx); err != nil {
			o.logger.Warn("Re-registration failed", zap.Error(err))
			return "error"
		}
		if err := o.publishSchemas(ctx); err != nil {
			o.logger.Warn("Schema publication failed after re-registration", zap.Error(err))
		}
		o.pullSnapshot(ctx)
		return "reregistered"

	default:
		return "error"
	}
}

// pullSnapshot fetches and applies the policy snapshot for the current tenant
func (o *Orchestrator) pullSnapshot(ctx context.Context) {
	hubID := o.hubID()
	if hubID == "" {
		return
	}

	pull, err := o.hub.PullPolicies(ctx, hubID, o.cfg.Alias, o.resolver.CurrentVersion())
	if err != nil {
		o.logger.Warn("Policy snapshot pull failed", zap.Error(err))
		return
	}
	if pull.NotModified {
		return
	}
	if pull.NotFound {
		o.logger.Warn("Hub rejected tenant during snapshot pull, re-registering")
		if err := o.register(ctx); err != nil {
			o.logger.Warn("Re-registration failed", zap.Error(err))
		}
		return
	}

	if err := o.resolver.Refresh(pull.Mappings, nil, pull.Version); err != nil {
		// Snapshot is applied in memory even when persistence fails
		o.logger.Warn("Policy snapshot applied but not persisted", zap.Error(err))
	}
	metrics.SnapshotAppliesTotal.Inc()
	metrics.PolicyVersion.Set(float64(pull.Version))
	o.logger.Info("Policy snapshot applied",
		zap.Uint64("version", pull.Version),
		zap.Int("mappings", len(pull.Mappings)))

	if pull.Endpoint != nil && pull.Endpoint.CryptoURL != "" {
		o.applyEndpoint(pull.Endpoint)
	}

	o.propagatePolicyNames(pull.Mappings)
}

// applyEndpoint validates, persists and adopts a Hub-pushed crypto endpoint.
// An invalid endpoint is dropped; the snapshot it arrived with still stands.
func (o *Orchestrator) applyEndpoint(ep *models.EndpointRouting) {
	parsed, err := url.Parse(ep.CryptoURL)
	if err != nil || strings.Contains(parsed.Path, constants.HubControlSegment) {
		o.logger.Warn("Rejecting crypto endpoint from Hub",
			zap.String("cryptoUrl", ep.CryptoURL))
		return
	}

	record := *ep
	record.SavedAt = time.Now().UTC()
	if err := o.store.SaveEndpoints(&record); err != nil {
		metrics.StoreSaveFailuresTotal.Inc()
		o.logger.Warn("Failed to persist crypto endpoint", zap.Error(err))
	}

	if err := o.rebuildEngine(ep.CryptoURL); err != nil {
		o.logger.Warn("Failed to rebuild Engine client for new endpoint",
			zap.String("cryptoUrl", ep.CryptoURL), zap.Error(err))
		return
	}
	o.logger.Info("Crypto endpoint updated", zap.String("cryptoUrl", ep.CryptoURL))
}

// propagatePolicyNames copies mapping policy names onto the stored schema
// catalog, best-effort. Only fully qualified mappings can be matched.
func (o *Orchestrator) propagatePolicyNames(mappings []models.Mapping) {
	byKey := make(map[string]string)
	for _, m := range mappings {
		if m.SchemaName == "" || m.TableName == "" || m.ColumnName == "" {
			continue
		}
		key := strings.ToLower(m.SchemaName + "." + m.TableName + "." + m.ColumnName)
		byKey[key] = m.PolicyName
	}
	if len(byKey) == 0 {
		return
	}
	if _, err := o.store.UpdatePolicyNames(byKey); err != nil {
		o.logger.Warn("Failed to propagate policy names onto schema catalog", zap.Error(err))
	}
}
