package orchestration

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/lokv010/voiceagent-sub000/internal/models"
)

// EngineRegistry maps flow types to the engines that handle them. It is an
// explicit, constructor-injected lookup table owned by the orchestrator
// instance, so multiple orchestrators can run in one process without
// interference. Registration happens during wiring; lookups are concurrent.
type EngineRegistry struct {
	mu      sync.RWMutex
	engines map[models.FlowType]FlowEngine
}

// NewEngineRegistry creates an empty engine registry.
func NewEngineRegistry() *EngineRegistry {
	return &EngineRegistry{engines: make(map[models.FlowType]FlowEngine)}
}

// Register associates a flow type with an engine. The engine must report
// that it can handle the flow type; registering a mismatched engine is a
// wiring bug and returns an error.
func (r *EngineRegistry) Register(flowType models.FlowType, engine FlowEngine) error {
	if engine == nil {
		return fmt.Errorf("registry: nil engine for flow type %s", flowType)
	}
	if !models.ValidFlowType(flowType) {
		return fmt.Errorf("registry: unknown flow type %s", flowType)
	}
	if !engine.CanHandle(flowType) {
		return fmt.Errorf("registry: engine does not handle flow type %s", flowType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.engines[flowType]; exists {
		slog.Warn("EngineRegistry.Register: replacing existing engine", "flowType", flowType)
	}
	r.engines[flowType] = engine
	slog.Debug("EngineRegistry.Register: engine registered", "flowType", flowType)
	return nil
}

// Resolve returns the engine for a flow type. A lookup miss is a hard error
// surfaced to the orchestrator, which degrades the turn rather than crash
// the call.
func (r *EngineRegistry) Resolve(flowType models.FlowType) (FlowEngine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	engine, ok := r.engines[flowType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoEngine, flowType)
	}
	return engine, nil
}

// RegisteredFlows returns the flow types that currently have an engine.
func (r *EngineRegistry) RegisteredFlows() []models.FlowType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	flows := make([]models.FlowType, 0, len(r.engines))
	for ft := range r.engines {
		flows = append(flows, ft)
	}
	return flows
}

// Engines returns the distinct engine instances in the registry. Used at
// finalization to call FinalizeFlow on every engine that touched a session.
func (r *EngineRegistry) Engines() []FlowEngine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[FlowEngine]bool, len(r.engines))
	engines := make([]FlowEngine, 0, len(r.engines))
	for _, e := range r.engines {
		if !seen[e] {
			seen[e] = true
			engines = append(engines, e)
		}
	}
	return engines
}
