// Package registry keeps the connectors a worker binary can run, keyed by the
// external system they sync with.
package registry

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/airsync/pkg/config"
	"github.com/ajitpratap0/airsync/pkg/errors"
	"github.com/ajitpratap0/airsync/pkg/models"
	"github.com/ajitpratap0/airsync/pkg/uploader"
	"github.com/ajitpratap0/airsync/pkg/worker"
)

// RunOptions is what the binary hands to a connector for one invocation
type RunOptions struct {
	Event  *models.Event
	Config *config.Config
	Client *http.Client
	Mirror uploader.Mirror
	Logger *zap.Logger
}

// Runner runs one invocation of a connector. Connectors usually call worker.Spawn
// with their own state type and tasks.
type Runner func(ctx context.Context, opts RunOptions) worker.Result

// ConnectorInfo provides information about a connector
type ConnectorInfo struct {
	Name         string   `json:"name" yaml:"name"`
	Description  string   `json:"description" yaml:"description"`
	Version      string   `json:"version" yaml:"version"`
	EventTypes   []string `json:"event_types" yaml:"event_types"`
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
}

type entry struct {
	info   ConnectorInfo
	runner Runner
}

// Registry manages connector registration
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]entry
}

var globalRegistry = NewRegistry()

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]entry)}
}

// Register adds a connector. Names are unique.
func (r *Registry) Register(info ConnectorInfo, runner Runner) error {
	if info.Name == "" || runner == nil {
		return errors.New(errors.ErrorTypeConfig, "connector registration needs a name and a runner")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connectors[info.Name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("connector %s already registered", info.Name))
	}
	r.connectors[info.Name] = entry{info: info, runner: runner}
	return nil
}

// Runner returns the runner of a connector
func (r *Registry) Runner(name string) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.connectors[name]
	if !exists {
		return nil, errors.New(errors.ErrorTypeNotFound, fmt.Sprintf("connector %s not found", name))
	}
	return e.runner, nil
}

// Info returns the description of a connector
func (r *Registry) Info(name string) (ConnectorInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.connectors[name]
	if !exists {
		return ConnectorInfo{}, errors.New(errors.ErrorTypeNotFound, fmt.Sprintf("connector %s not found", name))
	}
	return e.info, nil
}

// List returns the registered connectors sorted by name
func (r *Registry) List() []ConnectorInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ConnectorInfo, 0, len(r.connectors))
	for _, e := range r.connectors {
		infos = append(infos, e.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Register registers a connector in the global registry. Connectors call it from init.
func Register(info ConnectorInfo, runner Runner) error {
	return globalRegistry.Register(info, runner)
}

// MustRegister is Register for init functions
func MustRegister(info ConnectorInfo, runner Runner) {
	if err := Register(info, runner); err != nil {
		panic(err)
	}
}

// Get returns a runner from the global registry
func Get(name string) (Runner, error) {
	return globalRegistry.Runner(name)
}

// List returns the connectors of the global registry
func List() []ConnectorInfo {
	return globalRegistry.List()
}
