// Package registry owns the model table: which configured upstream
// serves each public model name. Lookups run on every request so the
// table is an immutable snapshot swapped atomically on reload.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	internal_errors "github.com/kubellm/kubellm/internal/errors"
	"github.com/kubellm/kubellm/internal/provider"
	"github.com/kubellm/kubellm/internal/telemetry"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type upstreamConfig struct {
	Name     string            `yaml:"name"`
	Provider string            `yaml:"provider"`
	Endpoint string            `yaml:"endpoint"`
	ApiKey   string            `yaml:"api_key"`
	Setting  map[string]string `yaml:"setting"`
	Models   map[string]string `yaml:"models"`
	CostMap  *costMapConfig    `yaml:"cost_map"`
}

type costMapConfig struct {
	Prompt     map[string]float64 `yaml:"prompt"`
	Completion map[string]float64 `yaml:"completion"`
}

type registryConfig struct {
	Providers []upstreamConfig `yaml:"providers"`
}

// Route is everything the routing engine needs to dispatch one request:
// the adapter speaking the upstream's dialect, where to send it and as
// what model.
type Route struct {
	Setting     *provider.Setting
	Adapter     provider.Adapter
	TargetModel string
	ApiKey      string
}

type Registry struct {
	path     string
	adapters map[string]provider.Adapter
	table    atomic.Pointer[map[string]*Route]
	watcher  *fsnotify.Watcher
	done     chan bool
	lg       *zap.Logger
}

func NewRegistry(path string, adapters map[string]provider.Adapter, lg *zap.Logger) (*Registry, error) {
	r := &Registry{
		path:     path,
		adapters: adapters,
		done:     make(chan bool, 1),
		lg:       lg,
	}

	if err := r.Reload(); err != nil {
		return nil, err
	}

	return r, nil
}

// Resolve maps a public model name to its route. In-flight requests keep
// the snapshot they resolved against even if a reload lands mid-request.
func (r *Registry) Resolve(model string) (*Route, error) {
	table := r.table.Load()

	route, ok := (*table)[model]
	if !ok {
		return nil, internal_errors.NewNotFoundError(fmt.Sprintf("model %s is not supported", model))
	}

	return route, nil
}

func (r *Registry) Models() []string {
	table := r.table.Load()

	models := make([]string, 0, len(*table))
	for model := range *table {
		models = append(models, model)
	}

	return models
}

// Reload parses the config file and swaps in a new table. On any error
// the previous table stays in effect.
func (r *Registry) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return err
	}

	cfg := &registryConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("cannot parse provider config %s: %w", r.path, err)
	}

	table, err := r.buildTable(cfg)
	if err != nil {
		return err
	}

	r.table.Store(&table)
	return nil
}

func (r *Registry) buildTable(cfg *registryConfig) (map[string]*Route, error) {
	table := map[string]*Route{}

	for _, uc := range cfg.Providers {
		adapter, ok := r.adapters[uc.Provider]
		if !ok {
			return nil, fmt.Errorf("unknown provider type %s for upstream %s", uc.Provider, uc.Name)
		}

		if len(uc.Endpoint) == 0 {
			return nil, fmt.Errorf("upstream %s has no endpoint", uc.Name)
		}

		setting := &provider.Setting{
			Name:     uc.Name,
			Provider: uc.Provider,
			Endpoint: uc.Endpoint,
			Setting:  uc.Setting,
			Models:   uc.Models,
		}

		if uc.CostMap != nil {
			setting.CostMap = &provider.CostMap{
				PromptCostPerModel:     uc.CostMap.Prompt,
				CompletionCostPerModel: uc.CostMap.Completion,
			}
		}

		for public, target := range uc.Models {
			if _, exists := table[public]; exists {
				return nil, fmt.Errorf("model %s is served by more than one upstream", public)
			}

			table[public] = &Route{
				Setting:     setting,
				Adapter:     adapter,
				TargetModel: target,
				ApiKey:      os.ExpandEnv(uc.ApiKey),
			}
		}
	}

	return table, nil
}

// Listen watches the config file and reloads on change. Watching the
// directory instead of the file survives editors that replace via
// rename.
func (r *Registry) Listen() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return err
	}

	r.watcher = watcher

	go func() {
		r.lg.Info("registry config watcher started watching for changes")

		for {
			select {
			case <-r.done:
				r.lg.Info("registry config watcher stopped")
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				if filepath.Clean(event.Name) != filepath.Clean(r.path) {
					continue
				}

				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				if err := r.Reload(); err != nil {
					telemetry.Incr("kubellm.registry.reload.error", nil, 1)
					r.lg.Sugar().Debugf("registry config reload failed: %v", err)
					continue
				}

				telemetry.Incr("kubellm.registry.reload.success", nil, 1)
				r.lg.Info("registry config reloaded", zap.String("path", r.path))

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}

				r.lg.Sugar().Debugf("registry config watcher error: %v", err)
			}
		}
	}()

	return nil
}

func (r *Registry) Stop() {
	r.lg.Info("shutting down registry...")

	if r.watcher != nil {
		r.watcher.Close()
	}

	r.done <- true
}
