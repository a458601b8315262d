// Package registry maps node type tags to their handlers.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"
	"sort"
	"strings"
	"sync"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

// ErrNoHandler is returned when no registered handler serves a node type.
var ErrNoHandler = errors.New("no handler registered for node type")

type Registry struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers []protocol.Handler
	byType   map[string]protocol.Handler
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger: log.With("module", "registry"),
		byType: make(map[string]protocol.Handler),
	}
}

// Register adds a handler. Handlers registered later take precedence for types
// that more than one handler can serve.
func (r *Registry) Register(handler protocol.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers = append(r.handlers, handler)

	if lister, ok := handler.(protocol.TypeLister); ok {
		for _, nodeType := range lister.Types() {
			r.byType[nodeType] = handler
		}
	}
}

// HandlerFor returns the handler serving nodeType.
func (r *Registry) HandlerFor(nodeType string) (protocol.Handler, error) {
	r.mu.RLock()
	handler, ok := r.byType[nodeType]
	r.mu.RUnlock()

	if ok {
		return handler, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.handlers) - 1; i >= 0; i-- {
		if r.handlers[i].CanHandle(nodeType) {
			r.byType[nodeType] = r.handlers[i]

			return r.handlers[i], nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrNoHandler, nodeType)
}

// ValidateNode runs the handler's own validation and, when the handler publishes
// a schema for the type, JSON schema validation of the typed configuration.
func (r *Registry) ValidateNode(node *models.WorkflowNode) models.NodeValidation {
	handler, err := r.HandlerFor(node.Type)
	if err != nil {
		return models.NewNodeValidation(err.Error())
	}

	result := handler.Validate(node)
	errs := append([]string(nil), result.Errors...)

	if provider, ok := handler.(models.SchemaProvider); ok {
		if schema := provider.Schema(node.Type); schema != nil {
			errs = append(errs, validateSchema(schema, node.TypedConfig())...)
		}
	}

	return models.NewNodeValidation(errs...)
}

// ValidateNodes validates every node of the graph and returns the invalid ones by id.
func (r *Registry) ValidateNodes(graph *models.WorkflowGraph) map[string]models.NodeValidation {
	invalid := make(map[string]models.NodeValidation)

	for _, id := range graph.NodeIDs() {
		if result := r.ValidateNode(graph.Nodes[id]); !result.IsValid {
			invalid[id] = result
		}
	}

	return invalid
}

// Types returns every node type served by a handler that lists its types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.byType))

	for _, handler := range r.handlers {
		if lister, ok := handler.(protocol.TypeLister); ok {
			types = append(types, lister.Types()...)
		}
	}

	sort.Strings(types)

	return compact(types)
}

// Schemas returns the configuration schema of every listed type; types without a schema map to nil.
func (r *Registry) Schemas() map[string]map[string]any {
	schemas := make(map[string]map[string]any)

	for _, nodeType := range r.Types() {
		handler, err := r.HandlerFor(nodeType)
		if err != nil {
			continue
		}

		var schema map[string]any
		if provider, ok := handler.(models.SchemaProvider); ok {
			schema = provider.Schema(nodeType)
		}

		schemas[nodeType] = schema
	}

	return schemas
}

// LoadHandlerPlugins opens every shared object under <pluginsPath>/handlers and
// registers the exported "Handler" symbol of each.
func (r *Registry) LoadHandlerPlugins(pluginsPath string) ([]protocol.Handler, error) {
	handlers, err := loadPlugin[protocol.Handler](r.logger, pluginsPath, "Handler")
	if err != nil {
		return nil, err
	}

	for _, handler := range handlers {
		r.Register(handler)
	}

	return handlers, nil
}

func validateSchema(schema map[string]any, config map[string]any) []string {
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(config))
	if err != nil {
		return []string{fmt.Sprintf("invalid configuration schema: %v", err)}
	}

	if result.Valid() {
		return nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}

	return errs
}

func compact(sorted []string) []string {
	out := sorted[:0]

	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}

	return out
}

func loadPlugin[T any](logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	rootPath := pluginsPath + "/" + strings.ToLower(symbolName) + "s"

	pluginPathList, err := fs.Glob(os.DirFS(rootPath), "*.so")
	if err != nil {
		return nil, err
	}

	l := logger.With(slog.String("path", rootPath), slog.String("type", symbolName))
	l.Info("Loading plugins", "count", len(pluginPathList))

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(rootPath + "/" + p)
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("plugin %s does not export %s: %w", p, symbolName, err)
		}

		castV, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("plugin %s: symbol %s has unexpected type %T", p, symbolName, v)
		}

		pluginList = append(pluginList, castV)

		l.Info("Loaded plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}

// HealthCheck reports whether any handler is registered.
func (r *Registry) HealthCheck() (string, bool) {
	r.mu.RLock()
	count := len(r.handlers)
	r.mu.RUnlock()

	if count == 0 {
		return "Registry has no handlers", false
	}

	return fmt.Sprintf("Registry is healthy (%d handlers)", count), true
}
