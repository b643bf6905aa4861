package factory

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"

	"github.com/kilianp07/leadroute/core/model"
)

// ModuleConfig selects a component by type and carries its raw settings.
type ModuleConfig struct {
	Type string         `json:"type"`
	Conf map[string]any `json:"conf"`
}

// Factory builds a T from raw settings.
type Factory[T any] func(conf map[string]any) (T, error)

// Registry maps lower-cased type names to factories.
type Registry[T any] struct {
	mu     sync.RWMutex
	byName map[string]Factory[T]
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{byName: make(map[string]Factory[T])}
}

// Register fails on a nil factory or a name already taken.
func (r *Registry[T]) Register(name string, f Factory[T]) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || f == nil {
		return fmt.Errorf("factory: invalid registration %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byName[key]; taken {
		return fmt.Errorf("factory: %q registered twice", key)
	}
	r.byName[key] = f
	return nil
}

// Types lists registered names in order.
func (r *Registry[T]) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for k := range r.byName {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

// Create runs the factory registered for cfg.Type. Unknown types are a
// validation error naming the alternatives.
func (r *Registry[T]) Create(cfg ModuleConfig) (T, error) {
	r.mu.RLock()
	f, ok := r.byName[strings.ToLower(strings.TrimSpace(cfg.Type))]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, &model.ValidationError{
			Field:  "type",
			Reason: fmt.Sprintf("unknown module %q (have %s)", cfg.Type, strings.Join(r.Types(), ", ")),
		}
	}
	conf := cfg.Conf
	if conf == nil {
		conf = map[string]any{}
	}
	out, err := f(conf)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("factory %s: %w", cfg.Type, err)
	}
	return out, nil
}

// Decode copies raw settings into out using json tags. Durations accept
// "30s" strings and comma-separated strings fill slices. Unknown keys are
// rejected so typos in the config file surface at startup.
func Decode(conf map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(conf); err != nil {
		return &model.ValidationError{Field: "conf", Reason: err.Error()}
	}
	return nil
}
