package registry

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/grand-thief-cash/taskmesh/infra/config"
	"github.com/grand-thief-cash/taskmesh/infra/core"
)

// BuilderFunc returns (enabled, component, error). enabled=false skips registration.
type BuilderFunc func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error)

type builder struct {
	name string
	deps []string // build-time deps: builders that must run first
	fn   BuilderFunc
	auto bool

	prebuilt core.Component
	enabled  bool
}

var (
	mu       sync.Mutex
	builders []*builder
)

func find(name string) *builder {
	for _, b := range builders {
		if b.name == name {
			return b
		}
	}
	return nil
}

// Register registers a builder with no build-time dependencies.
func Register(name string, fn BuilderFunc) { RegisterWithDeps(name, nil, fn) }

// RegisterWithDeps registers a builder that resolves deps from the container
// while building, so those builders must run first.
func RegisterWithDeps(name string, deps []string, fn BuilderFunc) {
	if name == "" || fn == nil {
		panic("registry: name and builder are required")
	}
	mu.Lock()
	defer mu.Unlock()
	if find(name) != nil {
		panic("registry: duplicate builder " + name)
	}
	builders = append(builders, &builder{name: name, deps: deps, fn: fn})
}

// RegisterAuto registers a builder whose name comes from the built component's
// Name() and whose build-time deps come from its `infra:"dep:<name>"` tags.
func RegisterAuto(fn BuilderFunc) {
	mu.Lock()
	builders = append(builders, &builder{fn: fn, auto: true})
	mu.Unlock()
}

// BuildAndRegisterAll runs every builder in dependency order and registers
// the enabled components in the container.
func BuildAndRegisterAll(cfg *config.AppConfig, c *core.Container) error {
	mu.Lock()
	defer mu.Unlock()

	for _, b := range builders {
		if !b.auto || b.prebuilt != nil {
			continue
		}
		enabled, comp, err := b.fn(cfg, c)
		if err != nil {
			return fmt.Errorf("auto builder failed: %w", err)
		}
		if !enabled || comp == nil {
			continue
		}
		if comp.Name() == "" {
			return fmt.Errorf("auto builder produced unnamed component")
		}
		if other := find(comp.Name()); other != nil && other != b {
			return fmt.Errorf("duplicate builder name %s", comp.Name())
		}
		b.name, b.prebuilt, b.enabled = comp.Name(), comp, true
		b.deps = tagDependencies(comp)
	}

	ordered, err := topoSort()
	if err != nil {
		return err
	}
	for _, b := range ordered {
		enabled, comp := b.enabled, b.prebuilt
		if !b.auto {
			enabled, comp, err = b.fn(cfg, c)
			if err != nil {
				return fmt.Errorf("build %s failed: %w", b.name, err)
			}
		}
		if !enabled || comp == nil {
			continue
		}
		if err := c.Register(b.name, comp); err != nil {
			return fmt.Errorf("register %s failed: %w", b.name, err)
		}
	}
	applyRuntimeDepExtensions(c)
	return nil
}

// tagDependencies extracts component names from `infra:"dep:<name>"` tags.
func tagDependencies(comp core.Component) []string {
	v := reflect.ValueOf(comp)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	var out []string
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, ok := strings.CutPrefix(t.Field(i).Tag.Get("infra"), "dep:")
		if !ok {
			continue
		}
		if name := strings.TrimSuffix(strings.TrimSpace(tag), "?"); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// topoSort orders named builders (Kahn); deps on unknown builders are ignored.
func topoSort() ([]*builder, error) {
	byName := map[string]*builder{}
	for _, b := range builders {
		if b.name != "" {
			byName[b.name] = b
		}
	}
	inDeg := map[string]int{}
	next := map[string][]string{}
	for name, b := range byName {
		inDeg[name] += 0
		for _, d := range b.deps {
			if _, ok := byName[d]; !ok {
				continue
			}
			next[d] = append(next[d], name)
			inDeg[name]++
		}
	}
	var ready []string
	for n, d := range inDeg {
		if d == 0 {
			ready = append(ready, n)
		}
	}
	var ordered []*builder
	for len(ready) > 0 {
		sort.Strings(ready)
		n := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byName[n])
		for _, m := range next[n] {
			inDeg[m]--
			if inDeg[m] == 0 {
				ready = append(ready, m)
			}
		}
	}
	if len(ordered) != len(byName) {
		var cyc []string
		for n, d := range inDeg {
			if d > 0 {
				cyc = append(cyc, n)
			}
		}
		sort.Strings(cyc)
		return nil, fmt.Errorf("registry: cyclic builder deps: %v", cyc)
	}
	return ordered, nil
}

// reset clears all builders; tests only.
func reset() {
	mu.Lock()
	builders = nil
	mu.Unlock()
	runtimeDepMu.Lock()
	runtimeDeps = map[string][]string{}
	runtimeDepMu.Unlock()
}
