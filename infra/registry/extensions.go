package registry

import (
	"log"
	"sync"

	"github.com/grand-thief-cash/taskmesh/infra/core"
)

var (
	runtimeDepMu sync.Mutex
	runtimeDeps  = map[string][]string{}
)

// ExtendRuntimeDependencies makes target start after deps. It only affects
// start/stop order and must be declared before BuildAndRegisterAll.
func ExtendRuntimeDependencies(target string, deps ...string) {
	if target == "" || len(deps) == 0 {
		return
	}
	runtimeDepMu.Lock()
	runtimeDeps[target] = append(runtimeDeps[target], deps...)
	runtimeDepMu.Unlock()
}

func applyRuntimeDepExtensions(c *core.Container) {
	runtimeDepMu.Lock()
	defer runtimeDepMu.Unlock()
	registered := c.ListRegistered()
	for target, extra := range runtimeDeps {
		comp, ok := registered[target]
		if !ok {
			continue
		}
		ext, ok := comp.(interface{ AddDependencies(...string) })
		if !ok {
			log.Printf("registry: component %s does not support AddDependencies", target)
			continue
		}
		var present []string
		for _, d := range extra {
			if _, ok := registered[d]; ok {
				present = append(present, d)
			}
		}
		ext.AddDependencies(present...)
	}
}
