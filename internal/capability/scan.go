package capability

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/grand-thief-cash/taskmesh/infra/components/logging"
	"github.com/grand-thief-cash/taskmesh/internal/model"
)

// RequestScan 幂等: 已经 Scheduled/Scanning 时不会再起一个定时任务.
// 返回是否新建了调度.
func (e *Endpoint) RequestScan() bool {
	e.scanMu.Lock()
	defer e.scanMu.Unlock()
	if e.root == nil || e.root.Err() != nil {
		return false
	}
	switch e.state {
	case Scheduled:
		return false
	case Scanning:
		e.dirty = true
		return false
	}
	e.state = Scheduled
	e.attempts = 0
	e.gen++
	ctx, cancel := context.WithCancel(e.root)
	e.cancel = cancel
	e.wg.Add(1)
	go e.run(ctx, e.gen)
	return true
}

// reset 调用方持有 scanMu
func (e *Endpoint) reset() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.state = Idle
	e.attempts = 0
	e.dirty = false
}

func (e *Endpoint) run(ctx context.Context, gen int) {
	defer e.wg.Done()
	timer := time.NewTimer(e.settings.InitialDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	ticker := time.NewTicker(e.settings.Period)
	defer ticker.Stop()
	for e.tick(ctx, gen) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick runs one scan and decides the next state; false ends the periodic task.
func (e *Endpoint) tick(ctx context.Context, gen int) bool {
	e.scanMu.Lock()
	if gen != e.gen || ctx.Err() != nil {
		e.scanMu.Unlock()
		return false
	}
	e.state = Scanning
	e.dirty = false
	e.scanMu.Unlock()

	needed := e.scan(ctx)

	e.scanMu.Lock()
	defer e.scanMu.Unlock()
	if gen != e.gen || ctx.Err() != nil {
		return false
	}
	if !needed && !e.dirty {
		e.reset()
		return false
	}
	e.attempts++
	if e.attempts > e.settings.MaxAttempts {
		logging.Warn(ctx, "capability scan exhausted, giving up until next membership change",
			zap.Int("attempts", e.attempts), zap.Strings("unresolved", e.unresolved()))
		e.reset()
		return false
	}
	e.state = Scheduled
	return true
}

func (e *Endpoint) unresolved() []string {
	e.catMu.RLock()
	defer e.catMu.RUnlock()
	var out []string
	for _, name := range e.settings.Required {
		if len(e.catalog[name].DeliveryNodes) == 0 {
			out = append(out, name)
		}
	}
	return out
}

// scan 探测所有成员并重建目录, 返回是否需要重扫
func (e *Endpoint) scan(ctx context.Context) bool {
	members, err := e.members.Members(ctx)
	if err != nil {
		logging.Warn(ctx, "capability scan: list members failed", zap.Error(err))
		return true
	}

	var (
		mu        sync.Mutex
		responses []*model.CapabilityProbeResponse
		failed    bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.settings.Parallelism)
	for _, m := range members {
		if m.Address == "" || m.Address == e.identity.Address {
			continue
		}
		addr := m.Address
		g.Go(func() error {
			resp, ok := e.Probe(gctx, addr)
			mu.Lock()
			defer mu.Unlock()
			if !ok {
				failed = true
				return nil
			}
			if resp.InScope {
				responses = append(responses, resp)
			}
			return nil
		})
	}
	_ = g.Wait()

	catalog := make(map[string]model.CapabilityRecord)
	merge := func(records []model.CapabilityRecord) {
		for _, r := range records {
			cur := catalog[r.Name]
			cur.Name = r.Name
			for _, n := range r.DeliveryNodes {
				if !containsNode(cur.DeliveryNodes, n) {
					cur.DeliveryNodes = append(cur.DeliveryNodes, n)
				}
			}
			catalog[r.Name] = cur
		}
	}
	merge(e.localRecords())
	for _, r := range responses {
		merge(r.Capabilities)
	}

	e.catMu.Lock()
	e.catalog = catalog
	e.catMu.Unlock()

	missing := e.unresolved()
	logging.Debug(ctx, "capability scan finished", zap.Int("peers", len(responses)), zap.Int("capabilities", len(catalog)),
		zap.Bool("probe_failed", failed), zap.Strings("unresolved", missing))
	return failed || len(missing) > 0
}

func containsNode(nodes []model.DeliveryNode, n model.DeliveryNode) bool {
	for _, x := range nodes {
		if x == n {
			return true
		}
	}
	return false
}
