package membership

import (
	"context"
	"sync"

	"github.com/grand-thief-cash/taskmesh/infra/core"
	"github.com/grand-thief-cash/taskmesh/internal/consts"
)

// StaticProvider 配置给定的成员列表, Join/Leave 用于运行期调整和测试
type StaticProvider struct {
	*core.BaseComponent
	events broadcaster

	mu      sync.RWMutex
	members []Member
}

func NewStaticProvider(members ...Member) *StaticProvider {
	p := &StaticProvider{
		BaseComponent: core.NewBaseComponent(consts.COMP_MEMBERSHIP),
	}
	for _, m := range members {
		if m.NodeID != "" {
			p.members = append(p.members, m)
		}
	}
	return p
}

func (p *StaticProvider) Resolve(ctx context.Context, service string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []string
	for _, m := range p.members {
		if m.Service == service && m.Address != "" {
			out = append(out, m.Address)
		}
	}
	return out, nil
}

func (p *StaticProvider) Members(ctx context.Context) ([]Member, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Member(nil), p.members...), nil
}

func (p *StaticProvider) Subscribe(fn func(Event)) func() { return p.events.subscribe(fn) }

// Join 同一 node id 原地替换, 否则追加到末尾
func (p *StaticProvider) Join(m Member) {
	if m.NodeID == "" {
		return
	}
	p.mu.Lock()
	replaced := false
	for i := range p.members {
		if p.members[i].NodeID == m.NodeID {
			p.members[i] = m
			replaced = true
			break
		}
	}
	if !replaced {
		p.members = append(p.members, m)
	}
	p.mu.Unlock()
	p.events.emit(Event{Kind: PeerJoined, Member: m})
}

func (p *StaticProvider) Leave(nodeID string) {
	p.mu.Lock()
	var gone *Member
	for i := range p.members {
		if p.members[i].NodeID == nodeID {
			m := p.members[i]
			gone = &m
			p.members = append(p.members[:i], p.members[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	if gone != nil {
		p.events.emit(Event{Kind: PeerLeft, Member: *gone})
	}
}
