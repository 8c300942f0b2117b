package membership

import (
	"context"
	"sort"
	"sync"
	"time"
)

type EventKind string

const (
	PeerJoined EventKind = "PEER_JOINED"
	PeerLeft   EventKind = "PEER_LEFT"
)

// Member 集群中的一个节点
type Member struct {
	NodeID   string    `json:"node_id"`
	Service  string    `json:"service"`
	Address  string    `json:"address"`
	JoinedAt time.Time `json:"joined_at"`
	LastSeen time.Time `json:"last_seen"`
}

type Event struct {
	Kind   EventKind
	Member Member
}

// Provider resolves logical service names to live peer addresses and reports
// join/leave events.
type Provider interface {
	// Resolve returns addresses in membership order; unknown names give an empty list.
	Resolve(ctx context.Context, service string) ([]string, error)
	Members(ctx context.Context) ([]Member, error)
	Subscribe(fn func(Event)) (cancel func())
}

// 按加入时间排序, 相同时按 node id
func sortMembers(ms []Member) {
	sort.SliceStable(ms, func(i, j int) bool {
		if !ms[i].JoinedAt.Equal(ms[j].JoinedAt) {
			return ms[i].JoinedAt.Before(ms[j].JoinedAt)
		}
		return ms[i].NodeID < ms[j].NodeID
	})
}

type broadcaster struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
}

func (b *broadcaster) subscribe(fn func(Event)) func() {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[int]func(Event))
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// emit 在锁外回调
func (b *broadcaster) emit(ev Event) {
	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}
