package membership

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/grand-thief-cash/taskmesh/infra/components/logging"
	"github.com/grand-thief-cash/taskmesh/infra/core"
	"github.com/grand-thief-cash/taskmesh/internal/consts"
)

// ClientSource is satisfied by the redis component; the client only exists
// after that component started.
type ClientSource interface {
	Client() redis.UniversalClient
}

type RedisOptions struct {
	KeyPrefix string
	Heartbeat time.Duration
	MemberTTL time.Duration
}

// RedisProvider 成员信息存放在 redis:
//
//	<prefix>:members:<service>  hash, field=node id, value=json(Member)
//	<prefix>:services           set, 所有服务名
//	<prefix>:membership         pub/sub 频道, 加入/离开时发布
//
// 事件由本地已知成员集合与 redis 快照做差得出, 频道消息和心跳都只触发一次刷新.
type RedisProvider struct {
	*core.BaseComponent
	src  ClientSource
	self Member
	opts RedisOptions
	now  func() time.Time

	client redis.UniversalClient
	events broadcaster

	mu    sync.Mutex
	known map[string]Member

	pubsub *redis.PubSub
	stop   chan struct{}
	wg     sync.WaitGroup
}

func NewRedisProvider(src ClientSource, self Member, opts RedisOptions) *RedisProvider {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "taskmesh"
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 3 * time.Second
	}
	if opts.MemberTTL <= opts.Heartbeat {
		opts.MemberTTL = 5 * opts.Heartbeat
	}
	return &RedisProvider{
		BaseComponent: core.NewBaseComponent(consts.COMP_MEMBERSHIP),
		src:           src,
		self:          self,
		opts:          opts,
		now:           time.Now,
		known:         make(map[string]Member),
	}
}

func (p *RedisProvider) membersKey(service string) string {
	return p.opts.KeyPrefix + ":members:" + service
}
func (p *RedisProvider) servicesKey() string { return p.opts.KeyPrefix + ":services" }
func (p *RedisProvider) channel() string     { return p.opts.KeyPrefix + ":membership" }

type notice struct {
	Kind   EventKind `json:"kind"`
	NodeID string    `json:"node_id"`
}

func (p *RedisProvider) Start(ctx context.Context) error {
	if p.IsActive() {
		return nil
	}
	p.client = p.src.Client()
	if p.client == nil {
		return fmt.Errorf("membership: redis client not available")
	}
	p.pubsub = p.client.Subscribe(ctx, p.channel())
	if _, err := p.pubsub.Receive(ctx); err != nil {
		_ = p.pubsub.Close()
		return fmt.Errorf("membership: subscribe %s: %w", p.channel(), err)
	}
	now := p.now().UTC()
	p.self.JoinedAt, p.self.LastSeen = now, now
	if err := p.writeSelf(ctx, true); err != nil {
		_ = p.pubsub.Close()
		return err
	}
	p.publish(ctx, PeerJoined)
	p.refresh(ctx)

	p.stop = make(chan struct{})
	p.wg.Add(2)
	go p.listen(p.pubsub.Channel())
	go p.heartbeat()
	logging.Info(ctx, "redis membership started", zap.String("node", p.self.NodeID), zap.String("service", p.self.Service))
	return p.BaseComponent.Start(ctx)
}

func (p *RedisProvider) Stop(ctx context.Context) error {
	if !p.IsActive() {
		return nil
	}
	close(p.stop)
	_ = p.pubsub.Close()
	p.wg.Wait()
	err := p.client.HDel(ctx, p.membersKey(p.self.Service), p.self.NodeID).Err()
	p.publish(ctx, PeerLeft)
	if err != nil {
		logging.Warn(ctx, "membership deregister failed", zap.Error(err))
	}
	return p.BaseComponent.Stop(ctx)
}

func (p *RedisProvider) HealthCheck() error {
	if err := p.BaseComponent.HealthCheck(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return p.client.Ping(ctx).Err()
}

func (p *RedisProvider) writeSelf(ctx context.Context, join bool) error {
	raw, err := json.Marshal(p.self)
	if err != nil {
		return err
	}
	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, p.membersKey(p.self.Service), p.self.NodeID, raw)
	if join {
		pipe.SAdd(ctx, p.servicesKey(), p.self.Service)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("membership: write self: %w", err)
	}
	return nil
}

func (p *RedisProvider) publish(ctx context.Context, kind EventKind) {
	raw, _ := json.Marshal(notice{Kind: kind, NodeID: p.self.NodeID})
	if err := p.client.Publish(ctx, p.channel(), raw).Err(); err != nil {
		logging.Warn(ctx, "membership publish failed", zap.String("kind", string(kind)), zap.Error(err))
	}
}

func (p *RedisProvider) listen(ch <-chan *redis.Message) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var n notice
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil || n.NodeID == p.self.NodeID {
				continue
			}
			p.refresh(context.Background())
		}
	}
}

func (p *RedisProvider) heartbeat() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.opts.Heartbeat)
			p.self.LastSeen = p.now().UTC()
			if err := p.writeSelf(ctx, false); err != nil {
				logging.Warn(ctx, "membership heartbeat failed", zap.Error(err))
			}
			p.refresh(ctx)
			cancel()
		}
	}
}

// refresh diffs the live member set against what we emitted last time.
func (p *RedisProvider) refresh(ctx context.Context) {
	members, err := p.Members(ctx)
	if err != nil {
		logging.Warn(ctx, "membership refresh failed", zap.Error(err))
		return
	}
	live := make(map[string]Member, len(members))
	for _, m := range members {
		if m.NodeID != p.self.NodeID {
			live[m.NodeID] = m
		}
	}
	var evs []Event
	p.mu.Lock()
	for id, m := range live {
		if _, ok := p.known[id]; !ok {
			evs = append(evs, Event{Kind: PeerJoined, Member: m})
		}
	}
	for id, m := range p.known {
		if _, ok := live[id]; !ok {
			evs = append(evs, Event{Kind: PeerLeft, Member: m})
		}
	}
	p.known = live
	p.mu.Unlock()
	for _, ev := range evs {
		p.events.emit(ev)
	}
}

func (p *RedisProvider) Subscribe(fn func(Event)) func() { return p.events.subscribe(fn) }

func (p *RedisProvider) Members(ctx context.Context) ([]Member, error) {
	services, err := p.client.SMembers(ctx, p.servicesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("membership: list services: %w", err)
	}
	var out []Member
	for _, svc := range services {
		ms, err := p.serviceMembers(ctx, svc)
		if err != nil {
			return nil, err
		}
		out = append(out, ms...)
	}
	sortMembers(out)
	return out, nil
}

func (p *RedisProvider) Resolve(ctx context.Context, service string) ([]string, error) {
	if service == "" {
		return nil, nil
	}
	ms, err := p.serviceMembers(ctx, service)
	if err != nil {
		return nil, err
	}
	sortMembers(ms)
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		if m.Address != "" {
			out = append(out, m.Address)
		}
	}
	return out, nil
}

// serviceMembers 过滤掉超过 member_ttl 未心跳的成员
func (p *RedisProvider) serviceMembers(ctx context.Context, service string) ([]Member, error) {
	vals, err := p.client.HGetAll(ctx, p.membersKey(service)).Result()
	if err != nil {
		return nil, fmt.Errorf("membership: read %s: %w", service, err)
	}
	cutoff := p.now().UTC().Add(-p.opts.MemberTTL)
	out := make([]Member, 0, len(vals))
	for id, raw := range vals {
		var m Member
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			logging.Debug(ctx, "membership entry skipped: bad json", zap.String("node", id))
			continue
		}
		if m.LastSeen.Before(cutoff) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
