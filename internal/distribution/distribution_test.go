package distribution

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/grand-thief-cash/taskmesh/internal/cache"
	"github.com/grand-thief-cash/taskmesh/internal/capability"
	"github.com/grand-thief-cash/taskmesh/internal/consts"
	"github.com/grand-thief-cash/taskmesh/internal/membership"
	"github.com/grand-thief-cash/taskmesh/internal/model"
	"github.com/grand-thief-cash/taskmesh/internal/participant"
	"github.com/grand-thief-cash/taskmesh/internal/queue"
	"github.com/grand-thief-cash/taskmesh/internal/transport"
)

const bufAddr = "passthrough:///bufnet"

type bufPool struct {
	lis *bufconn.Listener

	mu   sync.Mutex
	conn *grpc.ClientConn
}

func (p *bufPool) Conn(address string) (*grpc.ClientConn, error) {
	if address != bufAddr {
		return nil, errors.New("unknown peer " + address)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return p.conn, nil
	}
	conn, err := grpc.NewClient(address,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return p.lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	p.conn = conn
	return conn, nil
}

type node struct {
	mgr      *Manager
	cache    *cache.TaskCache
	queues   *queue.QueueSet
	registry *participant.Registry
	cap      *capability.Endpoint
}

func newNode(name, address string, members membership.Provider, rpc transport.RPCClient, f Fulfiller) *node {
	id := model.EndpointIdentity{Name: name, Service: name, Scope: "north", Address: address}
	n := &node{
		cache:    cache.NewTaskCache(name),
		queues:   queue.NewQueueSet(nil),
		registry: participant.NewRegistry(name),
		cap: capability.NewEndpoint(id, members, rpc,
			capability.Settings{InitialDelay: time.Millisecond, Period: 5 * time.Millisecond, MaxAttempts: 3}),
	}
	n.mgr = NewManager(id, time.Second, Deps{
		Cache: n.cache, Queues: n.queues, Registry: n.registry, RPC: rpc, Capabilities: n.cap, Fulfiller: f,
	})
	return n
}

// startRemote 通过 bufconn 提供一个名为 lab 的远端节点
func startRemote(t *testing.T) (*node, *bufconn.Listener) {
	t.Helper()
	remote := newNode("lab", bufAddr, membership.NewStaticProvider(), nil, nil)
	remote.cap.RegisterCapability("upper", func(ctx context.Context, item model.WorkItem) (model.WorkItem, error) {
		return model.WorkItem{ContentType: item.ContentType, Payload: []byte(strings.ToUpper(string(item.Payload)))}, nil
	})
	srv := transport.NewClusterTransport(membership.NewStaticProvider(), nil, "", 0, prometheus.NewRegistry())
	srv.Handle(remote.mgr.Methods()...)
	srv.Handle(remote.cap.Methods()...)
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	srv.Register(s)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)
	return remote, lis
}

func newLocal(t *testing.T, lis *bufconn.Listener, codec string) *node {
	t.Helper()
	members := membership.NewStaticProvider(membership.Member{NodeID: "lab", Service: "lab", Address: bufAddr})
	rpc := transport.NewClusterTransport(members, &bufPool{lis: lis}, codec, time.Second, prometheus.NewRegistry())
	return newNode("ward", "ward:7000", members, rpc, nil)
}

func endpoint() *model.EndpointIdentity {
	return &model.EndpointIdentity{Name: "ward", Service: "ward", Scope: "north"}
}

func task(performer string) *model.ActionableTask {
	return &model.ActionableTask{
		ID:        model.NewTaskID("order-1"),
		Origin:    "ward",
		Performer: performer,
		WorkItem:  model.WorkItem{ContentType: "upper", Payload: []byte("abc")},
	}
}

func TestRegisterHandlerEnvelopeDiscipline(t *testing.T) {
	n := newNode("lab", "lab:7000", nil, nil, nil)
	ctx := context.Background()

	resp, err := n.mgr.handleRegister(ctx, &model.Request[model.ActionableTask]{CorrelationID: "c1", RequestingEndpoint: endpoint()})
	require.NoError(t, err)
	assert.False(t, resp.Successful)
	assert.Equal(t, "c1", resp.CorrelationID)
	assert.Nil(t, resp.Content)

	resp, err = n.mgr.handleRegister(ctx, &model.Request[model.ActionableTask]{CorrelationID: "c2", Content: task("lab")})
	require.NoError(t, err)
	assert.False(t, resp.Successful)
	assert.Empty(t, n.cache.ListTaskIDs(), "no side effect")

	tk := task("lab")
	resp, err = n.mgr.handleRegister(ctx, model.NewRequest(consts.CT_ACTIONABLE_TASK, tk, endpoint()))
	require.NoError(t, err)
	require.True(t, resp.Successful)
	assert.True(t, resp.Content.Registered)
	assert.Equal(t, consts.StorageSaved, resp.Content.Traceability.Persistence.LocalStatus)
	assert.Equal(t, consts.CT_ACTIONABLE_TASK, resp.ContentType)
}

func TestUpdateHandlerReadsBackFromCache(t *testing.T) {
	n := newNode("lab", "lab:7000", nil, nil, nil)
	ctx := context.Background()
	tk := task("lab")

	resp, _ := n.mgr.handleUpdate(ctx, model.NewRequest(consts.CT_ACTIONABLE_TASK, tk, endpoint()))
	assert.False(t, resp.Successful, "unknown task")

	n.cache.RegisterTask(tk)
	changed := tk.Clone()
	changed.Status = consts.TaskActive
	resp, _ = n.mgr.handleUpdate(ctx, model.NewRequest(consts.CT_ACTIONABLE_TASK, changed, endpoint()))
	require.True(t, resp.Successful)
	stored, _ := n.cache.GetTask(tk.ID)
	assert.Equal(t, stored, resp.Content)
	assert.Equal(t, consts.TaskActive, resp.Content.Status)
}

func TestFulfillHandler(t *testing.T) {
	var seenCards int
	var n *node
	n = newNode("lab", "lab:7000", nil, nil, FulfillerFunc(func(ctx context.Context, tk *model.ActionableTask) (model.WorkItem, error) {
		seenCards = n.cache.JobCardCount()
		if string(tk.WorkItem.Payload) == "bad" {
			return model.WorkItem{}, errors.New("pipeline rejected")
		}
		return model.WorkItem{ContentType: "done", Payload: []byte("ok")}, nil
	}))
	ctx := context.Background()

	tk := task("lab")
	resp, err := n.mgr.handleFulfill(ctx, model.NewRequest(consts.CT_ACTIONABLE_TASK, tk, endpoint()))
	require.NoError(t, err)
	require.True(t, resp.Successful, resp.Error)
	assert.Equal(t, 1, seenCards)
	assert.Equal(t, 0, n.cache.JobCardCount())
	assert.Equal(t, consts.TaskFinished, resp.Content.Status)
	require.NotNil(t, resp.Content.Result)
	assert.Equal(t, "ok", string(resp.Content.Result.Payload))
	assert.Equal(t, "lab", resp.Content.Traceability.Hops[0].Fulfiller)

	bad := task("lab")
	bad.WorkItem.Payload = []byte("bad")
	resp, _ = n.mgr.handleFulfill(ctx, model.NewRequest(consts.CT_ACTIONABLE_TASK, bad, endpoint()))
	assert.False(t, resp.Successful)
	assert.Contains(t, resp.Error, "pipeline rejected")
	stored, ok := n.cache.GetTask(bad.ID)
	require.True(t, ok)
	assert.Equal(t, consts.TaskFailed, stored.Status)
	assert.Equal(t, 0, n.cache.JobCardCount())
}

func TestOverlappingFulfilKeepsNewerJobCard(t *testing.T) {
	entered := make(chan int, 2)
	release := []chan struct{}{make(chan struct{}), make(chan struct{})}
	var calls sync.Mutex
	call := 0
	var n *node
	n = newNode("lab", "lab:7000", nil, nil, FulfillerFunc(func(ctx context.Context, tk *model.ActionableTask) (model.WorkItem, error) {
		calls.Lock()
		i := call
		call++
		calls.Unlock()
		entered <- i
		<-release[i]
		return model.WorkItem{ContentType: "done"}, nil
	}))
	ctx := context.Background()
	tk := task("lab")

	results := make(chan *model.Response[model.ActionableTask], 2)
	fulfil := func() {
		resp, _ := n.mgr.handleFulfill(ctx, model.NewRequest(consts.CT_ACTIONABLE_TASK, tk, endpoint()))
		results <- resp
	}
	go fulfil()
	require.Equal(t, 0, <-entered)
	go fulfil()
	require.Equal(t, 1, <-entered)

	// 第一次先结束, 第二次的卡必须还在
	close(release[0])
	require.True(t, (<-results).Successful)
	card, ok := n.cache.GetJobCard(tk.ID)
	require.True(t, ok)
	assert.Equal(t, 2, card.Attempt)

	close(release[1])
	require.True(t, (<-results).Successful)
	assert.Equal(t, 0, n.cache.JobCardCount())
}

func TestRetrievePendingHandler(t *testing.T) {
	n := newNode("lab", "lab:7000", nil, nil, nil)
	ctx := context.Background()
	n.cache.RegisterTask(task("lab"))
	finished := task("lab")
	finished.Status = consts.TaskFinished
	n.cache.RegisterTask(finished)

	resp, _ := n.mgr.handleRetrievePending(ctx, model.NewRequest(consts.CT_PENDING_QUERY, &model.PendingQuery{}, endpoint()))
	require.True(t, resp.Successful)
	assert.Empty(t, resp.Content.Tasks)

	resp, _ = n.mgr.handleRetrievePending(ctx, model.NewRequest(consts.CT_PENDING_QUERY, &model.PendingQuery{Participant: "lab"}, endpoint()))
	require.True(t, resp.Successful)
	assert.Len(t, resp.Content.Tasks, 1)
}

func TestStubsOverGRPC(t *testing.T) {
	for _, codec := range []string{consts.CODEC_JSON, consts.CODEC_MSGPACK} {
		t.Run(codec, func(t *testing.T) {
			remote, lis := startRemote(t)
			local := newLocal(t, lis, codec)
			ctx := context.Background()

			tk := task("lab")
			resp := local.mgr.RegisterTask(ctx, "lab", tk)
			require.True(t, resp.Successful, resp.Error)
			assert.NotEmpty(t, resp.CorrelationID)
			_, ok := remote.cache.GetTask(tk.ID)
			assert.True(t, ok)

			pending := local.mgr.RetrievePending(ctx, "lab", "lab")
			require.True(t, pending.Successful)
			require.Len(t, pending.Content.Tasks, 1)
			assert.Equal(t, tk.ID, pending.Content.Tasks[0].ID)

			done := local.mgr.FulfillTask(ctx, "lab", tk)
			require.True(t, done.Successful, done.Error)
			assert.Equal(t, "ABC", string(done.Content.Result.Payload))

			ack := local.mgr.LogAuditEvents(ctx, "lab", []model.AuditEvent{{ID: "a"}, {ID: "b"}})
			require.True(t, ack.Successful)
			assert.Equal(t, 2, ack.Content.Accepted)
		})
	}
}

func TestStubFailureIsData(t *testing.T) {
	_, lis := startRemote(t)
	local := newLocal(t, lis, "")
	ctx := context.Background()

	resp := local.mgr.RegisterTask(ctx, "nowhere", task("nowhere"))
	assert.False(t, resp.Successful)
	assert.NotEmpty(t, resp.CorrelationID)
	assert.Contains(t, resp.Error, ErrUnresolvable.Error())

	exec := local.mgr.ExecuteAt(ctx, "passthrough:///elsewhere", model.TaskExecutionRequest{Capability: "upper"})
	assert.False(t, exec.Successful)
	assert.NotEmpty(t, exec.CorrelationID)
}

func TestForwardPendingPreservesOrder(t *testing.T) {
	remote, lis := startRemote(t)
	local := newLocal(t, lis, "")
	ctx := context.Background()

	var ids []model.TaskID
	for i := 0; i < 3; i++ {
		tk := task("lab")
		_, queued := local.mgr.Submit(ctx, tk)
		require.True(t, queued)
		ids = append(ids, tk.ID)
	}
	_, queued := local.mgr.Submit(ctx, task("ward"))
	assert.False(t, queued, "local performer is not queued")
	assert.Equal(t, 3, local.queues.Queue("lab").Size())

	assert.Equal(t, 3, local.mgr.ForwardPending(ctx))
	assert.Equal(t, 0, local.queues.Queue("lab").Size())
	for _, id := range ids {
		_, ok := remote.cache.GetTask(id)
		assert.True(t, ok)
	}
}

func TestForwardPendingStopsOnFailure(t *testing.T) {
	rpc := transport.NewClusterTransport(membership.NewStaticProvider(), &bufPool{}, "", time.Second, nil)
	local := newNode("ward", "ward:7000", membership.NewStaticProvider(), rpc, nil)
	ctx := context.Background()
	first := task("lab")
	local.mgr.Submit(ctx, first)
	local.mgr.Submit(ctx, task("lab"))

	assert.Equal(t, 0, local.mgr.ForwardPending(ctx))
	q := local.queues.Queue("lab")
	assert.Equal(t, 2, q.Size())
	head, _ := q.Peek()
	assert.Equal(t, first.ID, head.TaskID)
}

func TestFanOutCreatesChildPerSubscriber(t *testing.T) {
	n := newNode("ward", "ward:7000", nil, nil, nil)
	ctx := context.Background()
	n.registry.Upsert(model.ParticipantRegistration{
		Participant:   model.Participant{Name: "lab"},
		Subscriptions: []model.Subscription{{OriginParticipant: "ward"}},
	})
	n.registry.Upsert(model.ParticipantRegistration{
		Participant:   model.Participant{Name: "pharmacy"},
		Subscriptions: []model.Subscription{{OriginParticipant: "ward", ContentType: "prescription"}},
	})
	n.registry.Upsert(model.ParticipantRegistration{Participant: model.Participant{Name: "radiology"}})

	parent := task("ward")
	children := n.mgr.FanOut(ctx, parent)
	require.Len(t, children, 1)
	child := children[0]
	assert.Equal(t, "lab", child.Performer)
	assert.Equal(t, "ward", child.Origin)
	assert.Equal(t, parent.ID.BusinessID, child.ID.BusinessID)
	assert.NotEqual(t, parent.ID.LocalID, child.ID.LocalID)

	stored, ok := n.cache.GetTask(parent.ID)
	require.True(t, ok)
	require.Len(t, stored.Traceability.Hops, 1)
	assert.Equal(t, child.ID, stored.Traceability.Hops[0].FulfillerTaskID)
	assert.Equal(t, 1, n.queues.Queue("lab").Size())

	assert.Nil(t, n.mgr.FanOut(ctx, &model.ActionableTask{}))
}

func TestExecuteTaskRoutesToProvider(t *testing.T) {
	_, lis := startRemote(t)
	local := newLocal(t, lis, "")
	ctx := context.Background()

	res := local.mgr.ExecuteTask(ctx, "upper", model.WorkItem{Payload: []byte("x")})
	assert.False(t, res.Successful)
	assert.Contains(t, res.Error, ErrNoProvider.Error())

	require.NoError(t, local.cap.Start(ctx))
	defer local.cap.Stop(ctx)
	require.Eventually(t, func() bool { return len(local.cap.Providers("upper")) == 1 }, time.Second, 5*time.Millisecond)

	res = local.mgr.ExecuteTask(ctx, "upper", model.WorkItem{Payload: []byte("x")})
	require.True(t, res.Successful, res.Error)
	assert.Equal(t, "X", string(res.WorkItem.Payload))

	local.cap.RegisterCapability("lower", func(ctx context.Context, item model.WorkItem) (model.WorkItem, error) {
		return model.WorkItem{Payload: []byte(strings.ToLower(string(item.Payload)))}, nil
	})
	res = local.mgr.ExecuteTask(ctx, "lower", model.WorkItem{Payload: []byte("Y")})
	require.True(t, res.Successful)
	assert.Equal(t, "y", string(res.WorkItem.Payload))
}
