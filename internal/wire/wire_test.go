package wire

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc/encoding"

	"github.com/grand-thief-cash/taskmesh/internal/model"
)

func TestMsgpackCodecUsesJSONTags(t *testing.T) {
	codec := encoding.GetCodec("msgpack")
	require.NotNil(t, codec)
	task := &model.ActionableTask{ID: model.TaskID{LocalID: "T1"}, Performer: "P1",
		Traceability: model.TraceabilityRecord{Hops: map[int]model.TraceabilityHop{0: {Fulfiller: "f"}}}}
	req := model.NewRequest("ct", task, &model.EndpointIdentity{Name: "caller"})

	raw, err := codec.Marshal(req)
	require.NoError(t, err)
	// hops 的 key 是 int, 通用解码需要 untyped map
	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	dec.SetMapDecoder(func(d *msgpack.Decoder) (any, error) { return d.DecodeUntypedMap() })
	generic, err := dec.DecodeUntypedMap()
	require.NoError(t, err)
	assert.Contains(t, generic, "correlation_id")
	assert.Contains(t, generic, "content")

	var back model.Request[model.ActionableTask]
	require.NoError(t, codec.Unmarshal(raw, &back))
	assert.Equal(t, req.CorrelationID, back.CorrelationID)
	assert.Equal(t, "P1", back.Content.Performer)
	assert.Equal(t, "f", back.Content.Traceability.Hops[0].Fulfiller)

	assert.NoError(t, CheckCodec("json"))
	assert.Error(t, CheckCodec("xml"))
}

type echoReq struct{ Text string }
type echoResp struct{ Text string }

func TestDispatcherServiceDesc(t *testing.T) {
	var handled []string
	d := NewDispatcher(func(m string) { handled = append(handled, m) })
	d.Handle(
		Unary("zeta", func(ctx context.Context, r *echoReq) (*echoResp, error) { return &echoResp{Text: r.Text}, nil }),
		Unary("alpha", func(ctx context.Context, r *echoReq) (*echoResp, error) { return &echoResp{Text: "a:" + r.Text}, nil }),
		Method{},
	)
	desc := d.ServiceDesc()
	assert.Equal(t, ServiceName, desc.ServiceName)
	require.Len(t, desc.Methods, 2)
	assert.Equal(t, "alpha", desc.Methods[0].MethodName)

	dec := func(v any) error { v.(*echoReq).Text = "hi"; return nil }
	out, err := desc.Methods[0].Handler(d, context.Background(), dec, nil)
	require.NoError(t, err)
	assert.Equal(t, "a:hi", out.(*echoResp).Text)
	assert.Equal(t, []string{"alpha"}, handled)
	assert.Equal(t, "/taskmesh.v1.ClusterRPC/alpha", FullMethod("alpha"))
}
