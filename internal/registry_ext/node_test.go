package registry_ext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grand-thief-cash/taskmesh/infra/config"
	bizConfig "github.com/grand-thief-cash/taskmesh/internal/config"
	"github.com/grand-thief-cash/taskmesh/internal/consts"
	"github.com/grand-thief-cash/taskmesh/internal/model"
)

func TestNodeConfigRequiresBizConfig(t *testing.T) {
	_, err := nodeConfig(&config.AppConfig{})
	require.Error(t, err)

	_, err = nodeConfig(&config.AppConfig{BizConfig: map[string]any{"node": nil}})
	require.Error(t, err)
}

func TestNodeConfigFillsDefaults(t *testing.T) {
	bc := &bizConfig.Config{Node: bizConfig.NodeConfig{ParticipantName: "ward", Address: "127.0.0.1:50051"}}
	got, err := nodeConfig(&config.AppConfig{BizConfig: bc})
	require.NoError(t, err)
	assert.Same(t, bc, got)
	assert.Equal(t, "ward", got.Node.Service)
	assert.Equal(t, consts.CODEC_JSON, got.Transport.Codec)

	id := identity(got)
	assert.Equal(t, model.EndpointIdentity{Name: "ward", Service: "ward", Scope: "default", Address: "127.0.0.1:50051"}, id)
}

func TestRegisterCapabilityIgnoresIncomplete(t *testing.T) {
	RegisterCapability("", func(ctx context.Context, item model.WorkItem) (model.WorkItem, error) { return item, nil })
	RegisterCapability("test.nil", nil)
	RegisterCapability("test.ok", func(ctx context.Context, item model.WorkItem) (model.WorkItem, error) { return item, nil })

	capMu.Lock()
	defer capMu.Unlock()
	_, empty := localCaps[""]
	_, nilFn := localCaps["test.nil"]
	_, ok := localCaps["test.ok"]
	assert.False(t, empty)
	assert.False(t, nilFn)
	assert.True(t, ok)
}
