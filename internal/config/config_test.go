package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFillsDefaults(t *testing.T) {
	c := &Config{Node: NodeConfig{ParticipantName: "mitaf.ingres"}}
	require.NoError(t, c.Validate())
	assert.Equal(t, "mitaf.ingres", c.Node.Service)
	assert.Equal(t, "json", c.Transport.Codec)
	assert.Equal(t, "static", c.Membership.Provider)
	assert.Equal(t, 5, c.Scan.MaxAttempts)
	assert.Equal(t, 15*time.Second, c.Membership.MemberTTL)
}

func TestValidateRejects(t *testing.T) {
	assert.Error(t, (&Config{}).Validate())

	c := Default()
	c.Node.ParticipantName = "p"
	c.Transport.Codec = "xml"
	assert.Error(t, c.Validate())

	c = Default()
	c.Node.ParticipantName = "p"
	c.Queue.OnloadThreshold = c.Queue.OffloadThreshold + 1
	assert.Error(t, c.Validate())
}
