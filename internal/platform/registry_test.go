package platform_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidesk/omnidesk/internal/platform"
)

const testPlatform = platform.Platform("test-chat")

// mockAdapter implements Adapter plus the Sender and WebhookParser
// capabilities.
type mockAdapter struct {
	platform  platform.Platform
	sendErr   error
	parseErr  error
	events    []platform.InboundEvent
	lastSends []platform.SendRequest
}

func (a *mockAdapter) Type() platform.Platform { return a.platform }

func (a *mockAdapter) Descriptor() platform.Descriptor {
	return platform.Descriptor{
		Type:             a.platform,
		DisplayName:      "Test Chat",
		CustomerKeyField: "phone",
		DefaultName:      "Test User",
	}
}

func (a *mockAdapter) Send(_ context.Context, req platform.SendRequest) (platform.SendResult, error) {
	a.lastSends = append(a.lastSends, req)
	if a.sendErr != nil {
		return platform.SendResult{}, a.sendErr
	}
	return platform.SendResult{PlatformMessageID: "sent-1"}, nil
}

func (a *mockAdapter) ParseWebhook(context.Context, []byte) ([]platform.InboundEvent, error) {
	if a.parseErr != nil {
		return nil, a.parseErr
	}
	return a.events, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	t.Parallel()
	reg := platform.NewRegistry()
	adapter := &mockAdapter{platform: testPlatform}
	require.NoError(t, reg.Register(adapter))

	got, ok := reg.Get(testPlatform)
	require.True(t, ok)
	assert.Equal(t, testPlatform, got.Type())

	_, ok = reg.Get(platform.Platform("unknown"))
	assert.False(t, ok)
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	t.Parallel()
	reg := platform.NewRegistry()
	require.NoError(t, reg.Register(&mockAdapter{platform: testPlatform}))
	assert.Error(t, reg.Register(&mockAdapter{platform: testPlatform}))
}

func TestRegistry_RegisterNil(t *testing.T) {
	t.Parallel()
	reg := platform.NewRegistry()
	assert.Error(t, reg.Register(nil))
}

func TestRegistry_Types(t *testing.T) {
	t.Parallel()
	reg := platform.NewRegistry()
	reg.MustRegister(&mockAdapter{platform: platform.Platform("zeta")})
	reg.MustRegister(&mockAdapter{platform: platform.Platform("alpha")})

	types := reg.Types()
	assert.Equal(t, []platform.Platform{"alpha", "zeta"}, types)
}

func TestRegistry_ParsePlatform(t *testing.T) {
	t.Parallel()
	reg := platform.NewRegistry()
	reg.MustRegister(&mockAdapter{platform: testPlatform})

	p, err := reg.ParsePlatform("  Test-Chat ")
	require.NoError(t, err)
	assert.Equal(t, testPlatform, p)

	_, err = reg.ParsePlatform("fax")
	assert.ErrorContains(t, err, "unsupported platform: fax")

	_, err = reg.ParsePlatform("")
	assert.Error(t, err)
}

func TestRegistry_CapabilityLookups(t *testing.T) {
	t.Parallel()
	reg := platform.NewRegistry()
	reg.MustRegister(&mockAdapter{platform: testPlatform})

	_, ok := reg.GetSender(testPlatform)
	assert.True(t, ok)
	_, ok = reg.GetParser(testPlatform)
	assert.True(t, ok)

	// mockAdapter implements neither the verifier nor the poller capability.
	_, ok = reg.GetVerifier(testPlatform)
	assert.False(t, ok)
	_, ok = reg.GetPoller(testPlatform)
	assert.False(t, ok)

	desc, ok := reg.GetDescriptor(testPlatform)
	require.True(t, ok)
	assert.Equal(t, "Test User", desc.DefaultName)
}
