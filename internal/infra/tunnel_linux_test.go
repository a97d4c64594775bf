//go:build linux

package infra

import (
	"context"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/netgate/internal/domain"
)

func requireRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("creating a tun device requires root")
	}
	if _, err := os.Stat("/dev/net/tun"); err != nil {
		t.Skip("/dev/net/tun not available")
	}
}

func testInterceptConfig(route bool) domain.InterceptConfig {
	return domain.InterceptConfig{
		Session:      "test",
		Address:      netip.MustParsePrefix("10.111.0.1/30"),
		MTU:          1500,
		Route:        route,
		ExcludedApps: domain.NewAppSet("com.not.installed"),
	}
}

func TestLinuxInterceptor_PassThrough(t *testing.T) {
	requireRoot(t)

	config := DefaultInterceptorConfig()
	config.Device = "netgatetest0"
	interceptor := NewLinuxInterceptor(config, NewProcessCatalog(10000), zap.NewNop())

	handle, err := interceptor.Establish(context.Background(), testInterceptConfig(false))
	require.NoError(t, err)

	assert.True(t, handle.Valid())
	assert.False(t, handle.Routing())
	assert.True(t, handle.Excluded().Has("com.not.installed"))

	// the kernel may queue its own packets (IPv6 router solicitations) as soon
	// as the link is up; every read still returns within the poll timeout
	buf := make([]byte, 2048)
	idle := false
	for i := 0; i < 64 && !idle; i++ {
		start := time.Now()
		n, err := handle.Read(buf)
		require.NoError(t, err)
		assert.Less(t, time.Since(start), time.Second, "read must not block past the poll timeout")
		idle = n == 0
	}
	assert.True(t, idle, "device goes idle once queued packets are drained")

	require.NoError(t, handle.Close())
	assert.False(t, handle.Valid())
	assert.NoError(t, handle.Close())

	_, err = handle.Read(buf)
	assert.ErrorIs(t, err, domain.ErrStreamClosed)
}
