package neighbor

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const procNetARP = `IP address       HW type     Flags       HW address            Mask     Device
10.0.0.7         0x1         0x2         52:54:00:AA:BB:CC     *        br0
10.0.0.8         0x1         0x0         00:00:00:00:00:00     *        br0
10.0.0.9         0x1         0x2         52:54:00:11:22:33     *        br0
`

func TestParseProcNetARP(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		name string
		ip   string
		want string
	}{
		{name: "complete entry", ip: "10.0.0.7", want: "52:54:00:aa:bb:cc"},
		{name: "incomplete entry", ip: "10.0.0.8", want: ""},
		{name: "last entry", ip: "10.0.0.9", want: "52:54:00:11:22:33"},
		{name: "missing", ip: "10.0.0.10", want: ""},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, parseProcNetARP([]byte(procNetARP), net.ParseIP(tc.ip)))
		})
	}
}

func TestNetlinkFallbackToProcFile(t *testing.T) {
	t.Parallel()

	// 203.0.113.0/24 为文档保留地址段，不会出现在真实的邻居表里
	content := procNetARP + "203.0.113.7      0x1         0x2         52:54:00:de:ad:01     *        br0\n"
	path := filepath.Join(t.TempDir(), "arp")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	lookup := &Netlink{procNetARP: path}

	mac, err := lookup.HardwareAddr(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, "52:54:00:de:ad:01", mac)

	_, err = lookup.HardwareAddr(context.Background(), "203.0.113.8")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatic(t *testing.T) {
	t.Parallel()

	lookup := Static{"10.0.0.7": "52:54:00:aa:bb:cc"}

	mac, err := lookup.HardwareAddr(context.Background(), "10.0.0.7")
	require.NoError(t, err)
	assert.Equal(t, "52:54:00:aa:bb:cc", mac)

	_, err = lookup.HardwareAddr(context.Background(), "10.0.0.8")
	assert.ErrorIs(t, err, ErrNotFound)
}
