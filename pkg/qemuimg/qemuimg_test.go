package qemuimg

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("default path", func(t *testing.T) {
		t.Parallel()
		client := New("")
		assert.Equal(t, "qemu-img", client.qemuImgPath)
		assert.Equal(t, 10*time.Minute, client.timeout)
		assert.False(t, client.useSudo)
	})

	t.Run("custom path", func(t *testing.T) {
		t.Parallel()
		client := New("/usr/local/bin/qemu-img").WithTimeout(time.Minute)
		assert.Equal(t, "/usr/local/bin/qemu-img", client.qemuImgPath)
		assert.Equal(t, time.Minute, client.timeout)
	})
}

func TestClient_command(t *testing.T) {
	t.Parallel()

	name, args := New("").command("rebase", "-u", "-f", "qcow2", "-b", "", "/img")
	assert.Equal(t, "qemu-img", name)
	assert.Equal(t, []string{"rebase", "-u", "-f", "qcow2", "-b", "", "/img"}, args)

	name, args = New("/opt/qemu-img").WithSudo(true).command("rebase", "-u")
	assert.Equal(t, "sudo", name)
	assert.Equal(t, []string{"/opt/qemu-img", "rebase", "-u"}, args)
}

// fakeQemuImg 写一个记录参数并以 exitCode 退出的脚本
func fakeQemuImg(t *testing.T, exitCode int) (string, string) {
	t.Helper()
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	script := filepath.Join(dir, "qemu-img")
	content := "#!/bin/sh\necho \"$@\" > " + argsFile + "\nexit " + strconv.Itoa(exitCode) + "\n"
	require.NoError(t, os.WriteFile(script, []byte(content), 0o755))
	return script, argsFile
}

func TestClient_Rebase(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		script, argsFile := fakeQemuImg(t, 0)

		err := New(script).Rebase(context.Background(), "qcow2", "/var/lib/vdisk/img-1")
		require.NoError(t, err)

		recorded, err := os.ReadFile(argsFile)
		require.NoError(t, err)
		assert.Equal(t, "rebase -u -f qcow2 -b  /var/lib/vdisk/img-1\n", string(recorded))
	})

	t.Run("non-zero exit", func(t *testing.T) {
		t.Parallel()
		script, _ := fakeQemuImg(t, 1)

		err := New(script).Rebase(context.Background(), "qed", "/var/lib/vdisk/img-2")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to rebase image /var/lib/vdisk/img-2")
	})
}

func TestSupportsBackingFile(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		format string
		want   bool
	}{
		{format: "qcow2", want: true},
		{format: "qed", want: true},
		{format: "raw", want: false},
		{format: "", want: false},
	}

	for _, tc := range testcases {
		t.Run(tc.format, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, SupportsBackingFile(tc.format))
		})
	}
}
