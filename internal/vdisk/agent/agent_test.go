package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jimyag/vdisk/internal/vdisk/config"
	"github.com/jimyag/vdisk/internal/vdisk/entity"
	"github.com/jimyag/vdisk/internal/vdisk/repository"
	"github.com/jimyag/vdisk/internal/vdisk/repository/model"
	"github.com/jimyag/vdisk/internal/vdisk/task"
	"github.com/jimyag/vdisk/pkg/libvirt"
	"github.com/jimyag/vdisk/pkg/taskerror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// testEnv 每个测试用例独立的数据库和 mock
type testEnv struct {
	store  *repository.Store
	conn   *libvirt.MockClient
	dialer *libvirt.MockDialer
	cfg    *config.Config
	seq    atomic.Int64
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo, err := repository.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	conn := libvirt.NewMockClient()
	conn.On("Close").Return(nil)
	dialer := &libvirt.MockDialer{}
	dialer.On("Dial", mock.Anything, mock.Anything).Return(conn, nil)

	cfg := config.Default()
	cfg.Storage.StagingDir = t.TempDir()

	return &testEnv{
		store:  repository.NewStore(repo),
		conn:   conn,
		dialer: dialer,
		cfg:    cfg,
	}
}

func (e *testEnv) deps() Deps {
	return Deps{
		Store:  e.store,
		Dialer: e.dialer,
		Config: e.cfg,
	}
}

func (e *testEnv) nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, e.seq.Add(1))
}

func (e *testEnv) newTask(t *testing.T, typ entity.TaskType, action string, objects, props map[string]string) *task.Task {
	t.Helper()
	m := &model.Task{
		ID:        e.nextID("task"),
		Type:      typ,
		Action:    action,
		State:     entity.TaskStateInProgress,
		Objects:   objects,
		Props:     props,
		NextRunAt: time.Now(),
	}
	require.NoError(t, e.store.Tasks.Create(context.Background(), m))
	return task.New(m, e.store)
}

func (e *testEnv) seedStorage(t *testing.T, name string, transport entity.StorageTransport, state entity.StorageState) *model.Storage {
	t.Helper()
	s := &model.Storage{
		ID:        e.nextID("storage"),
		Name:      name,
		Transport: transport,
		Address:   "10.0.0.5",
		Dir:       "/export/" + name,
		State:     state,
	}
	require.NoError(t, e.store.Storages.Create(context.Background(), s))
	return s
}

func (e *testEnv) seedImage(t *testing.T, storageID, format string, state entity.ImageState) *model.Image {
	t.Helper()
	id := e.nextID("img")
	img := &model.Image{
		ID:          id,
		Name:        id,
		LibvirtName: id + "." + format,
		Format:      format,
		Size:        1 << 30,
		State:       state,
		StorageID:   storageID,
	}
	require.NoError(t, e.store.Images.Create(context.Background(), img))
	return img
}

func (e *testEnv) seedNode(t *testing.T, state entity.NodeState) *model.Node {
	t.Helper()
	n := &model.Node{
		ID:      e.nextID("node"),
		Address: "192.0.2.10",
		State:   state,
	}
	require.NoError(t, e.store.Nodes.Create(context.Background(), n))
	return n
}

func (e *testEnv) seedTemplate(t *testing.T, hddMB int64) *model.Template {
	t.Helper()
	tpl := &model.Template{
		ID:     e.nextID("tpl"),
		Name:   "small",
		HDD:    hddMB,
		Memory: 1024,
		CPU:    1,
	}
	require.NoError(t, e.store.Templates.Create(context.Background(), tpl))
	return tpl
}

const testDomainXML = `<domain type='kvm'>
  <name>vm</name>
  <devices>
    <emulator>/usr/bin/qemu-system-x86_64</emulator>
  </devices>
</domain>`

func (e *testEnv) seedVM(t *testing.T, nodeID, templateID string, state entity.VMState) *model.VM {
	t.Helper()
	id := e.nextID("vm")
	vm := &model.VM{
		ID:            id,
		Name:          id,
		LibvirtName:   "vdisk-" + id,
		State:         state,
		NodeID:        nodeID,
		TemplateID:    templateID,
		DefinitionXML: testDomainXML,
	}
	require.NoError(t, e.store.VMs.Create(context.Background(), vm))
	return vm
}

func runningPool(name, path string) *libvirt.StoragePoolInfo {
	return &libvirt.StoragePoolInfo{Name: name, State: libvirt.PoolStateActive, Path: path}
}

func TestPolicyRun(t *testing.T) {
	t.Parallel()

	policy := Policy{
		"ignore":  {OnFailure: Ignore},
		"log":     {OnFailure: Log, Msg: "going ahead"},
		"recover": {OnFailure: Recoverable, Err: taskerror.ErrStorageRefresh},
		"fatal":   {OnFailure: Fatal, Err: taskerror.ErrStorageCreateFailed},
		"precond": {OnFailure: NotReady, Err: taskerror.ErrVMNotStopped},
	}
	boom := errors.New("boom")

	testcases := []struct {
		name      string
		step      string
		wantNil   bool
		wantCode  string
		wantClass taskerror.Class
	}{
		{name: "ignore swallows", step: "ignore", wantNil: true},
		{name: "log swallows", step: "log", wantNil: true},
		{name: "recoverable", step: "recover", wantCode: "libvirt_storage_refresh", wantClass: taskerror.ClassRecoverable},
		{name: "fatal", step: "fatal", wantCode: "storage_create_failed", wantClass: taskerror.ClassFatal},
		{name: "class follows the step", step: "precond", wantCode: "vm_not_stopped", wantClass: taskerror.ClassNotReady},
		{name: "unknown step is unclassified", step: "missing", wantCode: "unknown", wantClass: taskerror.ClassRecoverable},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := policy.Run(context.Background(), tc.step, func() error { return boom })
			if tc.wantNil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, tc.wantCode, taskerror.CodeOf(err))
			assert.Equal(t, tc.wantClass, taskerror.ClassOf(err))
		})
	}

	assert.NoError(t, policy.Run(context.Background(), "fatal", func() error { return nil }))
}

func TestDispatchUnsupportedAction(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)

	a := NewStorageAgent(env.deps())
	tk := env.newTask(t, entity.TaskTypeStorage, "format", nil, nil)

	err := a.Execute(context.Background(), tk)
	assert.ErrorIs(t, err, taskerror.ErrUnsupportedAction)
	assert.Equal(t, taskerror.ClassFatal, taskerror.ClassOf(err))
}

func TestActionsMatchEntity(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)
	deps := env.deps()

	tables := map[entity.TaskType]map[string]action{
		entity.TaskTypeStorage: NewStorageAgent(deps).actions,
		entity.TaskTypeImage:   NewImageAgent(deps).actions,
		entity.TaskTypeNode:    NewNodeAgent(deps).actions,
	}
	for typ, actions := range tables {
		names := make([]string, 0, len(actions))
		for name := range actions {
			names = append(names, name)
		}
		assert.ElementsMatch(t, entity.TaskActions[typ], names, "task type %s", typ)
	}
}

func TestConnectFailure(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)

	dialer := &libvirt.MockDialer{}
	dialer.On("Dial", mock.Anything, "qemu:///system").Return(nil, errors.New("connection refused"))
	deps := env.deps()
	deps.Dialer = dialer

	storage := env.seedStorage(t, "shared", entity.StorageTransportDir, entity.StorageStateOK)
	tk := env.newTask(t, entity.TaskTypeStorage, "mount", map[string]string{entity.ObjectStorage: storage.ID}, nil)

	err := NewStorageAgent(deps).Execute(context.Background(), tk)
	assert.ErrorIs(t, err, taskerror.ErrConnectFailed)
	assert.Equal(t, taskerror.ClassRecoverable, taskerror.ClassOf(err))
}
