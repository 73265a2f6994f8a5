package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jimyag/vdisk/internal/vdisk/entity"
	"github.com/jimyag/vdisk/internal/vdisk/repository/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *Repository {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	repo, err := New(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = repo.Close()
		_ = os.RemoveAll(tmpDir)
	})

	return repo
}

func TestStorageRepositorySetState(t *testing.T) {
	t.Parallel()

	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Storages.Create(ctx, &model.Storage{
		ID:        "st-1",
		Name:      "shared",
		Transport: entity.StorageTransportDir,
		Dir:       "/srv/shared",
		State:     entity.StorageStateOK,
	}))

	t.Run("matching predecessor", func(t *testing.T) {
		err := store.Storages.SetState(ctx, "st-1", entity.StorageStateLocked, entity.StorageStateOK, entity.StorageStateLocked)
		require.NoError(t, err)

		got, err := store.Storages.GetByID(ctx, "st-1")
		require.NoError(t, err)
		assert.Equal(t, entity.StorageStateLocked, got.State)
	})

	t.Run("conflict", func(t *testing.T) {
		err := store.Storages.SetState(ctx, "st-1", entity.StorageStateOK, entity.StorageStateDisabled)
		assert.True(t, errors.Is(err, ErrStateConflict))

		got, err := store.Storages.GetByID(ctx, "st-1")
		require.NoError(t, err)
		assert.Equal(t, entity.StorageStateLocked, got.State)
	})

	t.Run("forced", func(t *testing.T) {
		require.NoError(t, store.Storages.SetState(ctx, "st-1", entity.StorageStateOK))
		got, err := store.Storages.GetByName(ctx, "shared")
		require.NoError(t, err)
		assert.Equal(t, entity.StorageStateOK, got.State)
	})

	t.Run("missing row", func(t *testing.T) {
		err := store.Storages.SetState(ctx, "st-missing", entity.StorageStateOK)
		assert.True(t, IsNotFound(err))
		err = store.Storages.SetState(ctx, "st-missing", entity.StorageStateOK, entity.StorageStateLocked)
		assert.True(t, IsNotFound(err))
	})
}

func seedVMWithImages(t *testing.T, store *Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.Nodes.Create(ctx, &model.Node{ID: "node-1", Address: "10.0.0.2", State: entity.NodeStateOK}))
	require.NoError(t, store.VMs.Create(ctx, &model.VM{ID: "vm-1", Name: "web", LibvirtName: "vm-1", State: entity.VMStateStopped, NodeID: "node-1", TemplateID: "tpl-1"}))
	require.NoError(t, store.VMs.Create(ctx, &model.VM{ID: "vm-2", Name: "db", LibvirtName: "vm-2", State: entity.VMStateClosed, NodeID: "node-1", TemplateID: "tpl-1"}))
	for _, id := range []string{"img-1", "img-2"} {
		require.NoError(t, store.Images.Create(ctx, &model.Image{
			ID: id, Name: id, LibvirtName: id, Format: "qcow2", State: entity.ImageStateOK, StorageID: "st-1",
		}))
	}
}

func TestImageRepositoryAttachDetach(t *testing.T) {
	t.Parallel()

	store := NewStore(setupTestDB(t))
	ctx := context.Background()
	seedVMWithImages(t, store)

	err := store.Images.Attach(ctx, "img-1", "vm-1", 1, &model.Device{ID: "dev-1", ImageID: "img-1", VMID: "vm-1", DiskDev: 1, Name: "sdb", XML: "<disk/>"})
	require.NoError(t, err)

	t.Run("already attached image", func(t *testing.T) {
		err := store.Images.Attach(ctx, "img-1", "vm-1", 2, &model.Device{ID: "dev-x", ImageID: "img-1", VMID: "vm-1", DiskDev: 2, Name: "sdc", XML: "<disk/>"})
		assert.True(t, errors.Is(err, ErrStateConflict))
	})

	t.Run("slot taken rolls back", func(t *testing.T) {
		err := store.Images.Attach(ctx, "img-2", "vm-1", 1, &model.Device{ID: "dev-2", ImageID: "img-2", VMID: "vm-1", DiskDev: 1, Name: "sdb", XML: "<disk/>"})
		assert.True(t, errors.Is(err, ErrStateConflict))

		img, err := store.Images.GetByID(ctx, "img-2")
		require.NoError(t, err)
		assert.Nil(t, img.AttachedToID)
	})

	attached, err := store.Images.ListAttachedTo(ctx, "vm-1")
	require.NoError(t, err)
	require.Len(t, attached, 1)
	assert.Equal(t, 1, attached[0].DiskDev)

	require.NoError(t, store.Images.Detach(ctx, "img-1"))

	img, err := store.Images.GetByID(ctx, "img-1")
	require.NoError(t, err)
	assert.Nil(t, img.AttachedToID)

	devices, err := store.Devices.ListByImage(ctx, "img-1")
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestImageRepositoryAttachFromClosedVM(t *testing.T) {
	t.Parallel()

	store := NewStore(setupTestDB(t))
	ctx := context.Background()
	seedVMWithImages(t, store)

	require.NoError(t, store.Images.Attach(ctx, "img-2", "vm-2", 1, &model.Device{ID: "dev-old", ImageID: "img-2", VMID: "vm-2", DiskDev: 1, Name: "sdb", XML: "<disk/>"}))
	require.NoError(t, store.Images.Attach(ctx, "img-2", "vm-1", 3, &model.Device{ID: "dev-new", ImageID: "img-2", VMID: "vm-1", DiskDev: 3, Name: "sdd", XML: "<disk/>"}))

	devices, err := store.Devices.ListByImage(ctx, "img-2")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "dev-new", devices[0].ID)
}

func TestVMRepository(t *testing.T) {
	t.Parallel()

	store := NewStore(setupTestDB(t))
	ctx := context.Background()
	seedVMWithImages(t, store)

	base := "img-1"
	vm, err := store.VMs.GetByID(ctx, "vm-1")
	require.NoError(t, err)
	vm.BaseImageID = &base
	require.NoError(t, store.VMs.Update(ctx, vm))

	stopped, err := store.VMs.ListByNode(ctx, "node-1", entity.VMStateStopped)
	require.NoError(t, err)
	require.Len(t, stopped, 1)
	assert.Equal(t, "vm-1", stopped[0].ID)

	all, err := store.VMs.ListByNode(ctx, "node-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	inUse, err := store.VMs.CountInUseOnNode(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), inUse)

	byBase, err := store.VMs.ListByBaseImage(ctx, "img-1")
	require.NoError(t, err)
	require.Len(t, byBase, 1)
	assert.Equal(t, "vm-1", byBase[0].ID)
}

func TestTaskRepository(t *testing.T) {
	t.Parallel()

	store := NewStore(setupTestDB(t))
	ctx := context.Background()
	now := time.Now()

	tasks := []*model.Task{
		{ID: "task-1", Type: entity.TaskTypeImage, Action: "create", State: entity.TaskStateNotActive, Objects: map[string]string{"Image": "img-1"}, NextRunAt: now.Add(-time.Minute)},
		{ID: "task-2", Type: entity.TaskTypeNode, Action: "check", State: entity.TaskStateNotActive, Objects: map[string]string{"Node": "node-1"}, NextRunAt: now.Add(time.Hour)},
		{ID: "task-3", Type: entity.TaskTypeStorage, Action: "mount", State: entity.TaskStateOK, Objects: map[string]string{"Storage": "st-1"}, NextRunAt: now.Add(-time.Hour)},
	}
	for _, task := range tasks {
		require.NoError(t, store.Tasks.Create(ctx, task))
	}

	runnable, err := store.Tasks.ListRunnable(ctx, now, nil, 10)
	require.NoError(t, err)
	require.Len(t, runnable, 1)
	assert.Equal(t, "task-1", runnable[0].ID)
	assert.Equal(t, map[string]string{"Image": "img-1"}, runnable[0].Objects)

	runnable, err = store.Tasks.ListRunnable(ctx, now, []entity.TaskType{entity.TaskTypeNode}, 10)
	require.NoError(t, err)
	assert.Empty(t, runnable)

	require.NoError(t, store.Tasks.Claim(ctx, "task-1"))
	err = store.Tasks.Claim(ctx, "task-1")
	assert.True(t, errors.Is(err, ErrStateConflict))

	got, err := store.Tasks.GetByID(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, entity.TaskStateInProgress, got.State)
	assert.Equal(t, 1, got.Attempts)

	n, err := store.Tasks.ResetInProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err = store.Tasks.GetByID(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, entity.TaskStateNotActive, got.State)
}

func TestDataChunkRepository(t *testing.T) {
	t.Parallel()

	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.DataChunks.Create(ctx, &model.DataChunk{CacheKey: "chunk-1", Offset: 4096, Data: "aGVsbG8="}))

	chunk, err := store.DataChunks.Get(ctx, "chunk-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4096), chunk.Offset)

	require.NoError(t, store.DataChunks.Delete(ctx, "chunk-1"))
	_, err = store.DataChunks.Get(ctx, "chunk-1")
	assert.True(t, IsNotFound(err))
}
