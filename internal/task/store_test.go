package task

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoredTask(t *testing.T, s *MemoryStore, typ Type) *Task {
	t.Helper()
	task := New(CreateRequest{Type: typ, Description: "d", Repo: "o/r", Language: "go"})
	require.NoError(t, s.Put(context.Background(), task))
	return task
}

func TestMemoryStoreGetNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreCopyOnRead(t *testing.T) {
	s := NewMemoryStore()
	task := newStoredTask(t, s, TypeFeatureBuild)

	got, err := s.Get(context.Background(), task.ID)
	require.NoError(t, err)

	// Mutating the returned copy must not touch the stored record.
	got.Status = StatusCoding
	got.AppendLog("tampered")

	again, err := s.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, again.Status)
	assert.Empty(t, again.Logs)
}

func TestMemoryStoreUpdate(t *testing.T) {
	s := NewMemoryStore()
	task := newStoredTask(t, s, TypeFeatureBuild)

	updated, err := s.Update(context.Background(), task.ID, func(t *Task) error {
		return t.Transition(StatusContextCompiling)
	})
	require.NoError(t, err)
	assert.Equal(t, StatusContextCompiling, updated.Status)

	stored, err := s.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusContextCompiling, stored.Status)
}

func TestMemoryStoreUpdateRollsBackOnError(t *testing.T) {
	s := NewMemoryStore()
	task := newStoredTask(t, s, TypeFeatureBuild)

	boom := errors.New("boom")
	_, err := s.Update(context.Background(), task.ID, func(t *Task) error {
		t.Status = StatusCoding
		t.AppendLog("partial")
		return boom
	})
	require.ErrorIs(t, err, boom)

	stored, err := s.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, stored.Status)
	assert.Empty(t, stored.Logs)
}

func TestMemoryStoreUpdateNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Update(context.Background(), "missing", func(t *Task) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreList(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		task := New(CreateRequest{
			Type:        TypeFeatureBuild,
			Description: fmt.Sprintf("task %d", i),
			Repo:        "o/r",
			Language:    "go",
		})
		task.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		require.NoError(t, s.Put(ctx, task))
		ids = append(ids, task.ID)
	}

	all, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	// Newest first.
	assert.Equal(t, ids[4], all[0].ID)
	assert.Equal(t, ids[0], all[4].ID)

	page, err := s.List(ctx, Filter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[3], page[0].ID)

	empty, err := s.List(ctx, Filter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStoreListFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	feature := newStoredTask(t, s, TypeFeatureBuild)
	bug := newStoredTask(t, s, TypeBugFix)
	_, err := s.Update(ctx, bug.ID, func(t *Task) error {
		return t.Transition(StatusContextCompiling)
	})
	require.NoError(t, err)

	byType, err := s.List(ctx, Filter{Type: TypeBugFix})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, bug.ID, byType[0].ID)

	byStatus, err := s.List(ctx, Filter{Status: StatusReceived})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, feature.ID, byStatus[0].ID)
}
