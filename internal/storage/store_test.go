package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/grader/internal/plagiarism"
)

// testStore runs the behaviour every driver must share.
func testStore(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	t.Run("reference content round trip", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		_, err := store.ModelAnswer(ctx, "hw1")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = store.Rubric(ctx, "hw1")
		require.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, store.SaveModelAnswer(ctx, "hw1", "model v1"))
		require.NoError(t, store.SaveModelAnswer(ctx, "hw1", "model v2"))
		require.NoError(t, store.SaveRubric(ctx, "hw1", "rubric"))

		answer, err := store.ModelAnswer(ctx, "hw1")
		require.NoError(t, err)
		assert.Equal(t, "model v2", answer)

		rubric, err := store.Rubric(ctx, "hw1")
		require.NoError(t, err)
		assert.Equal(t, "rubric", rubric)

		_, err = store.Rubric(ctx, "hw2")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("peer answers keep insertion order", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		docs, err := store.PeerAnswers(ctx, "hw1")
		require.NoError(t, err)
		assert.Empty(t, docs)

		require.NoError(t, store.AppendPeerAnswer(ctx, "hw1", "zoe", "first answer"))
		require.NoError(t, store.AppendPeerAnswer(ctx, "hw1", "adam", "second answer"))
		require.NoError(t, store.AppendPeerAnswer(ctx, "hw2", "zoe", "other assignment"))

		docs, err = store.PeerAnswers(ctx, "hw1")
		require.NoError(t, err)
		assert.Equal(t, []plagiarism.Document{
			{ID: "zoe", Text: "first answer"},
			{ID: "adam", Text: "second answer"},
		}, docs)
	})

	t.Run("peer answers are append only", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		require.NoError(t, store.AppendPeerAnswer(ctx, "hw1", "s1", "original"))
		err := store.AppendPeerAnswer(ctx, "hw1", "s1", "replacement")
		require.ErrorIs(t, err, ErrExists)

		docs, err := store.PeerAnswers(ctx, "hw1")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "original", docs[0].Text)
	})

	t.Run("assignments are listed once", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		require.NoError(t, store.SaveModelAnswer(ctx, "b-task", "model"))
		require.NoError(t, store.SaveRubric(ctx, "a-task", "rubric"))
		require.NoError(t, store.AppendPeerAnswer(ctx, "b-task", "s1", "answer"))
		require.NoError(t, store.AppendPeerAnswer(ctx, "c-task", "s1", "answer"))

		ids, err := store.Assignments(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a-task", "b-task", "c-task"}, ids)
	})

	t.Run("identifiers are validated", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		for _, id := range []string{"", "../etc", "a/b", "with space", ".hidden"} {
			assert.ErrorIs(t, store.SaveModelAnswer(ctx, id, "x"), ErrInvalidID, id)
			assert.ErrorIs(t, store.AppendPeerAnswer(ctx, "hw1", id, "x"), ErrInvalidID, id)
		}
	})
}

func TestFSStore(t *testing.T) {
	testStore(t, func(t *testing.T) Store {
		store := NewFS(FSOptions{Dir: t.TempDir()}, zap.NewNop())
		require.NoError(t, store.Init(context.Background()))
		return store
	})
}

func TestFSStoreLayout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFS(FSOptions{Dir: dir}, nil)
	require.NoError(t, store.Init(ctx))

	require.NoError(t, store.SaveModelAnswer(ctx, "hw1", "model"))
	require.NoError(t, store.SaveRubric(ctx, "hw1", "rubric"))
	require.NoError(t, store.AppendPeerAnswer(ctx, "hw1", "s1", "answer"))

	for _, path := range []string{
		filepath.Join(dir, "model_answers", "hw1_model_answer.json"),
		filepath.Join(dir, "rubrics", "hw1_rubric.json"),
		filepath.Join(dir, "peer_answers", "hw1_peer_answer_s1.json"),
	} {
		rec, err := readRecord(path)
		require.NoError(t, err, path)
		assert.NotEmpty(t, rec.Content)
		assert.False(t, rec.CreatedAt.IsZero())
	}
}

func TestFSStoreSkipsCorruptPeerAnswer(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	core, logs := observer.New(zapcore.WarnLevel)
	store := NewFS(FSOptions{Dir: dir}, zap.New(core))
	require.NoError(t, store.Init(ctx))

	require.NoError(t, store.AppendPeerAnswer(ctx, "hw1", "alice", "a valid answer"))
	corrupt := filepath.Join(dir, "peer_answers", "hw1_peer_answer_bob.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("not json"), 0o600))

	docs, err := store.PeerAnswers(ctx, "hw1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, plagiarism.Document{ID: "alice", Text: "a valid answer"}, docs[0])

	entries := logs.FilterMessage("skipping unreadable peer answer").All()
	require.Len(t, entries, 1)
	assert.Equal(t, corrupt, entries[0].ContextMap()["file"])
}

func TestFSStoreConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	store := NewFS(FSOptions{Dir: t.TempDir()}, nil)
	require.NoError(t, store.Init(ctx))

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- store.AppendPeerAnswer(ctx, "hw1", fmt.Sprintf("s%d", i%10), "answer")
		}(i)
	}
	wg.Wait()
	close(errs)

	var exists int
	for err := range errs {
		if err != nil {
			require.ErrorIs(t, err, ErrExists)
			exists++
		}
	}
	assert.Equal(t, 10, exists)

	docs, err := store.PeerAnswers(ctx, "hw1")
	require.NoError(t, err)
	assert.Len(t, docs, 10)
}

func TestSQLiteStore(t *testing.T) {
	testStore(t, func(t *testing.T) Store {
		store, err := NewSQLite(SQLiteOptions{Path: filepath.Join(t.TempDir(), "grader.db")}, zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		require.NoError(t, store.Init(context.Background()))
		return store
	})
}

func TestSQLiteInitIsRepeatable(t *testing.T) {
	store, err := NewSQLite(SQLiteOptions{Path: ":memory:"}, nil)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Init(context.Background()))
	require.NoError(t, store.Init(context.Background()))
}

func TestRebind(t *testing.T) {
	numbered := &SQL{numbered: true}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", numbered.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	plain := &SQL{}
	assert.Equal(t, "x = ?", plain.rebind("x = ?"))
}

func TestNewSelectsDriver(t *testing.T) {
	ctx := context.Background()

	store, err := New(ctx, Config{Options: map[string]any{"dir": t.TempDir()}}, nil)
	require.NoError(t, err)
	assert.IsType(t, &FS{}, store)

	store, err = New(ctx, Config{Driver: "SQLite", Options: map[string]any{"path": ":memory:"}}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SQL{}, store)
	require.NoError(t, store.Close())

	_, err = New(ctx, Config{Driver: "fs", Options: map[string]any{"unknown": true}}, nil)
	assert.Error(t, err)

	_, err = New(ctx, Config{Driver: "cassandra"}, nil)
	assert.ErrorContains(t, err, "unknown storage driver")

	_, err = New(ctx, Config{Driver: "s3"}, nil)
	assert.ErrorContains(t, err, "bucket is required")
}

func TestValidateID(t *testing.T) {
	t.Parallel()

	valid := []string{"hw1", "a1b2c3d4e5", "anon_0b4e7a0e-5bde-4f7c-9a53-1c2d3e4f5a6b", "student@example.com", "lab.2"}
	for _, id := range valid {
		assert.NoError(t, ValidateID(id), id)
	}

	invalid := []string{"", "-lead", "a..b", "a/b", `a\b`, "tab\tid"}
	for _, id := range invalid {
		assert.ErrorIs(t, ValidateID(id), ErrInvalidID, id)
	}
}
