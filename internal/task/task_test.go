package task

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/specforge/internal/errors"
)

func openTestSequence(t *testing.T) (*SQLiteSequence, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".specforge", "sequence.db")
	seq, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = seq.Close() })
	return seq, path
}

func TestFormatAndParseID(t *testing.T) {
	assert.Equal(t, "US-001", FormatID("US", 1))
	assert.Equal(t, "TS-014", FormatID("TS", 14))
	assert.Equal(t, "US-1234", FormatID("US", 1234))

	prefix, n, ok := ParseID("TS-014")
	require.True(t, ok)
	assert.Equal(t, "TS", prefix)
	assert.Equal(t, 14, n)

	for _, bad := range []string{"", "US", "us-001", "US-", "task-1a"} {
		_, _, ok := ParseID(bad)
		assert.False(t, ok, bad)
	}
}

func TestSQLiteSequenceIsPrefixScoped(t *testing.T) {
	ctx := context.Background()
	seq, _ := openTestSequence(t)

	for want := 1; want <= 3; want++ {
		n, err := seq.Next(ctx, "US")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	n, err := seq.Next(ctx, "TS")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteSequenceSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	seq, path := openTestSequence(t)

	_, err := seq.Next(ctx, "US")
	require.NoError(t, err)
	_, err = seq.Next(ctx, "US")
	require.NoError(t, err)
	require.NoError(t, seq.Close())

	reopened, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.Next(ctx, "US")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSQLiteSequenceObserveOnlyRaises(t *testing.T) {
	ctx := context.Background()
	seq, _ := openTestSequence(t)

	require.NoError(t, seq.Observe(ctx, "US", 10))
	require.NoError(t, seq.Observe(ctx, "US", 4))

	n, err := seq.Next(ctx, "US")
	require.NoError(t, err)
	assert.Equal(t, 11, n)
}

func TestSQLiteSequenceConcurrentNextNeverRepeats(t *testing.T) {
	ctx := context.Background()
	seq, _ := openTestSequence(t)

	var (
		mu   sync.Mutex
		seen = map[int]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := seq.Next(ctx, "TS")
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[n], "duplicate %d", n)
			seen[n] = true
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 20)
}

func TestOpenSequenceUnknownDriver(t *testing.T) {
	_, err := OpenSequence(context.Background(), Backend{Driver: "etcd"})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestAssignIDsRemapsProvisionalIDs(t *testing.T) {
	ctx := context.Background()
	seq, _ := openTestSequence(t)
	require.NoError(t, seq.Observe(ctx, "US", 5))

	tasks := []Task{
		{ID: "US-002", Type: TypeStory, Title: "kept"},
		{ID: "NEW-1", Type: TypeStory, Title: "new story", Dependencies: []string{"US-002"}},
		{ID: "NEW-2", Type: TypeTechnical, Title: "new task", Dependencies: []string{"NEW-1", "EXT-9"}},
		{Type: "", Title: "untyped"},
	}
	err := AssignIDs(ctx, seq, tasks, map[string]bool{"US-002": true})
	require.NoError(t, err)

	assert.Equal(t, "US-002", tasks[0].ID)
	assert.Equal(t, "US-006", tasks[1].ID)
	assert.Equal(t, []string{"US-002"}, tasks[1].Dependencies)
	assert.Equal(t, "TS-001", tasks[2].ID)
	assert.Equal(t, []string{"US-006", "EXT-9"}, tasks[2].Dependencies)
	assert.Equal(t, TypeTechnical, tasks[3].Type)
	assert.Equal(t, "TS-002", tasks[3].ID)
}

func TestAssignIDsNeverReusesAcrossRuns(t *testing.T) {
	ctx := context.Background()
	seq, _ := openTestSequence(t)

	first := []Task{{ID: "US-001", Type: TypeStory}}
	require.NoError(t, AssignIDs(ctx, seq, first, nil))

	// a forced re-decomposition proposes the same provisional id again
	second := []Task{{ID: "US-001", Type: TypeStory}}
	require.NoError(t, AssignIDs(ctx, seq, second, nil))

	assert.NotEqual(t, first[0].ID, second[0].ID)
}

func TestAssignIDsDuplicateKeptID(t *testing.T) {
	ctx := context.Background()
	seq, _ := openTestSequence(t)

	tasks := []Task{
		{ID: "US-001", Type: TypeStory},
		{ID: "US-001", Type: TypeStory},
	}
	require.NoError(t, AssignIDs(ctx, seq, tasks, map[string]bool{"US-001": true}))
	assert.Equal(t, "US-001", tasks[0].ID)
	assert.Equal(t, "US-002", tasks[1].ID)
}

func TestListHelpers(t *testing.T) {
	l := &List{Tasks: []Task{{ID: "US-001"}, {ID: "TS-001"}}}
	assert.False(t, l.Empty())
	assert.Equal(t, []string{"US-001", "TS-001"}, l.IDs())
	assert.Equal(t, 1, l.Find("TS-001"))
	assert.Equal(t, -1, l.Find("TS-404"))

	var empty *List
	assert.True(t, empty.Empty())
}
