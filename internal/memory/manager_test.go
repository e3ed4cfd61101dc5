package memory

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jivan-ai/nexus/pkg/domain"
	"github.com/jivan-ai/nexus/pkg/ports"
)

type fakeRemote struct {
	snippets  []ports.Snippet
	retrieveD time.Duration
	learned   []string
	learnErr  error
}

func (f *fakeRemote) RetrieveContext(ctx context.Context, query string) ([]ports.Snippet, error) {
	if f.retrieveD > 0 {
		select {
		case <-time.After(f.retrieveD):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.snippets, nil
}

func (f *fakeRemote) LearnTurn(ctx context.Context, userText, reply string, toolResult *domain.ToolResult) error {
	f.learned = append(f.learned, userText+"|"+reply)
	return f.learnErr
}

func tmpStore(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "memories.jsonl")
}

func TestManager_LearnAndRetrieveLocal(t *testing.T) {
	m := New(tmpStore(t), "ada")

	require.NoError(t, m.LearnTurn(context.Background(), "remember that the garage code is on the fridge", "noted", nil))
	require.NoError(t, m.LearnTurn(context.Background(), "i like strong black coffee", "good to know", nil))

	rows, err := m.RetrieveContext(context.Background(), "what coffee do I like")
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, "User likes strong black coffee.", rows[0].Text)
	assert.Equal(t, "preference", rows[0].Category)
}

func TestManager_ExtractsProfileFacts(t *testing.T) {
	out := extractCandidates("My name is ada lovelace and I work as an analyst", nil)

	texts := make([]string, 0, len(out))
	for _, s := range out {
		texts = append(texts, s.Text)
	}
	assert.Contains(t, texts, "User name is Ada Lovelace.")
	assert.Contains(t, texts, "User works as an analyst.")
}

func TestManager_ExtractsProtocolUsage(t *testing.T) {
	res := &domain.ToolResult{
		OK:       true,
		ToolName: "run_protocol",
		Data:     map[string]any{"protocol": "monday"},
	}
	out := extractCandidates("", res)

	require.Len(t, out, 1)
	assert.Equal(t, "User executed protocol monday.", out[0].Text)
	assert.Equal(t, "operational", out[0].Category)
}

func TestManager_RedactsSensitiveFacts(t *testing.T) {
	path := tmpStore(t)
	m := New(path, "ada")

	require.NoError(t, m.LearnTurn(context.Background(), "remember that my password is hunter2", "ok", nil))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "sensitive fact must not reach the mirror")
}

func TestManager_RemoteReadBudget(t *testing.T) {
	remote := &fakeRemote{
		snippets:  []ports.Snippet{{Text: "User likes tea."}},
		retrieveD: 200 * time.Millisecond,
	}
	m := New(tmpStore(t), "ada",
		WithRemote(remote),
		WithReadBudget(20*time.Millisecond))

	start := time.Now()
	rows, err := m.RetrieveContext(context.Background(), "tea")
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestManager_RemoteMergedAndDeduplicated(t *testing.T) {
	remote := &fakeRemote{snippets: []ports.Snippet{
		{Text: "User likes coffee.", Category: "preference"},
		{Text: "user likes coffee.", Category: "preference"},
	}}
	m := New(tmpStore(t), "ada", WithRemote(remote))
	require.NoError(t, m.LearnTurn(context.Background(), "i like coffee", "ok", nil))

	rows, err := m.RetrieveContext(context.Background(), "coffee")
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	seen := make(map[string]bool)
	for _, r := range rows {
		key := strings.ToLower(r.Text)
		assert.False(t, seen[key], "duplicate snippet %q", r.Text)
		seen[key] = true
	}
}

func TestManager_LearnForwardsToRemote(t *testing.T) {
	remote := &fakeRemote{learnErr: errors.New("offline")}
	m := New(tmpStore(t), "ada", WithRemote(remote))

	require.NoError(t, m.LearnTurn(context.Background(), "i prefer short answers", "will do", nil))
	require.Len(t, remote.learned, 1)
	assert.Equal(t, "i prefer short answers|will do", remote.learned[0])
}

func TestManager_AsyncWritesDrainOnClose(t *testing.T) {
	path := tmpStore(t)
	m := New(path, "ada", WithAsyncWrites())

	require.NoError(t, m.LearnTurn(context.Background(), "remember that rent is due on the 3rd", "ok", nil))
	m.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &rec))
	assert.Equal(t, "User asked to remember: rent is due on the 3rd.", rec["text"])
}

func TestManager_IgnoresOtherUsersRows(t *testing.T) {
	path := tmpStore(t)
	other := New(path, "bob")
	require.NoError(t, other.LearnTurn(context.Background(), "i like opera", "ok", nil))

	m := New(path, "ada")
	rows, err := m.RetrieveContext(context.Background(), "opera")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestManager_ContextBlock(t *testing.T) {
	m := New(tmpStore(t), "ada")
	require.NoError(t, m.LearnTurn(context.Background(), "i like jazz", "ok", nil))

	block := m.ContextBlock(context.Background(), "jazz music")
	assert.True(t, strings.HasPrefix(block, "Known user memory"), block)
	assert.Contains(t, block, "1. User likes jazz.")

	assert.Empty(t, New(tmpStore(t), "ada").ContextBlock(context.Background(), "anything"))
}
