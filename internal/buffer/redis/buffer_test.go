package redis_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jivan-ai/nexus/internal/buffer/redis"
	"github.com/jivan-ai/nexus/pkg/domain"
)

func newTestBuffer(t *testing.T, opts ...redis.Option) (*redis.Buffer, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	return redis.NewFromClient(client, opts...), mr
}

func TestBuffer_AppendAndRead(t *testing.T) {
	buf, _ := newTestBuffer(t)
	ctx := context.Background()

	require.NoError(t, buf.Append(ctx, domain.Message{Role: domain.RoleUser, Content: "hello"}))
	require.NoError(t, buf.Append(ctx, domain.Message{Role: domain.RoleAssistant, Content: "hi there"}))

	msgs, err := buf.Read(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "hi there", msgs[1].Content)
}

func TestBuffer_TrimsToCap(t *testing.T) {
	buf, _ := newTestBuffer(t, redis.WithMaxItems(3))
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		msg := domain.Message{Role: domain.RoleUser, Content: fmt.Sprintf("turn %d", i)}
		require.NoError(t, buf.Append(ctx, msg))
	}

	msgs, err := buf.Read(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "turn 3", msgs[0].Content)
	assert.Equal(t, "turn 5", msgs[2].Content)
}

func TestBuffer_ReadLimit(t *testing.T) {
	buf, _ := newTestBuffer(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		msg := domain.Message{Role: domain.RoleUser, Content: fmt.Sprintf("turn %d", i)}
		require.NoError(t, buf.Append(ctx, msg))
	}

	msgs, err := buf.Read(ctx, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "turn 3", msgs[0].Content)
	assert.Equal(t, "turn 4", msgs[1].Content)
}

func TestBuffer_SkipsBadRows(t *testing.T) {
	buf, mr := newTestBuffer(t, redis.WithKey("nexus:session:test"))
	ctx := context.Background()

	require.NoError(t, buf.Append(ctx, domain.Message{Role: domain.RoleUser, Content: "good"}))
	_, err := mr.Push("nexus:session:test", "not json")
	require.NoError(t, err)
	_, err = mr.Push("nexus:session:test", `{"content":"missing role"}`)
	require.NoError(t, err)

	msgs, readErr := buf.Read(ctx, 10)
	require.NoError(t, readErr)
	require.Len(t, msgs, 1)
	assert.Equal(t, "good", msgs[0].Content)
}

func TestBuffer_SetsTTL(t *testing.T) {
	buf, mr := newTestBuffer(t, redis.WithKey("nexus:session:ttl"), redis.WithTTL(time.Hour))
	ctx := context.Background()

	require.NoError(t, buf.Append(ctx, domain.Message{Role: domain.RoleUser, Content: "hello"}))
	assert.Equal(t, time.Hour, mr.TTL("nexus:session:ttl"))
}

func TestBuffer_ReadEmpty(t *testing.T) {
	buf, _ := newTestBuffer(t)

	msgs, err := buf.Read(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
