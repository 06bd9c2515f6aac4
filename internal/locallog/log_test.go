package locallog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisLog(t *testing.T) (*Log, *RedisKV, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	kv := NewRedisKVFromClient(client)
	return New(kv, "", nil), kv, mr
}

func record(id, userID, total string) Record {
	return Record{
		ID:            id,
		UserID:        userID,
		TotalAmount:   json.Number(total),
		CustomAmount:  json.Number("0"),
		PaymentMethod: "card",
		Date:          "2024-05-15T10:00:00Z",
		Items: []RecordItem{
			{ID: "item-1", Name: "Coffee", Price: json.Number("3.99"), Quantity: 1},
		},
	}
}

func TestAppendAndReadBack(t *testing.T) {
	for name, log := range map[string]*Log{
		"memory": New(NewMemoryKV(), "", nil),
		"redis":  func() *Log { l, _, _ := setupRedisLog(t); return l }(),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			empty, err := log.All(ctx)
			require.NoError(t, err)
			assert.Empty(t, empty)

			require.NoError(t, log.Append(ctx, record("local-1", "u1", "3.99")))
			require.NoError(t, log.Append(ctx, record("local-2", "u2", "5")))

			all, err := log.All(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "local-1", all[0].ID)

			mine, err := log.ForUser(ctx, "u2")
			require.NoError(t, err)
			require.Len(t, mine, 1)
			assert.Equal(t, json.Number("5"), mine[0].TotalAmount)

			found, ok, err := log.Find(ctx, "local-1")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "Coffee", found.Items[0].Name)

			_, ok, err = log.Find(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStoredFormatIsOneJSONArrayUnderFixedKey(t *testing.T) {
	log, _, mr := setupRedisLog(t)
	require.NoError(t, log.Append(context.Background(), record("local-1", "u1", "12.5")))

	raw, err := mr.Get(DefaultKey)
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, 12.5, decoded[0]["totalAmount"])
	assert.Equal(t, "u1", decoded[0]["userId"])
	assert.Contains(t, decoded[0], "customAmount")
	assert.Contains(t, decoded[0], "paymentMethod")
}

func TestReadsEntriesWrittenByOlderClients(t *testing.T) {
	log, _, mr := setupRedisLog(t)
	mr.Set(DefaultKey, `[{"id":"local-1700000000000","items":[{"id":"1","name":"Tea","price":2,"quantity":3}],"customAmount":1.5,"totalAmount":7.5,"paymentMethod":"card","date":"2024-05-15T10:00:00.000Z","userId":"guest"}]`)

	records, err := log.ForUser(context.Background(), "guest")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, json.Number("7.5"), records[0].TotalAmount)
	assert.Equal(t, 3, records[0].Items[0].Quantity)
}

func TestAppendReplacesSameID(t *testing.T) {
	log := New(NewMemoryKV(), "", nil)
	ctx := context.Background()
	require.NoError(t, log.Append(ctx, record("s-1", "u1", "1")))
	require.NoError(t, log.Append(ctx, record("s-1", "u1", "2")))

	all, err := log.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, json.Number("2"), all[0].TotalAmount)
}

func TestRemoveUserKeepsOtherUsers(t *testing.T) {
	log, _, _ := setupRedisLog(t)
	ctx := context.Background()
	require.NoError(t, log.Append(ctx, record("a", "u1", "1")))
	require.NoError(t, log.Append(ctx, record("b", "u2", "2")))
	require.NoError(t, log.Append(ctx, record("c", "u1", "3")))

	removed, err := log.RemoveUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	all, err := log.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].ID)
}

func TestConcurrentAppendsLoseNothing(t *testing.T) {
	log, kv, _ := setupRedisLog(t)
	// a second writer on the same key, as another process would be
	other := New(kv, "", nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, log.Append(ctx, record(fmt.Sprintf("a-%d", i), "u1", "1")))
		}(i)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, other.Append(ctx, record(fmt.Sprintf("b-%d", i), "u2", "1")))
		}(i)
	}
	wg.Wait()

	all, err := log.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 40)
}

func TestCorruptLogIsReportedNotOverwritten(t *testing.T) {
	log, _, mr := setupRedisLog(t)
	mr.Set(DefaultKey, "{not json")

	_, err := log.All(context.Background())
	assert.Error(t, err)

	err = log.Append(context.Background(), record("x", "u1", "1"))
	assert.Error(t, err)

	raw, _ := mr.Get(DefaultKey)
	assert.Equal(t, "{not json", raw)
}
