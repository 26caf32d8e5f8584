//go:build redis

package dao

import (
	"context"
	"os"
	"testing"
	"time"

	"fortio.org/assert"
	"github.com/featurestore/featurestore-go-sdk/constants"
	"github.com/featurestore/featurestore-go-sdk/datasource/redis"
	"github.com/google/uuid"
)

// go test -tags redis with REDIS_ADDR pointing at a disposable server.
func TestRedisDaoMonotonicUpsert(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	name := "redis_" + uuid.NewString()
	assert.NoError(t, redis.RegisterRedis(name, addr, "", 0))
	defer redis.RemoveRedis(name)

	cfg := driverStatsConfig(name, 0)
	cfg.DatasourceType = constants.Datasource_Type_Redis
	cfg.OnlineTableName = "test_" + uuid.NewString()
	d, err := NewOnlineFeatureViewDao(cfg)
	assert.NoError(t, err)
	ctx := context.Background()

	write := func(event, created time.Time, conv float64) {
		errs := d.WriteFeatures(ctx, []*OnlineEntry{{
			Keys: []interface{}{int64(7)}, EventTime: event, CreatedTime: created, Values: []interface{}{conv, nil},
		}})
		assert.NoError(t, errs[0])
	}
	read := func() *OnlineEntry {
		entries, err := d.GetFeatures(ctx, [][]interface{}{{int64(7)}, {int64(8)}})
		assert.NoError(t, err)
		assert.True(t, entries[1] == nil)
		return entries[0]
	}

	write(base, time.Time{}, 0.5)
	write(base.Add(-time.Hour), base, 0.1)
	write(base, time.Time{}, 0.2)
	assert.Equal(t, 0.5, read().Values[0])
	write(base, base, 0.3)
	e := read()
	assert.Equal(t, 0.3, e.Values[0])
	assert.Equal(t, nil, e.Values[1])
	assert.True(t, e.EventTime.Equal(base))
}
