package dao

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/featurestore/featurestore-go-sdk/api"
	"github.com/featurestore/featurestore-go-sdk/constants"
	"github.com/featurestore/featurestore-go-sdk/datasource/redis"
	"github.com/featurestore/featurestore-go-sdk/utils"
	goredis "github.com/go-redis/redis/v8"
)

//go:embed monotonic_upsert.lua
var monotonicUpsertLuaScript string

// FeatureViewRedisDao stores one hash per entity key under
// "<prefix>:<entity key>" with the fields e (event), c (created) and v
// (encoded values).
type FeatureViewRedisDao struct {
	client *goredis.Client
	config DaoConfig
	script *goredis.Script
}

func NewFeatureViewRedisDao(config DaoConfig) (*FeatureViewRedisDao, error) {
	r, err := redis.GetRedis(config.DatasourceName)
	if err != nil {
		return nil, err
	}
	return &FeatureViewRedisDao{
		client: r.Client,
		config: config,
		script: goredis.NewScript(monotonicUpsertLuaScript),
	}, nil
}

func (d *FeatureViewRedisDao) hashKey(keys []interface{}) string {
	return d.config.OnlineTableName + ":" + utils.JoinKey(keys)
}

// sortableTimeKey renders a time key as a fixed width unsigned decimal.
func sortableTimeKey(k int64) string {
	return fmt.Sprintf("%020d", uint64(k)^(1<<63))
}

func parseSortableTimeKey(s string) (int64, error) {
	u, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return int64(u ^ (1 << 63)), nil
}

func (d *FeatureViewRedisDao) unavailable(op string, err error) error {
	return &api.OnlineStoreUnavailableError{Store: constants.Datasource_Type_Redis, Op: op, Cause: err}
}

func (d *FeatureViewRedisDao) GetFeatures(ctx context.Context, keys [][]interface{}) ([]*OnlineEntry, error) {
	pipe := d.client.Pipeline()
	cmds := make([]*goredis.SliceCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HMGet(ctx, d.hashKey(key), "e", "c", "v")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
		return nil, d.unavailable("read", err)
	}

	result := make([]*OnlineEntry, len(keys))
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil {
			return nil, d.unavailable("read", err)
		}
		if len(fields) != 3 || fields[0] == nil {
			continue
		}
		event, err := parseSortableTimeKey(utils.ToString(fields[0], ""))
		if err != nil {
			return nil, fmt.Errorf("key %s: event: %w", d.hashKey(keys[i]), err)
		}
		created, err := parseSortableTimeKey(utils.ToString(fields[1], ""))
		if err != nil {
			return nil, fmt.Errorf("key %s: created: %w", d.hashKey(keys[i]), err)
		}
		values, err := decodeValues(&d.config, []byte(utils.ToString(fields[2], "")))
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", d.hashKey(keys[i]), err)
		}
		result[i] = &OnlineEntry{
			Keys:        keys[i],
			EventTime:   fromTimeKey(event),
			CreatedTime: fromTimeKey(created),
			Values:      values,
		}
	}
	return result, nil
}

func (d *FeatureViewRedisDao) WriteFeatures(ctx context.Context, entries []*OnlineEntry) []error {
	errs, scriptMissing := d.pipelinedWrite(ctx, entries)
	if scriptMissing {
		if err := d.script.Load(ctx, d.client).Err(); err != nil {
			initializeErrorArray(errs, d.unavailable("load script", err))
			return errs
		}
		errs, _ = d.pipelinedWrite(ctx, entries)
	}
	return errs
}

func (d *FeatureViewRedisDao) pipelinedWrite(ctx context.Context, entries []*OnlineEntry) ([]error, bool) {
	errs := make([]error, len(entries))
	cmds := make([]*goredis.Cmd, len(entries))
	pipe := d.client.Pipeline()
	queued := 0
	for i, entry := range entries {
		payload, err := encodeValues(&d.config, entry.Values)
		if err != nil {
			errs[i] = err
			continue
		}
		cmds[i] = d.script.Run(ctx, pipe, []string{d.hashKey(entry.Keys)},
			sortableTimeKey(timeKey(entry.EventTime)), sortableTimeKey(timeKey(entry.CreatedTime)), payload)
		queued++
	}
	if queued == 0 {
		return errs, false
	}

	scriptMissing := false
	if _, err := pipe.Exec(ctx); err != nil && isNoScript(err) {
		scriptMissing = true
	}
	for i, cmd := range cmds {
		if cmd == nil {
			continue
		}
		if err := cmd.Err(); err != nil {
			if isNoScript(err) {
				scriptMissing = true
			}
			errs[i] = d.unavailable("write", err)
		}
	}
	return errs, scriptMissing
}

func isNoScript(err error) bool {
	return strings.HasPrefix(err.Error(), "NOSCRIPT ")
}

func initializeErrorArray(errs []error, err error) {
	for i := range errs {
		errs[i] = err
	}
}
