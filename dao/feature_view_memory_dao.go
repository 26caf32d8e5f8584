package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/featurestore/featurestore-go-sdk/api"
	"github.com/featurestore/featurestore-go-sdk/datasource/memory"
	"github.com/featurestore/featurestore-go-sdk/utils"
)

const memoryScanBatch = 1024

type FeatureViewMemoryOfflineDao struct {
	memory *memory.Memory
	config DaoConfig
}

func NewFeatureViewMemoryOfflineDao(config DaoConfig) (*FeatureViewMemoryOfflineDao, error) {
	m, err := memory.GetMemory(config.DatasourceName)
	if err != nil {
		return nil, err
	}
	return &FeatureViewMemoryOfflineDao{memory: m, config: config}, nil
}

func (d *FeatureViewMemoryOfflineDao) ScanRecords(ctx context.Context, start, end time.Time) ([]*Record, error) {
	table, ok := d.memory.GetTable(d.config.TableName)
	if !ok {
		return nil, fmt.Errorf("memory table %s not found for feature view %s", d.config.TableName, d.config.FeatureViewName)
	}
	schema := table.Schema()

	lookup := func(name string) (int, error) {
		idx := schema.Index(name)
		if idx < 0 {
			return -1, fmt.Errorf("memory table %s has no column %s", d.config.TableName, name)
		}
		return idx, nil
	}

	keyIdx := make([]int, len(d.config.JoinKeys))
	for i, k := range d.config.JoinKeys {
		idx, err := lookup(k)
		if err != nil {
			return nil, err
		}
		keyIdx[i] = idx
	}
	fieldIdx := make([]int, len(d.config.Fields))
	for i, f := range d.config.Fields {
		idx, err := lookup(f)
		if err != nil {
			return nil, err
		}
		fieldIdx[i] = idx
	}
	eventIdx, err := lookup(d.config.EventTimeField)
	if err != nil {
		return nil, err
	}
	createdIdx, ordinalIdx := -1, -1
	if d.config.CreatedTimeField != "" {
		if createdIdx, err = lookup(d.config.CreatedTimeField); err != nil {
			return nil, err
		}
	}
	if d.config.OrdinalField != "" {
		if ordinalIdx, err = lookup(d.config.OrdinalField); err != nil {
			return nil, err
		}
	}

	var records []*Record
	for i := 0; i < table.NumRows(); i++ {
		if i%memoryScanBatch == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row := table.Row(i)
		eventTime, ok := utils.ToTime(row[eventIdx])
		if !ok {
			// records without an event time are never eligible
			continue
		}
		if (!start.IsZero() && eventTime.Before(start)) || eventTime.After(end) {
			continue
		}

		record := &Record{
			Keys:      make([]interface{}, len(keyIdx)),
			EventTime: eventTime,
			Values:    make([]interface{}, len(fieldIdx)),
			Ordinal:   int64(i),
		}
		for j, idx := range keyIdx {
			record.Keys[j] = row[idx]
		}
		for j, idx := range fieldIdx {
			record.Values[j] = row[idx]
		}
		if createdIdx >= 0 {
			record.CreatedTime, _ = utils.ToTime(row[createdIdx])
		}
		if ordinalIdx >= 0 {
			record.Ordinal = utils.ToInt64(row[ordinalIdx], int64(i))
		}
		records = append(records, record)
	}

	return records, nil
}

// FeatureViewMemoryOnlineDao keeps entries in a memory KV table. Each
// upsert swaps a whole immutable entry under the table lock.
type FeatureViewMemoryOnlineDao struct {
	table  *memory.KVTable
	config DaoConfig
}

func NewFeatureViewMemoryOnlineDao(config DaoConfig) (*FeatureViewMemoryOnlineDao, error) {
	m, err := memory.GetMemory(config.DatasourceName)
	if err != nil {
		return nil, err
	}
	return &FeatureViewMemoryOnlineDao{table: m.KV(config.OnlineTableName), config: config}, nil
}

func (d *FeatureViewMemoryOnlineDao) GetFeatures(ctx context.Context, keys [][]interface{}) ([]*OnlineEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, &api.OnlineStoreUnavailableError{Store: "memory", Op: "read", Cause: err}
	}
	result := make([]*OnlineEntry, len(keys))
	d.table.Mu.RLock()
	defer d.table.Mu.RUnlock()
	for i, key := range keys {
		if v, ok := d.table.Values[utils.JoinKey(key)]; ok {
			result[i] = v.(*OnlineEntry)
		}
	}
	return result, nil
}

func (d *FeatureViewMemoryOnlineDao) WriteFeatures(ctx context.Context, entries []*OnlineEntry) []error {
	errs := make([]error, len(entries))
	d.table.Mu.Lock()
	defer d.table.Mu.Unlock()
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		values := make([]interface{}, len(d.config.Fields))
		var coerceErr error
		for j, field := range d.config.Fields {
			if j >= len(entry.Values) {
				break
			}
			if values[j], coerceErr = api.CoerceValue(d.config.fieldType(field), entry.Values[j]); coerceErr != nil {
				coerceErr = fmt.Errorf("field %s: %w", field, coerceErr)
				break
			}
		}
		if coerceErr != nil {
			errs[i] = coerceErr
			continue
		}

		stored := &OnlineEntry{
			Keys:        append([]interface{}(nil), entry.Keys...),
			EventTime:   entry.EventTime.UTC(),
			CreatedTime: entry.CreatedTime.UTC(),
			Values:      values,
		}
		k := utils.JoinKey(entry.Keys)
		if current, ok := d.table.Values[k]; ok && !stored.Newer(current.(*OnlineEntry)) {
			continue
		}
		d.table.Values[k] = stored
	}
	return errs
}
