package domain

import (
	"context"
	"sort"
	"time"

	"github.com/featurestore/featurestore-go-sdk/api"
	"github.com/featurestore/featurestore-go-sdk/dao"
	"github.com/featurestore/featurestore-go-sdk/utils"
)

const joinCancelCheckRows = 1024

// recordLess orders records so the last eligible one wins: event time, then
// created time ascending, then scan order descending.
func recordLess(a, b *dao.Record) bool {
	if !a.EventTime.Equal(b.EventTime) {
		return a.EventTime.Before(b.EventTime)
	}
	if !a.CreatedTime.Equal(b.CreatedTime) {
		return a.CreatedTime.Before(b.CreatedTime)
	}
	return a.Ordinal > b.Ordinal
}

// indexRecords groups records by entity key, each group sorted by recordLess.
// Records with a null key can never match and are dropped.
func indexRecords(records []*dao.Record) map[string][]*dao.Record {
	groups := make(map[string][]*dao.Record)
	for _, r := range records {
		if hasNull(r.Keys) {
			continue
		}
		k := utils.JoinKey(r.Keys)
		groups[k] = append(groups[k], r)
	}
	for _, group := range groups {
		sort.SliceStable(group, func(i, j int) bool {
			return recordLess(group[i], group[j])
		})
	}
	return groups
}

func hasNull(values []interface{}) bool {
	for _, v := range values {
		if v == nil {
			return true
		}
	}
	return false
}

// pointInTimeJoin returns, for every spine row, the values of the winning
// record: the latest record of the same entity with t-ttl <= event <= t.
// Rows without one get nulls. The result is indexed [feature][row].
func pointInTimeJoin(ctx context.Context, spine *api.Table, tsField string, view FeatureView, nFeatures int, records []*dao.Record) ([][]interface{}, error) {
	joinKeys := view.GetJoinKeys()
	keyIdx := make([]int, len(joinKeys))
	for i, k := range joinKeys {
		keyIdx[i] = spine.Schema().Index(k)
	}
	tsIdx := spine.Schema().Index(tsField)
	ttl := view.GetTTL()

	groups := indexRecords(records)

	columns := make([][]interface{}, nFeatures)
	for i := range columns {
		columns[i] = make([]interface{}, spine.NumRows())
	}

	keys := make([]interface{}, len(keyIdx))
	for row := 0; row < spine.NumRows(); row++ {
		if row%joinCancelCheckRows == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		values := spine.Row(row)
		t, ok := values[tsIdx].(time.Time)
		if !ok {
			continue
		}
		for i, idx := range keyIdx {
			keys[i] = values[idx]
		}
		if hasNull(keys) {
			continue
		}
		group := groups[utils.JoinKey(keys)]
		// first record strictly after t
		n := sort.Search(len(group), func(i int) bool {
			return group[i].EventTime.After(t)
		})
		if n == 0 {
			continue
		}
		winner := group[n-1]
		if ttl > 0 && winner.EventTime.Before(t.Add(-ttl)) {
			continue
		}
		for i := 0; i < nFeatures && i < len(winner.Values); i++ {
			columns[i][row] = winner.Values[i]
		}
	}
	return columns, nil
}

// latestRecords keeps the winning record per entity key, as the join would
// select it at the end of the scanned range.
func latestRecords(records []*dao.Record) []*dao.Record {
	latest := make(map[string]*dao.Record)
	var order []string
	for _, r := range records {
		if hasNull(r.Keys) {
			continue
		}
		k := utils.JoinKey(r.Keys)
		current, ok := latest[k]
		if !ok {
			order = append(order, k)
			latest[k] = r
			continue
		}
		if recordLess(current, r) {
			latest[k] = r
		}
	}
	result := make([]*dao.Record, len(order))
	for i, k := range order {
		result[i] = latest[k]
	}
	return result
}
