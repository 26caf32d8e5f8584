package domain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/featurestore/featurestore-go-sdk/dao"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const DefaultMaterializeBatchSize = 200

// FailedKey is an entity key whose online write failed.
type FailedKey struct {
	FeatureView string
	Keys        []interface{}
	Err         error
}

func (f *FailedKey) Error() string {
	return fmt.Sprintf("feature view %s key %v: %v", f.FeatureView, f.Keys, f.Err)
}

func (f *FailedKey) Unwrap() error {
	return f.Err
}

// MaterializeResult summarises one feature view of a materialization run.
type MaterializeResult struct {
	FeatureView string
	Start       time.Time
	End         time.Time
	Records     int
	Written     int
	Failed      []*FailedKey
}

// Err combines the per key failures, nil when every key was written.
func (r *MaterializeResult) Err() error {
	var err error
	for _, f := range r.Failed {
		err = multierr.Append(err, f)
	}
	return err
}

// Materializer copies the latest record per entity key into the online
// store. Writes are monotonic, so runs over overlapping or out of order
// windows converge to the same store.
type Materializer struct {
	project   *Project
	batchSize int

	mu sync.Mutex
	// end of the last successful run per feature view
	highWater map[string]time.Time
}

func NewMaterializer(p *Project, batchSize int) *Materializer {
	if batchSize <= 0 {
		batchSize = DefaultMaterializeBatchSize
	}
	return &Materializer{
		project:   p,
		batchSize: batchSize,
		highWater: make(map[string]time.Time),
	}
}

// Materialize runs every online feature view over [start, end] in parallel.
// The error is only set when a view could not be read. Per key write
// failures are reported in the results.
func (m *Materializer) Materialize(ctx context.Context, views []FeatureView, start, end time.Time) ([]*MaterializeResult, error) {
	if start.After(end) {
		return nil, fmt.Errorf("materialize start %s is after end %s", start, end)
	}
	return m.run(ctx, views, func(FeatureView) time.Time { return start }, end)
}

// MaterializeIncremental starts every view where its previous run ended, or
// at end minus the view ttl on the first run.
func (m *Materializer) MaterializeIncremental(ctx context.Context, views []FeatureView, end time.Time) ([]*MaterializeResult, error) {
	return m.run(ctx, views, func(view FeatureView) time.Time {
		m.mu.Lock()
		defer m.mu.Unlock()
		if hw, ok := m.highWater[view.GetName()]; ok {
			return hw
		}
		if ttl := view.GetTTL(); ttl > 0 {
			return end.Add(-ttl)
		}
		return time.Time{}
	}, end)
}

// HighWaterMark returns the end of the last successful run of a view.
func (m *Materializer) HighWaterMark(view string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hw, ok := m.highWater[view]
	return hw, ok
}

func (m *Materializer) run(ctx context.Context, views []FeatureView, startOf func(FeatureView) time.Time, end time.Time) ([]*MaterializeResult, error) {
	var online []FeatureView
	for _, view := range views {
		if view.IsOnline() {
			online = append(online, view)
		}
	}

	results := make([]*MaterializeResult, len(online))
	g, gctx := errgroup.WithContext(ctx)
	for i, view := range online {
		i, view := i, view
		g.Go(func() error {
			result, err := m.materializeView(gctx, view, startOf(view), end)
			if err != nil {
				return fmt.Errorf("materialize %s: %w", view.GetName(), err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	for _, r := range results {
		// failed keys are retried by the next incremental run
		if len(r.Failed) > 0 {
			continue
		}
		if hw, ok := m.highWater[r.FeatureView]; !ok || r.End.After(hw) {
			m.highWater[r.FeatureView] = r.End
		}
	}
	m.mu.Unlock()
	return results, nil
}

func (m *Materializer) materializeView(ctx context.Context, view FeatureView, start, end time.Time) (*MaterializeResult, error) {
	fields := make([]string, 0, len(view.GetFields()))
	for _, f := range view.GetFields() {
		fields = append(fields, f.Name)
	}
	records, err := view.ScanRecords(ctx, fields, start, end)
	if err != nil {
		return nil, err
	}

	result := &MaterializeResult{FeatureView: view.GetName(), Start: start, End: end, Records: len(records)}
	latest := latestRecords(records)
	for from := 0; from < len(latest); from += m.batchSize {
		to := from + m.batchSize
		if to > len(latest) {
			to = len(latest)
		}
		batch := latest[from:to]
		entries := make([]*dao.OnlineEntry, len(batch))
		for i, r := range batch {
			entries[i] = &dao.OnlineEntry{
				Keys:        r.Keys,
				EventTime:   r.EventTime,
				CreatedTime: r.CreatedTime,
				Values:      r.Values,
			}
		}
		for i, err := range view.WriteOnlineFeatures(ctx, entries) {
			if err != nil {
				result.Failed = append(result.Failed, &FailedKey{FeatureView: view.GetName(), Keys: batch[i].Keys, Err: err})
				continue
			}
			result.Written++
		}
	}
	return result, nil
}
