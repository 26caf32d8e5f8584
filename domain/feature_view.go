package domain

import (
	"context"
	"time"

	"github.com/featurestore/featurestore-go-sdk/api"
	"github.com/featurestore/featurestore-go-sdk/dao"
)

// FieldStatus tells why an online value is present or null.
type FieldStatus int

const (
	FieldStatusPresent FieldStatus = iota
	FieldStatusNotFound
	FieldStatusOutsideMaxAge
)

func (s FieldStatus) String() string {
	switch s {
	case FieldStatusPresent:
		return "PRESENT"
	case FieldStatusNotFound:
		return "NOT_FOUND"
	case FieldStatusOutsideMaxAge:
		return "OUTSIDE_MAX_AGE"
	}
	return "UNKNOWN"
}

type FeatureView interface {
	GetName() string
	GetFeatureEntityNames() []string
	GetJoinKeys() []string
	GetFields() []*api.Feature
	GetFeature(name string) (*api.Feature, bool)
	GetTTL() time.Duration
	IsOnline() bool

	// OfflineDaoConfig describes the batch source restricted to fields.
	OfflineDaoConfig(fields []string) dao.DaoConfig

	// ScanRecords reads the batch source records with start <= event <= end.
	ScanRecords(ctx context.Context, fields []string, start, end time.Time) ([]*dao.Record, error)

	// GetOnlineFeatures reads one row of values per key from the online
	// store. Missing and expired entries come back as nulls with the matching
	// status.
	GetOnlineFeatures(ctx context.Context, keys [][]interface{}, features []string, now time.Time) ([][]interface{}, []FieldStatus, error)

	// WriteOnlineFeatures upserts entries carrying every field of the view.
	WriteOnlineFeatures(ctx context.Context, entries []*dao.OnlineEntry) []error
}

func NewFeatureView(view *api.FeatureView, p *Project, entities []*FeatureEntity) (FeatureView, error) {
	return NewBaseFeatureView(view, p, entities)
}
