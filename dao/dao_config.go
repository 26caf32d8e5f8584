package dao

import (
	"time"

	"github.com/featurestore/featurestore-go-sdk/constants"
)

// DaoConfig describes one feature view against one datasource.
type DaoConfig struct {
	DatasourceType string
	DatasourceName string

	FeatureViewName string

	// JoinKeys and Fields keep the feature view declaration order.
	JoinKeys []string
	Fields   []string
	// types of join keys and fields
	FieldTypeMap map[string]constants.FSType

	EventTimeField   string
	CreatedTimeField string
	OrdinalField     string
	TTL              time.Duration

	// offline batch source, table or sub query
	TableName string
	Query     string

	// online projection, sql table name or redis key prefix
	OnlineTableName string
}

func (c *DaoConfig) fieldType(name string) constants.FSType {
	return c.FieldTypeMap[name]
}
