package api

import (
	"fmt"

	"github.com/featurestore/featurestore-go-sdk/constants"
)

// BatchSource describes where the changelog records of a feature view live.
// Exactly one of Table and Query is set.
type BatchSource struct {
	Name                   string `json:"name" yaml:"name"`
	Table                  string `json:"table,omitempty" yaml:"table,omitempty"`
	Query                  string `json:"query,omitempty" yaml:"query,omitempty"`
	EventTimestampColumn   string `json:"event_timestamp_column" yaml:"event_timestamp_column"`
	CreatedTimestampColumn string `json:"created_timestamp_column,omitempty" yaml:"created_timestamp_column,omitempty"`

	// OrdinalColumn orders records that tie on both timestamps. Lower wins.
	OrdinalColumn string `json:"ordinal_column,omitempty" yaml:"ordinal_column,omitempty"`
}

func (s *BatchSource) HasCreatedTimestamp() bool {
	return s.CreatedTimestampColumn != ""
}

// Datasource holds connection settings for an online or offline store.
type Datasource struct {
	Type     string `json:"type" yaml:"type"`
	Name     string `json:"name" yaml:"name"`
	Address  string `json:"address,omitempty" yaml:"address,omitempty"`
	Database string `json:"database,omitempty" yaml:"database,omitempty"`
	User     string `json:"user,omitempty" yaml:"user,omitempty"`
	Pwd      string `json:"pwd,omitempty" yaml:"pwd,omitempty"`
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
	DB       int    `json:"db,omitempty" yaml:"db,omitempty"`
}

func (d *Datasource) GenerateDSN(datasourceType string) (DSN string) {
	switch datasourceType {
	case constants.Datasource_Type_Hologres:
		DSN = fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable&connect_timeout=10",
			d.User, d.Pwd, d.Address, d.Database)
	case constants.Datasource_Type_Sqlite:
		if d.Path == "" {
			// one in-memory database per datasource name
			DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared", d.Name)
		} else {
			DSN = fmt.Sprintf("file:%s?_busy_timeout=5000", d.Path)
		}
	}
	return
}
