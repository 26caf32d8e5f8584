package constants

import "fmt"

type FSType int

const (
	FS_INT32 FSType = iota + 1 // int32
	FS_INT64                   // int64
	FS_FLOAT
	FS_DOUBLE
	FS_STRING
	FS_BOOLEAN
	FS_TIMESTAMP
)

func (t FSType) String() string {
	switch t {
	case FS_INT32:
		return "INT32"
	case FS_INT64:
		return "INT64"
	case FS_FLOAT:
		return "FLOAT"
	case FS_DOUBLE:
		return "DOUBLE"
	case FS_STRING:
		return "STRING"
	case FS_BOOLEAN:
		return "BOOLEAN"
	case FS_TIMESTAMP:
		return "TIMESTAMP"
	}
	return fmt.Sprintf("FSType(%d)", int(t))
}

// ParseFSType accepts the names produced by FSType.String, case sensitive.
func ParseFSType(s string) (FSType, error) {
	for t := FS_INT32; t <= FS_TIMESTAMP; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown feature type:%s", s)
}

const (
	Datasource_Type_Memory   = "memory"
	Datasource_Type_Sqlite   = "sqlite"
	Datasource_Type_MySQL    = "mysql"
	Datasource_Type_Hologres = "hologres"
	Datasource_Type_Redis    = "redis"
)

const (
	Default_Entity_Timestamp_Field = "event_timestamp"

	// view__feature
	Full_Feature_Name_Separator = "__"

	// view:feature
	Feature_Ref_Separator = ":"

	Feature_Ref_Wildcard = "*"
)

const (
	Retrieval_Strategy_Memory   = "memory"
	Retrieval_Strategy_Pushdown = "pushdown"
)
