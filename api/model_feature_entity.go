package api

import "github.com/featurestore/featurestore-go-sdk/constants"

type FeatureEntity struct {
	Name        string           `json:"name" yaml:"name"`
	JoinKey     string           `json:"join_key" yaml:"join_key"`
	ValueType   constants.FSType `json:"value_type" yaml:"value_type"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
}

// GetJoinKey defaults the join key to the entity name.
func (e *FeatureEntity) GetJoinKey() string {
	if e.JoinKey == "" {
		return e.Name
	}
	return e.JoinKey
}
