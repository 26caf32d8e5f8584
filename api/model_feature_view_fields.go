package api

import "github.com/featurestore/featurestore-go-sdk/constants"

type Feature struct {
	Name string           `json:"name,omitempty" yaml:"name"`
	Type constants.FSType `json:"type,omitempty" yaml:"type"`
}
