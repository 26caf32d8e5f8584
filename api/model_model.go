package api

import "github.com/featurestore/featurestore-go-sdk/constants"

// Model is a named, ordered set of features served together.
type Model struct {
	Name     string          `json:"name"`
	Features []*ModelFeature `json:"features"`
}

type ModelFeature struct {
	FeatureViewName string `json:"feature_view_name"`
	Name            string `json:"name"`
	AliasName       string `json:"alias_name,omitempty"`
}

func (f *ModelFeature) Ref() string {
	if f.FeatureViewName == "" {
		return f.Name
	}
	return f.FeatureViewName + constants.Feature_Ref_Separator + f.Name
}
