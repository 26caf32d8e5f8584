package domain

import "github.com/featurestore/featurestore-go-sdk/api"

type FeatureEntity struct {
	*api.FeatureEntity
}

func NewFeatureEntity(entity *api.FeatureEntity) *FeatureEntity {
	featureEntity := &FeatureEntity{
		FeatureEntity: entity,
	}
	return featureEntity
}
