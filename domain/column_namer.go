package domain

import (
	"github.com/featurestore/featurestore-go-sdk/api"
	"github.com/featurestore/featurestore-go-sdk/constants"
)

// ColumnName is the output name of a feature. On demand features are never
// prefixed.
func ColumnName(view, feature string, fullNames, onDemand bool) string {
	if fullNames && !onDemand {
		return fullFeatureName(view, feature)
	}
	return feature
}

func nameColumns(plan *featurePlan, aliases map[string]string) error {
	owners := make(map[string]string, len(plan.columns))
	for i := range plan.columns {
		c := &plan.columns[i]
		c.name = ColumnName(c.view, c.feature, plan.fullNames, c.onDemand)
		if alias, ok := aliases[c.view+constants.Feature_Ref_Separator+c.feature]; ok && alias != "" {
			c.name = alias
		}
		if owner, ok := owners[c.name]; ok {
			return &api.AmbiguousFeatureNameError{Name: c.name, Views: []string{owner, c.view}}
		}
		owners[c.name] = c.view
	}
	return nil
}

// checkReservedNames rejects feature columns that would overwrite a column
// of the entity input.
func checkReservedNames(plan *featurePlan, reserved []string) error {
	for _, name := range reserved {
		for _, c := range plan.columns {
			if c.name == name {
				return &api.AmbiguousFeatureNameError{Name: name, Views: []string{"entity input", c.view}}
			}
		}
	}
	return nil
}
