package api

import (
	"errors"
	"fmt"
)

// TransformFunc computes output columns of one row from its inputs. It must
// not read external state.
type TransformFunc func(inputs map[string]interface{}) (map[string]interface{}, error)

// RequestSource declares columns supplied with the request itself.
type RequestSource struct {
	Name   string     `json:"name"`
	Schema []*Feature `json:"schema"`
}

type OnDemandFeatureView struct {
	Name           string           `json:"name"`
	Sources        []string         `json:"sources"`
	RequestSources []*RequestSource `json:"request_sources,omitempty"`
	Features       []*Feature       `json:"features"`

	// Expressions maps an output feature to an expr-lang expression over the
	// inputs. Outputs without an expression must come from Transform.
	Expressions map[string]string `json:"expressions,omitempty"`
	Transform   TransformFunc     `json:"-"`
}

func (v *OnDemandFeatureView) Validate() error {
	if v.Name == "" {
		return errors.New("on demand feature view name is empty")
	}
	if len(v.Sources) == 0 && len(v.RequestSources) == 0 {
		return fmt.Errorf("on demand feature view %s has no sources", v.Name)
	}
	if len(v.Features) == 0 {
		return fmt.Errorf("on demand feature view %s has no output features", v.Name)
	}
	for _, f := range v.Features {
		if _, ok := v.Expressions[f.Name]; !ok && v.Transform == nil {
			return fmt.Errorf("on demand feature view %s has no transformation for %s", v.Name, f.Name)
		}
	}
	return nil
}

func (v *OnDemandFeatureView) GetFeature(name string) (*Feature, bool) {
	for _, f := range v.Features {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

func (v *OnDemandFeatureView) RequestFields() []*Feature {
	var fields []*Feature
	for _, rs := range v.RequestSources {
		fields = append(fields, rs.Schema...)
	}
	return fields
}
