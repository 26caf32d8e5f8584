package api

import (
	"strings"

	"github.com/featurestore/featurestore-go-sdk/constants"
)

// FeatureRef identifies a requested feature. View is empty for a bare on
// demand feature name.
type FeatureRef struct {
	View string
	Name string
}

func ParseFeatureRef(ref string) (FeatureRef, error) {
	s := strings.TrimSpace(ref)
	if s == "" {
		return FeatureRef{}, &InvalidFeatureRefError{Ref: ref, Reason: "empty reference"}
	}

	parts := strings.Split(s, constants.Feature_Ref_Separator)
	switch len(parts) {
	case 1:
		if parts[0] == constants.Feature_Ref_Wildcard {
			return FeatureRef{}, &InvalidFeatureRefError{Ref: ref, Reason: "wildcard needs a feature view"}
		}
		return FeatureRef{Name: parts[0]}, nil
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return FeatureRef{}, &InvalidFeatureRefError{Ref: ref, Reason: "expected <view>:<feature>"}
		}
		return FeatureRef{View: parts[0], Name: parts[1]}, nil
	}

	return FeatureRef{}, &InvalidFeatureRefError{Ref: ref, Reason: "too many separators"}
}

func ParseFeatureRefs(refs []string) ([]FeatureRef, error) {
	result := make([]FeatureRef, 0, len(refs))
	for _, ref := range refs {
		r, err := ParseFeatureRef(ref)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, nil
}

func (r FeatureRef) IsBare() bool {
	return r.View == ""
}

func (r FeatureRef) IsWildcard() bool {
	return r.Name == constants.Feature_Ref_Wildcard
}

func (r FeatureRef) String() string {
	if r.View == "" {
		return r.Name
	}
	return r.View + constants.Feature_Ref_Separator + r.Name
}
