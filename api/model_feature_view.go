package api

import (
	"errors"
	"fmt"
	"time"
)

type FeatureView struct {
	Name     string            `json:"name"`
	Entities []string          `json:"entities"`
	Features []*Feature        `json:"features"`
	Ttl      time.Duration     `json:"ttl"`
	Source   *BatchSource      `json:"source"`
	Online   bool              `json:"online"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// Validate checks the definition is usable for joins and materialization.
func (v *FeatureView) Validate() error {
	if v.Name == "" {
		return errors.New("feature view name is empty")
	}
	if v.Ttl < 0 {
		return &TTLConfigError{View: v.Name, TTL: v.Ttl}
	}
	if v.Source == nil {
		return fmt.Errorf("feature view %s has no batch source", v.Name)
	}
	if v.Source.EventTimestampColumn == "" {
		return fmt.Errorf("feature view %s batch source has no event timestamp column", v.Name)
	}
	if len(v.Features) == 0 {
		return fmt.Errorf("feature view %s has no features", v.Name)
	}
	seen := make(map[string]bool, len(v.Features))
	for _, f := range v.Features {
		if f == nil || f.Name == "" {
			return fmt.Errorf("feature view %s has an unnamed feature", v.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("feature view %s declares feature %s twice", v.Name, f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

func (v *FeatureView) GetFeature(name string) (*Feature, bool) {
	for _, f := range v.Features {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

func (v *FeatureView) FeatureNames() []string {
	names := make([]string, len(v.Features))
	for i, f := range v.Features {
		names[i] = f.Name
	}
	return names
}

// HasTTL reports whether the view bounds record validity from below.
func (v *FeatureView) HasTTL() bool {
	return v.Ttl > 0
}
