package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/featurestore/featurestore-go-sdk/api"
)

// Model is a feature service: a named, ordered feature list served together,
// with optional output aliases.
type Model struct {
	*api.Model
	project *Project
	refs    []api.FeatureRef
	// feature reference to alias name
	aliases map[string]string
}

func NewModel(model *api.Model, p *Project) (*Model, error) {
	if model == nil || model.Name == "" {
		return nil, fmt.Errorf("model name is empty")
	}
	m := &Model{
		Model:   model,
		project: p,
		aliases: make(map[string]string),
	}
	for _, feature := range m.Features {
		ref, err := api.ParseFeatureRef(feature.Ref())
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", model.Name, err)
		}
		m.refs = append(m.refs, ref)
		if feature.AliasName != "" {
			if ref.IsWildcard() {
				return nil, fmt.Errorf("model %s: wildcard %s cannot have an alias", model.Name, ref)
			}
			m.aliases[m.aliasKey(ref)] = feature.AliasName
		}
	}
	if len(m.refs) == 0 {
		return nil, fmt.Errorf("model %s has no features", model.Name)
	}

	// every reference must resolve
	if _, err := resolveFeatures(p, m.refs, true, m.aliases); err != nil {
		return nil, fmt.Errorf("model %s: %w", model.Name, err)
	}
	return m, nil
}

// aliasKey is the view:feature key the column namer looks aliases up by.
func (m *Model) aliasKey(ref api.FeatureRef) string {
	if ref.IsBare() {
		if view := m.project.getOnDemandFeature(ref.Name); view != nil {
			return api.FeatureRef{View: view.Name, Name: ref.Name}.String()
		}
	}
	return ref.String()
}

func (m *Model) FeatureRefs() []api.FeatureRef {
	return append([]api.FeatureRef(nil), m.refs...)
}

func (m *Model) GetOnlineFeatures(ctx context.Context, entityRows []map[string]interface{}, fullNames bool, now time.Time) (*OnlineResponse, error) {
	return getOnlineFeatures(ctx, m.project, m.refs, entityRows, fullNames, now, m.aliases)
}

func (m *Model) GetHistoricalFeatures(source EntitySource, fullNames bool, strategy string) (*RetrievalJob, error) {
	return getHistoricalFeatures(m.project, source, m.refs, fullNames, strategy, m.aliases)
}
