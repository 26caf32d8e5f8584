package domain

import (
	"fmt"
	"sort"

	"github.com/featurestore/featurestore-go-sdk/api"
)

// viewRequest is the set of features read from one feature view. Hidden
// features only feed on demand views and never reach the output.
type viewRequest struct {
	view     FeatureView
	features []string
	hidden   map[string]bool
}

func (r *viewRequest) add(feature string, hidden bool) {
	for _, f := range r.features {
		if f == feature {
			if !hidden {
				delete(r.hidden, feature)
			}
			return
		}
	}
	r.features = append(r.features, feature)
	if hidden {
		r.hidden[feature] = true
	}
}

// internalNames are the column names both join strategies produce.
func (r *viewRequest) internalNames() []string {
	names := make([]string, len(r.features))
	for i, f := range r.features {
		names[i] = fullFeatureName(r.view.GetName(), f)
	}
	return names
}

type onDemandRequest struct {
	view     *OnDemandFeatureView
	features []string
}

// outputColumn is one requested feature in output order.
type outputColumn struct {
	view     string
	feature  string
	onDemand bool
	// name is the final column name
	name string
}

func (c *outputColumn) internalName() string {
	if c.onDemand {
		return c.feature
	}
	return fullFeatureName(c.view, c.feature)
}

// featurePlan is the resolved form of a feature request.
type featurePlan struct {
	refs      []api.FeatureRef
	fullNames bool
	views     []*viewRequest
	onDemands []*onDemandRequest
	columns   []outputColumn
	joinKeys  []string
}

// resolveFeatures turns references into a plan: base features in request
// order, then on demand features grouped by view in declaration order.
// aliases renames output columns, keyed by the reference string.
func resolveFeatures(p *Project, refs []api.FeatureRef, fullNames bool, aliases map[string]string) (*featurePlan, error) {
	plan := &featurePlan{refs: refs, fullNames: fullNames}
	viewIndex := make(map[string]*viewRequest)
	onDemandIndex := make(map[string]*onDemandRequest)
	requested := make(map[string]bool)

	viewRequestOf := func(view FeatureView) *viewRequest {
		r, ok := viewIndex[view.GetName()]
		if !ok {
			r = &viewRequest{view: view, hidden: make(map[string]bool)}
			viewIndex[view.GetName()] = r
			plan.views = append(plan.views, r)
		}
		return r
	}
	addOnDemand := func(view *OnDemandFeatureView, feature string) {
		r, ok := onDemandIndex[view.Name]
		if !ok {
			r = &onDemandRequest{view: view}
			onDemandIndex[view.Name] = r
			plan.onDemands = append(plan.onDemands, r)
		}
		for _, f := range r.features {
			if f == feature {
				return
			}
		}
		r.features = append(r.features, feature)
	}

	for _, ref := range refs {
		if ref.IsBare() {
			view := p.getOnDemandFeature(ref.Name)
			if view == nil {
				return nil, &api.FeatureNotFoundError{Ref: ref.String(), Reason: "bare names must be on demand features"}
			}
			addOnDemand(view, ref.Name)
			continue
		}

		if view := p.GetFeatureView(ref.View); view != nil {
			r := viewRequestOf(view)
			if ref.IsWildcard() {
				for _, f := range view.GetFields() {
					r.add(f.Name, false)
					requested[fullFeatureName(view.GetName(), f.Name)] = true
				}
				continue
			}
			if _, ok := view.GetFeature(ref.Name); !ok {
				return nil, &api.FeatureNotFoundError{Ref: ref.String(), Reason: fmt.Sprintf("feature view %s has no feature %s", ref.View, ref.Name)}
			}
			r.add(ref.Name, false)
			requested[fullFeatureName(view.GetName(), ref.Name)] = true
			continue
		}

		if view := p.GetOnDemandFeatureView(ref.View); view != nil {
			if ref.IsWildcard() {
				for _, f := range view.Features {
					addOnDemand(view, f.Name)
				}
				continue
			}
			if _, ok := view.GetFeature(ref.Name); !ok {
				return nil, &api.FeatureNotFoundError{Ref: ref.String(), Reason: fmt.Sprintf("on demand feature view %s has no feature %s", ref.View, ref.Name)}
			}
			addOnDemand(view, ref.Name)
			continue
		}

		return nil, &api.FeatureNotFoundError{Ref: ref.String(), Reason: fmt.Sprintf("feature view %s is not registered", ref.View)}
	}

	// base columns in request order
	for _, r := range plan.views {
		for _, f := range r.features {
			plan.columns = append(plan.columns, outputColumn{view: r.view.GetName(), feature: f})
		}
	}

	// sources of on demand views are read implicitly
	for _, r := range plan.onDemands {
		sort.SliceStable(r.features, func(a, b int) bool {
			return featurePosition(r.view.Features, r.features[a]) < featurePosition(r.view.Features, r.features[b])
		})
		for _, source := range r.view.Sources() {
			sr := viewRequestOf(source)
			for _, f := range source.GetFields() {
				sr.add(f.Name, !requested[fullFeatureName(source.GetName(), f.Name)])
			}
		}
		for _, f := range r.features {
			plan.columns = append(plan.columns, outputColumn{view: r.view.Name, feature: f, onDemand: true})
		}
	}

	seenKeys := make(map[string]bool)
	for _, r := range plan.views {
		for _, k := range r.view.GetJoinKeys() {
			if !seenKeys[k] {
				seenKeys[k] = true
				plan.joinKeys = append(plan.joinKeys, k)
			}
		}
	}

	if err := nameColumns(plan, aliases); err != nil {
		return nil, err
	}
	return plan, nil
}

func featurePosition(features []*api.Feature, name string) int {
	for i, f := range features {
		if f.Name == name {
			return i
		}
	}
	return len(features)
}

func (p *Project) getOnDemandFeature(name string) *OnDemandFeatureView {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.onDemandFeatures[name]
}
