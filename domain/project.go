package domain

import (
	"fmt"
	"sync"

	"github.com/featurestore/featurestore-go-sdk/api"
	"github.com/featurestore/featurestore-go-sdk/constants"
)

// Store names a registered datasource.
type Store struct {
	Type string
	Name string
}

// Project is the read-only registry the engines work against. Definitions
// are registered once, before serving.
type Project struct {
	Name         string
	OfflineStore Store
	OnlineStore  Store

	mu                     sync.RWMutex
	FeatureViewMap         map[string]FeatureView
	FeatureEntityMap       map[string]*FeatureEntity
	OnDemandFeatureViewMap map[string]*OnDemandFeatureView
	ModelMap               map[string]*Model

	// feature view names in registration order
	featureViewNames []string
	// on demand output feature name to its view
	onDemandFeatures map[string]*OnDemandFeatureView
}

func NewProject(name string, offline, online Store) *Project {
	return &Project{
		Name:                   name,
		OfflineStore:           offline,
		OnlineStore:            online,
		FeatureViewMap:         make(map[string]FeatureView),
		FeatureEntityMap:       make(map[string]*FeatureEntity),
		OnDemandFeatureViewMap: make(map[string]*OnDemandFeatureView),
		ModelMap:               make(map[string]*Model),
		onDemandFeatures:       make(map[string]*OnDemandFeatureView),
	}
}

func (p *Project) RegisterFeatureEntity(entity *api.FeatureEntity) error {
	if entity == nil || entity.Name == "" {
		return fmt.Errorf("feature entity name is empty")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.FeatureEntityMap[entity.Name]; ok {
		return fmt.Errorf("feature entity %s already registered", entity.Name)
	}
	p.FeatureEntityMap[entity.Name] = NewFeatureEntity(entity)
	return nil
}

func (p *Project) RegisterFeatureView(view *api.FeatureView) error {
	if err := view.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nameTaken(view.Name) {
		return fmt.Errorf("feature view %s already registered", view.Name)
	}

	entities := make([]*FeatureEntity, 0, len(view.Entities))
	for _, name := range view.Entities {
		entity, ok := p.FeatureEntityMap[name]
		if !ok {
			return fmt.Errorf("feature view %s: feature entity %s not registered", view.Name, name)
		}
		entities = append(entities, entity)
	}
	for _, entity := range entities {
		if _, ok := view.GetFeature(entity.GetJoinKey()); ok {
			return fmt.Errorf("feature view %s: feature %s shadows a join key", view.Name, entity.GetJoinKey())
		}
	}

	featureView, err := NewFeatureView(view, p, entities)
	if err != nil {
		return err
	}
	p.FeatureViewMap[view.Name] = featureView
	p.featureViewNames = append(p.featureViewNames, view.Name)
	return nil
}

// GetTableName is the online table, or key prefix, of a feature view.
func (p *Project) GetTableName(view FeatureView) string {
	return fmt.Sprintf("%s_%s_online", p.Name, view.GetName())
}

func (p *Project) RegisterOnDemandFeatureView(view *api.OnDemandFeatureView) error {
	if err := view.Validate(); err != nil {
		return err
	}
	onDemandView, err := NewOnDemandFeatureView(view, p)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nameTaken(view.Name) {
		return fmt.Errorf("on demand feature view %s already registered", view.Name)
	}
	for _, f := range view.Features {
		if other, ok := p.onDemandFeatures[f.Name]; ok {
			return &api.AmbiguousFeatureNameError{Name: f.Name, Views: []string{other.Name, view.Name}}
		}
	}
	p.OnDemandFeatureViewMap[view.Name] = onDemandView
	for _, f := range view.Features {
		p.onDemandFeatures[f.Name] = onDemandView
	}
	return nil
}

func (p *Project) RegisterModel(model *api.Model) error {
	m, err := NewModel(model, p)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.ModelMap[model.Name]; ok {
		return fmt.Errorf("model %s already registered", model.Name)
	}
	p.ModelMap[model.Name] = m
	return nil
}

func (p *Project) nameTaken(name string) bool {
	_, fv := p.FeatureViewMap[name]
	_, odfv := p.OnDemandFeatureViewMap[name]
	return fv || odfv
}

func (p *Project) GetFeatureView(name string) FeatureView {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.FeatureViewMap[name]
}

func (p *Project) GetFeatureEntity(name string) *FeatureEntity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.FeatureEntityMap[name]
}

func (p *Project) GetOnDemandFeatureView(name string) *OnDemandFeatureView {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.OnDemandFeatureViewMap[name]
}

func (p *Project) GetModel(name string) *Model {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ModelMap[name]
}

// ListFeatureViews returns feature views in registration order.
func (p *Project) ListFeatureViews() []FeatureView {
	p.mu.RLock()
	defer p.mu.RUnlock()
	views := make([]FeatureView, 0, len(p.featureViewNames))
	for _, name := range p.featureViewNames {
		views = append(views, p.FeatureViewMap[name])
	}
	return views
}

// SupportsPushdown reports whether the offline store can run joins itself.
func (p *Project) SupportsPushdown() bool {
	switch p.OfflineStore.Type {
	case constants.Datasource_Type_Sqlite, constants.Datasource_Type_MySQL, constants.Datasource_Type_Hologres:
		return true
	}
	return false
}
