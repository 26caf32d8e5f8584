package featurestore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/featurestore/featurestore-go-sdk/api"
	"github.com/featurestore/featurestore-go-sdk/constants"
	"gopkg.in/yaml.v3"
)

// RepoConfig is the declarative form of a feature repository: where the
// stores live and which definitions to register.
type RepoConfig struct {
	Project      string          `yaml:"project"`
	OfflineStore *api.Datasource `yaml:"offline_store,omitempty"`
	OnlineStore  *api.Datasource `yaml:"online_store,omitempty"`
	// Pushdown defaults to true.
	Pushdown             *bool `yaml:"pushdown,omitempty"`
	MaterializeBatchSize int   `yaml:"materialize_batch_size,omitempty"`

	Entities             []*EntityConfig              `yaml:"entities,omitempty"`
	FeatureViews         []*FeatureViewConfig         `yaml:"feature_views,omitempty"`
	OnDemandFeatureViews []*OnDemandFeatureViewConfig `yaml:"on_demand_feature_views,omitempty"`
	Models               []*ModelConfig               `yaml:"models,omitempty"`
}

type EntityConfig struct {
	Name        string `yaml:"name"`
	JoinKey     string `yaml:"join_key,omitempty"`
	ValueType   string `yaml:"value_type"`
	Description string `yaml:"description,omitempty"`
}

type FeatureConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	// Expression is only read for on demand outputs.
	Expression string `yaml:"expression,omitempty"`
}

type FeatureViewConfig struct {
	Name     string            `yaml:"name"`
	Entities []string          `yaml:"entities"`
	Features []*FeatureConfig  `yaml:"features"`
	Ttl      time.Duration     `yaml:"ttl,omitempty"`
	Online   bool              `yaml:"online,omitempty"`
	Source   *api.BatchSource  `yaml:"source"`
	Tags     map[string]string `yaml:"tags,omitempty"`
}

type RequestSourceConfig struct {
	Name   string           `yaml:"name"`
	Schema []*FeatureConfig `yaml:"schema"`
}

type OnDemandFeatureViewConfig struct {
	Name           string                 `yaml:"name"`
	Sources        []string               `yaml:"sources,omitempty"`
	RequestSources []*RequestSourceConfig `yaml:"request_sources,omitempty"`
	Features       []*FeatureConfig       `yaml:"features"`
}

type ModelConfig struct {
	Name     string                `yaml:"name"`
	Features []*ModelFeatureConfig `yaml:"features"`
}

type ModelFeatureConfig struct {
	FeatureView string `yaml:"feature_view,omitempty"`
	Name        string `yaml:"name"`
	Alias       string `yaml:"alias,omitempty"`
}

func LoadRepoConfig(path string) (*RepoConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read repo config %s: %w", path, err)
	}
	return ParseRepoConfig(data)
}

// ParseRepoConfig rejects unknown keys.
func ParseRepoConfig(data []byte) (*RepoConfig, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var config RepoConfig
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("parse repo config: %w", err)
	}
	if config.Project == "" {
		return nil, errors.New("repo config has no project")
	}
	return &config, nil
}

// OptionsFromConfig turns the store settings into client options. The
// definitions are registered by Apply.
func OptionsFromConfig(config *RepoConfig) []ClientOption {
	var opts []ClientOption
	if config.OfflineStore != nil {
		opts = append(opts, WithOfflineStore(*config.OfflineStore))
	}
	if config.OnlineStore != nil {
		opts = append(opts, WithOnlineStore(*config.OnlineStore))
	}
	if config.Pushdown != nil {
		opts = append(opts, WithPushdown(*config.Pushdown))
	}
	if config.MaterializeBatchSize > 0 {
		opts = append(opts, WithMaterializeBatchSize(config.MaterializeBatchSize))
	}
	return opts
}

// Apply registers entities, feature views, on demand feature views and
// models, in that order.
func (config *RepoConfig) Apply(c *FeatureStoreClient) error {
	for _, e := range config.Entities {
		valueType, err := constants.ParseFSType(e.ValueType)
		if err != nil {
			return fmt.Errorf("entity %s: %w", e.Name, err)
		}
		if err := c.RegisterFeatureEntity(&api.FeatureEntity{
			Name:        e.Name,
			JoinKey:     e.JoinKey,
			ValueType:   valueType,
			Description: e.Description,
		}); err != nil {
			return err
		}
	}

	for _, v := range config.FeatureViews {
		features, _, err := parseFeatures(v.Features)
		if err != nil {
			return fmt.Errorf("feature view %s: %w", v.Name, err)
		}
		if err := c.RegisterFeatureView(&api.FeatureView{
			Name:     v.Name,
			Entities: v.Entities,
			Features: features,
			Ttl:      v.Ttl,
			Source:   v.Source,
			Online:   v.Online,
			Tags:     v.Tags,
		}); err != nil {
			return err
		}
	}

	for _, v := range config.OnDemandFeatureViews {
		features, expressions, err := parseFeatures(v.Features)
		if err != nil {
			return fmt.Errorf("on demand feature view %s: %w", v.Name, err)
		}
		view := &api.OnDemandFeatureView{
			Name:        v.Name,
			Sources:     v.Sources,
			Features:    features,
			Expressions: expressions,
		}
		for _, rs := range v.RequestSources {
			schema, _, err := parseFeatures(rs.Schema)
			if err != nil {
				return fmt.Errorf("request source %s: %w", rs.Name, err)
			}
			view.RequestSources = append(view.RequestSources, &api.RequestSource{Name: rs.Name, Schema: schema})
		}
		if err := c.RegisterOnDemandFeatureView(view); err != nil {
			return err
		}
	}

	for _, m := range config.Models {
		model := &api.Model{Name: m.Name}
		for _, f := range m.Features {
			model.Features = append(model.Features, &api.ModelFeature{
				FeatureViewName: f.FeatureView,
				Name:            f.Name,
				AliasName:       f.Alias,
			})
		}
		if err := c.RegisterModel(model); err != nil {
			return err
		}
	}
	return nil
}

func parseFeatures(configs []*FeatureConfig) ([]*api.Feature, map[string]string, error) {
	features := make([]*api.Feature, 0, len(configs))
	var expressions map[string]string
	for _, f := range configs {
		t, err := constants.ParseFSType(f.Type)
		if err != nil {
			return nil, nil, fmt.Errorf("feature %s: %w", f.Name, err)
		}
		features = append(features, &api.Feature{Name: f.Name, Type: t})
		if f.Expression != "" {
			if expressions == nil {
				expressions = make(map[string]string)
			}
			expressions[f.Name] = f.Expression
		}
	}
	return features, expressions, nil
}
