package featurestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/featurestore/featurestore-go-sdk/api"
	"github.com/featurestore/featurestore-go-sdk/constants"
	"github.com/featurestore/featurestore-go-sdk/datasource/hologres"
	"github.com/featurestore/featurestore-go-sdk/datasource/memory"
	"github.com/featurestore/featurestore-go-sdk/datasource/mysql"
	"github.com/featurestore/featurestore-go-sdk/datasource/redis"
	"github.com/featurestore/featurestore-go-sdk/datasource/sqlite"
	"github.com/featurestore/featurestore-go-sdk/domain"
	"github.com/featurestore/featurestore-go-sdk/usage"
	"go.uber.org/multierr"
)

const Version = "0.1.0"

// usage event names
const (
	usageApply                  = "apply"
	usageGetHistoricalFeatures  = "get_historical_features"
	usageGetOnlineFeatures      = "get_online_features"
	usageMaterialize            = "materialize"
	usageMaterializeIncremental = "materialize_incremental"
)

type ClientOption func(c *FeatureStoreClient)

func WithLogger(l Logger) ClientOption {
	return func(e *FeatureStoreClient) {
		e.Logger = l
	}
}

func WithErrorLogger(l Logger) ClientOption {
	return func(e *FeatureStoreClient) {
		e.ErrorLogger = l
	}
}

// WithOfflineStore sets the store feature view sources are read from.
// Defaults to a memory datasource named <project>_offline.
func WithOfflineStore(ds api.Datasource) ClientOption {
	return func(e *FeatureStoreClient) {
		e.offline = ds
	}
}

// WithOnlineStore sets the store features are materialized to. Defaults to a
// memory datasource named <project>_online. An empty type disables online
// serving.
func WithOnlineStore(ds api.Datasource) ClientOption {
	return func(e *FeatureStoreClient) {
		e.online = ds
	}
}

// WithPushdown false keeps historical joins in process even when the offline
// store could run them.
func WithPushdown(pushdown bool) ClientOption {
	return func(e *FeatureStoreClient) {
		e.pushdown = pushdown
	}
}

func WithUsage(r usage.Reporter) ClientOption {
	return func(e *FeatureStoreClient) {
		e.usage = r
	}
}

// WithClock sets the time online responses are aged against.
func WithClock(now func() time.Time) ClientOption {
	return func(e *FeatureStoreClient) {
		e.now = now
	}
}

func WithMaterializeBatchSize(size int) ClientOption {
	return func(e *FeatureStoreClient) {
		e.batchSize = size
	}
}

type FeatureStoreClient struct {
	projectName string

	offline api.Datasource
	online  api.Datasource

	// pushdown lets the offline store run historical joins when it can
	pushdown bool

	batchSize int

	now func() time.Time

	usage usage.Reporter

	// Logger specifies a logger used to report internal changes within the client
	Logger Logger

	// ErrorLogger is the logger to report errors
	ErrorLogger Logger

	project      *domain.Project
	materializer *domain.Materializer
}

func NewFeatureStoreClient(projectName string, opts ...ClientOption) (*FeatureStoreClient, error) {
	if projectName == "" {
		return nil, errors.New("project name is empty")
	}
	client := FeatureStoreClient{
		projectName: projectName,
		offline:     api.Datasource{Type: constants.Datasource_Type_Memory, Name: projectName + "_offline"},
		online:      api.Datasource{Type: constants.Datasource_Type_Memory, Name: projectName + "_online"},
		pushdown:    true,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(&client)
	}

	if client.usage == nil {
		client.usage = usage.New(usage.ConfigFromEnv(Version))
	}

	if err := client.Validate(); err != nil {
		return nil, err
	}

	if err := registerDatasource(client.offline); err != nil {
		client.logError(fmt.Errorf("register offline store error, err=%v", err))
		return nil, err
	}
	if client.online.Type != "" {
		if err := registerDatasource(client.online); err != nil {
			client.logError(fmt.Errorf("register online store error, err=%v", err))
			return nil, err
		}
	}

	client.project = domain.NewProject(projectName,
		domain.Store{Type: client.offline.Type, Name: client.offline.Name},
		domain.Store{Type: client.online.Type, Name: client.online.Name})
	client.materializer = domain.NewMaterializer(client.project, client.batchSize)

	client.logf("featurestore client started, project=%s offline=%s/%s online=%s/%s",
		projectName, client.offline.Type, client.offline.Name, client.online.Type, client.online.Name)

	return &client, nil
}

// NewFeatureStoreClientFromConfig builds a client from a repo config file and
// registers its definitions. opts are applied after the config.
func NewFeatureStoreClientFromConfig(path string, opts ...ClientOption) (*FeatureStoreClient, error) {
	config, err := LoadRepoConfig(path)
	if err != nil {
		return nil, err
	}
	client, err := NewFeatureStoreClient(config.Project, append(OptionsFromConfig(config), opts...)...)
	if err != nil {
		return nil, err
	}
	if err := config.Apply(client); err != nil {
		client.Close(context.Background())
		return nil, err
	}
	return client, nil
}

// Validate check the FeatureStoreClient value
func (c *FeatureStoreClient) Validate() error {
	switch c.offline.Type {
	case constants.Datasource_Type_Memory, constants.Datasource_Type_Sqlite,
		constants.Datasource_Type_MySQL, constants.Datasource_Type_Hologres:
	default:
		return fmt.Errorf("offline store type %q is not supported", c.offline.Type)
	}
	switch c.online.Type {
	case "", constants.Datasource_Type_Memory, constants.Datasource_Type_Sqlite,
		constants.Datasource_Type_MySQL, constants.Datasource_Type_Hologres, constants.Datasource_Type_Redis:
	default:
		return fmt.Errorf("online store type %q is not supported", c.online.Type)
	}
	if c.offline.Name == "" || (c.online.Type != "" && c.online.Name == "") {
		return errors.New("datasource name is empty")
	}
	return nil
}

func registerDatasource(ds api.Datasource) error {
	switch ds.Type {
	case constants.Datasource_Type_Memory:
		memory.RegisterMemory(ds.Name)
		return nil
	case constants.Datasource_Type_Sqlite:
		return sqlite.RegisterSqlite(ds.Name, ds.GenerateDSN(ds.Type))
	case constants.Datasource_Type_MySQL:
		return mysql.RegisterMySQL(ds.Name, mysql.GenerateDSN(ds.User, ds.Pwd, ds.Address, ds.Database))
	case constants.Datasource_Type_Hologres:
		return hologres.RegisterHologres(ds.Name, ds.GenerateDSN(ds.Type))
	case constants.Datasource_Type_Redis:
		return redis.RegisterRedis(ds.Name, ds.Address, ds.Pwd, ds.DB)
	}
	return fmt.Errorf("unknown datasource type %q", ds.Type)
}

func (c *FeatureStoreClient) GetProject(name string) (*domain.Project, error) {
	if name == c.projectName {
		return c.project, nil
	}

	return nil, fmt.Errorf("not found project, name:%s", name)
}

func (c *FeatureStoreClient) RegisterFeatureEntity(entity *api.FeatureEntity) error {
	return c.track(usageApply, func() error {
		return c.project.RegisterFeatureEntity(entity)
	})
}

func (c *FeatureStoreClient) RegisterFeatureView(view *api.FeatureView) error {
	return c.track(usageApply, func() error {
		return c.project.RegisterFeatureView(view)
	})
}

func (c *FeatureStoreClient) RegisterOnDemandFeatureView(view *api.OnDemandFeatureView) error {
	return c.track(usageApply, func() error {
		return c.project.RegisterOnDemandFeatureView(view)
	})
}

func (c *FeatureStoreClient) RegisterModel(model *api.Model) error {
	return c.track(usageApply, func() error {
		return c.project.RegisterModel(model)
	})
}

func (c *FeatureStoreClient) strategy() string {
	if !c.pushdown {
		return constants.Retrieval_Strategy_Memory
	}
	return ""
}

// GetHistoricalFeatures joins features as of every spine row. features are
// "view:feature", "view:*" or bare on demand output names. The returned job
// runs on its first read.
func (c *FeatureStoreClient) GetHistoricalFeatures(source domain.EntitySource, features []string, fullFeatureNames bool) (*domain.RetrievalJob, error) {
	var job *domain.RetrievalJob
	err := c.track(usageGetHistoricalFeatures, func() error {
		refs, err := api.ParseFeatureRefs(features)
		if err != nil {
			return err
		}
		job, err = domain.GetHistoricalFeatures(c.project, source, refs, fullFeatureNames, c.strategy())
		return err
	})
	return job, err
}

func (c *FeatureStoreClient) GetOnlineFeatures(ctx context.Context, features []string, entityRows []map[string]interface{}, fullFeatureNames bool) (*domain.OnlineResponse, error) {
	var response *domain.OnlineResponse
	err := c.track(usageGetOnlineFeatures, func() error {
		refs, err := api.ParseFeatureRefs(features)
		if err != nil {
			return err
		}
		response, err = domain.GetOnlineFeatures(ctx, c.project, refs, entityRows, fullFeatureNames, c.now())
		return err
	})
	return response, err
}

func (c *FeatureStoreClient) GetHistoricalFeaturesByModel(modelName string, source domain.EntitySource, fullFeatureNames bool) (*domain.RetrievalJob, error) {
	var job *domain.RetrievalJob
	err := c.track(usageGetHistoricalFeatures, func() error {
		model, err := c.getModel(modelName)
		if err != nil {
			return err
		}
		job, err = model.GetHistoricalFeatures(source, fullFeatureNames, c.strategy())
		return err
	})
	return job, err
}

func (c *FeatureStoreClient) GetOnlineFeaturesByModel(ctx context.Context, modelName string, entityRows []map[string]interface{}, fullFeatureNames bool) (*domain.OnlineResponse, error) {
	var response *domain.OnlineResponse
	err := c.track(usageGetOnlineFeatures, func() error {
		model, err := c.getModel(modelName)
		if err != nil {
			return err
		}
		response, err = model.GetOnlineFeatures(ctx, entityRows, fullFeatureNames, c.now())
		return err
	})
	return response, err
}

func (c *FeatureStoreClient) getModel(name string) (*domain.Model, error) {
	model := c.project.GetModel(name)
	if model == nil {
		return nil, &api.FeatureNotFoundError{Ref: name, Reason: "model not registered"}
	}
	return model, nil
}

// Materialize loads [start, end] of the named feature views, or of every
// online view when none are named, into the online store. Results are
// returned even when some keys failed; the error then joins the failures.
func (c *FeatureStoreClient) Materialize(ctx context.Context, start, end time.Time, views ...string) ([]*domain.MaterializeResult, error) {
	var results []*domain.MaterializeResult
	err := c.track(usageMaterialize, func() error {
		selected, err := c.selectViews(views)
		if err != nil {
			return err
		}
		results, err = c.materializer.Materialize(ctx, selected, start, end)
		if err != nil {
			return err
		}
		return c.reportMaterialized(results)
	})
	return results, err
}

// MaterializeIncremental continues every view from the end of its last
// complete run up to end.
func (c *FeatureStoreClient) MaterializeIncremental(ctx context.Context, end time.Time, views ...string) ([]*domain.MaterializeResult, error) {
	var results []*domain.MaterializeResult
	err := c.track(usageMaterializeIncremental, func() error {
		selected, err := c.selectViews(views)
		if err != nil {
			return err
		}
		results, err = c.materializer.MaterializeIncremental(ctx, selected, end)
		if err != nil {
			return err
		}
		return c.reportMaterialized(results)
	})
	return results, err
}

func (c *FeatureStoreClient) selectViews(names []string) ([]domain.FeatureView, error) {
	if len(names) == 0 {
		return c.project.ListFeatureViews(), nil
	}
	views := make([]domain.FeatureView, 0, len(names))
	for _, name := range names {
		view := c.project.GetFeatureView(name)
		if view == nil {
			return nil, &api.FeatureNotFoundError{Ref: name, Reason: "feature view not registered"}
		}
		views = append(views, view)
	}
	return views, nil
}

func (c *FeatureStoreClient) reportMaterialized(results []*domain.MaterializeResult) error {
	var err error
	for _, r := range results {
		c.logf("materialized feature view %s [%s, %s] records=%d written=%d failed=%d",
			r.FeatureView, r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339), r.Records, r.Written, len(r.Failed))
		err = multierr.Append(err, r.Err())
	}
	return err
}

// Close flushes pending usage events.
func (c *FeatureStoreClient) Close(ctx context.Context) error {
	return c.usage.Close(ctx)
}

// track reports a call to the usage reporter. Reporter errors only surface
// in usage test mode.
func (c *FeatureStoreClient) track(functionName string, f func() error) error {
	if err := c.usage.LogCall(functionName); err != nil {
		c.logError(fmt.Errorf("usage error, function=%s err=%v", functionName, err))
		return err
	}
	err := f()
	if err == nil {
		return nil
	}
	c.logError(fmt.Errorf("%s error, err=%v", functionName, err))
	return multierr.Append(err, c.usage.LogException(functionName, err))
}

func (c *FeatureStoreClient) logf(format string, v ...interface{}) {
	if c.Logger != nil {
		c.Logger.Printf(format, v...)
	}
}

func (c *FeatureStoreClient) logError(err error) {
	if c.ErrorLogger != nil {
		c.ErrorLogger.Printf("%v", err)
		return
	}

	if c.Logger != nil {
		c.Logger.Printf("%v", err)
	}
}
