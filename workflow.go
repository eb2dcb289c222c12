package dagflow

import (
	"context"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/dagflow/compiler"
	"github.com/warriorguo/dagflow/definition"
	"github.com/warriorguo/dagflow/functions"
	"github.com/warriorguo/dagflow/registry"
	"github.com/warriorguo/dagflow/registry/dynamodb"
	"github.com/warriorguo/dagflow/runtime"
	"github.com/warriorguo/dagflow/store"
	"github.com/warriorguo/dagflow/store/badger"
	"github.com/warriorguo/dagflow/store/mem"
	"github.com/warriorguo/dagflow/store/postgres"
	"github.com/warriorguo/dagflow/types"
	"go.uber.org/multierr"
)

// NewFlowEngine creates a new flow engine with the given options. Closing
// the engine also closes the store it opened.
func NewFlowEngine(opts ...types.FlowOption) (types.FlowEngine, error) {
	options := types.NewFlowOptions()
	for _, opt := range opts {
		opt(options)
	}
	return NewFlowEngineWithOptions(options)
}

// NewFlowEngineWithOptions is NewFlowEngine for options loaded as a whole,
// e.g. by config.Load.
func NewFlowEngineWithOptions(options *types.FlowOptions) (types.FlowEngine, error) {
	ctx := options.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := NewStore(ctx, options)
	if err != nil {
		return nil, err
	}
	reg, err := NewRegistry(ctx, options, s)
	if err != nil {
		return nil, multierr.Append(err, store.Close(s))
	}
	return &flowEngine{FlowEngine: runtime.NewFlowEngine(s, reg, options), store: s}, nil
}

/**
 * NewStore picks the store behind the registry and the run archive.
 * PostgresConfig takes precedence over BadgerConfig, the in-memory store
 * is the fallback.
 */
func NewStore(ctx context.Context, options *types.FlowOptions) (store.Store, error) {
	switch {
	case options.PostgresConfig != nil:
		s, err := postgres.NewPostgresStore(ctx, postgres.FromOptions(options.PostgresConfig))
		if err != nil {
			return nil, errors.Annotatef(err, "failed to create PostgreSQL store")
		}
		return s, nil
	case options.BadgerConfig != nil:
		s, err := badger.NewBadgerStore(options.BadgerConfig)
		if err != nil {
			return nil, errors.Annotatef(err, "failed to create badger store")
		}
		return s, nil
	default:
		if !options.MemStore {
			log.Debugf("no store configured, runs and registry entries stay in memory")
		}
		return mem.NewMemStore(), nil
	}
}

// NewRegistry reads the deployed DynamoDB tables when configured, otherwise
// the entries kept in s.
func NewRegistry(ctx context.Context, options *types.FlowOptions, s store.Store) (registry.Registry, error) {
	if options.DynamoDBConfig != nil {
		reg, err := dynamodb.NewFromOptions(ctx, options)
		if err != nil {
			return nil, errors.Annotatef(err, "failed to create DynamoDB registry")
		}
		return reg, nil
	}
	return registry.NewStoreRegistry(s), nil
}

func NewCompiler(opts ...types.FlowOption) *compiler.Compiler {
	options := types.NewFlowOptions()
	for _, opt := range opts {
		opt(options)
	}
	return compiler.New(options)
}

// NewCatalog returns a catalog holding the builtin functions, dag.invoke
// runs on engine.
func NewCatalog(engine types.FlowEngine) (*definition.Catalog, error) {
	catalog := definition.NewCatalog()
	if err := catalog.RegisterAll(functions.Builtins(engine)); err != nil {
		return nil, errors.Trace(err)
	}
	return catalog, nil
}

/**
 * RegisterDefinitions binds and registers every active definition. Failures
 * of all definitions are reported together and nothing is skipped silently:
 * a DAG that fails to bind is not registered.
 */
func RegisterDefinitions(engine types.FlowEngine, catalog *definition.Catalog, defs []*definition.Definition) error {
	var errs error
	for _, dag := range definition.ActiveDAGs(defs) {
		if err := catalog.Bind(dag); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if err := engine.RegisterDAG(dag); err != nil {
			errs = multierr.Append(errs, errors.Annotatef(err, "register dag %s", dag.Name))
		}
	}
	return errs
}

type flowEngine struct {
	types.FlowEngine
	store store.Store
}

func (e *flowEngine) Close(ctx context.Context) error {
	err := e.FlowEngine.Close(ctx)
	return multierr.Append(err, store.Close(e.store))
}
