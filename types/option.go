package types

import (
	"context"
	"time"

	"github.com/mcuadros/go-defaults"
)

func NewFlowOptions() *FlowOptions {
	opts := &FlowOptions{Ctx: context.Background()}
	defaults.SetDefaults(opts)
	return opts
}

/**
 * FlowOptions is threaded explicitly through the validator, the engine
 * and the compiler. Nothing reads it from package state.
 */
type FlowOptions struct {
	Ctx context.Context `toml:"-"`
	/**
	 * default: dev
	 * the target environment, also the default registry namespace.
	 */
	Environment string `default:"dev" toml:"environment"`
	/**
	 * default: 64
	 * the flowengine will run at most this many nodes at once across all runs.
	 */
	MaxNodeConcurrency int `default:"64" toml:"max-node-concurrency"`
	/**
	 * applied to nodes without their own retry policy.
	 */
	DefaultRetry RetryPolicy `toml:"default-retry"`
	/**
	 * default: false, cache registry lookups for the lifetime of one run.
	 * Entries are never shared between runs.
	 */
	CacheRegistryPerRun bool `default:"false" toml:"cache-registry-per-run"`
	/**
	 * default: false, write node trace records to the store.
	 */
	ArchiveRuns bool `default:"false" toml:"archive-runs"`
	/**
	 * default: 10m, how long finished runs stay queryable in memory.
	 */
	RunRetention time.Duration `default:"10m" toml:"run-retention"`

	ConnectionsTable string `default:"dagflow_connections" toml:"connections-table"`
	VariablesTable   string `default:"dagflow_variables" toml:"variables-table"`
	// FunctionTimeout is the platform timeout of a deployed DAG, in seconds.
	FunctionTimeout int    `default:"900" toml:"function-timeout"`
	FunctionMemory  int    `default:"512" toml:"function-memory"`
	CodeURI         string `default:"out/" toml:"code-uri"`

	/**
	 * default: false, only set it to true when doing testing or developing.
	 */
	MemStore bool `default:"false" toml:"mem-store"`

	// PostgreSQL store configuration
	// PostgresConfig takes precedence over BadgerConfig and MemStore
	PostgresConfig *PostgresConfig `toml:"postgres"`
	BadgerConfig   *BadgerConfig   `toml:"badger"`
	// DynamoDBConfig serves the registry straight from the deployed tables.
	DynamoDBConfig *DynamoDBConfig `toml:"dynamodb"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"` // disable, require, verify-ca, verify-full
}

type BadgerConfig struct {
	Path     string `toml:"path"`
	InMemory bool   `toml:"in-memory"`
}

type DynamoDBConfig struct {
	Region   string `toml:"region"`
	Endpoint string `toml:"endpoint"`
	// static credentials, the default chain is used when empty
	AccessKey       string `toml:"access-key"`
	SecretAccessKey string `toml:"secret-access-key"`
}

type FlowOption func(*FlowOptions)

func WithContext(ctx context.Context) FlowOption {
	return func(opts *FlowOptions) {
		opts.Ctx = ctx
	}
}

func WithEnvironment(env string) FlowOption {
	return func(opts *FlowOptions) {
		opts.Environment = env
	}
}

func SetMaxNodeConcurrency(concurrency int) FlowOption {
	return func(opts *FlowOptions) {
		opts.MaxNodeConcurrency = concurrency
	}
}

func WithDefaultRetry(policy RetryPolicy) FlowOption {
	return func(opts *FlowOptions) {
		opts.DefaultRetry = policy
	}
}

func EnableRegistryCache() FlowOption {
	return func(opts *FlowOptions) {
		opts.CacheRegistryPerRun = true
	}
}

func EnableRunArchive() FlowOption {
	return func(opts *FlowOptions) {
		opts.ArchiveRuns = true
	}
}

func EnableMemStore() FlowOption {
	return func(opts *FlowOptions) {
		opts.MemStore = true
	}
}

// WithPostgresConfig configures the flow engine to use PostgreSQL store
func WithPostgresConfig(config *PostgresConfig) FlowOption {
	return func(opts *FlowOptions) {
		opts.PostgresConfig = config
	}
}

func WithBadgerConfig(config *BadgerConfig) FlowOption {
	return func(opts *FlowOptions) {
		opts.BadgerConfig = config
	}
}

func WithDynamoDBConfig(config *DynamoDBConfig) FlowOption {
	return func(opts *FlowOptions) {
		opts.DynamoDBConfig = config
	}
}

func WithTables(connections, variables string) FlowOption {
	return func(opts *FlowOptions) {
		opts.ConnectionsTable = connections
		opts.VariablesTable = variables
	}
}
