package dynamodb

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/dagflow/registry"
	"github.com/warriorguo/dagflow/types"
)

var (
	_ registry.Registry = &Registry{}
)

const (
	connectionKey = "conn_id"
	variableKey   = "id"
)

// Client is the slice of the DynamoDB API the registry uses.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

/**
 * Registry reads the connections and variables tables a deployed unit is
 * granted. Items are keyed "<namespace>/<key>" so one table pair serves
 * every environment of a project.
 */
type Registry struct {
	client           Client
	connectionsTable string
	variablesTable   string
}

func New(client Client, connectionsTable, variablesTable string) *Registry {
	return &Registry{
		client:           client,
		connectionsTable: connectionsTable,
		variablesTable:   variablesTable,
	}
}

// NewFromOptions builds a client from the DynamoDB option block. The default
// credential chain is used unless static keys are configured.
func NewFromOptions(ctx context.Context, opts *types.FlowOptions) (*Registry, error) {
	cfg := opts.DynamoDBConfig
	if cfg == nil {
		return nil, errors.BadRequestf("dynamodb config is nil")
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKey == "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			log.Infof("load default aws config failed: %v", err)
			return nil, errors.Trace(err)
		}
	} else {
		awsCfg = *aws.NewConfig()
		awsCfg.Region = cfg.Region
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretAccessKey, "")
	}

	var optFns []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		optFns = append(optFns, func(o *dynamodb.Options) {
			o.EndpointResolver = dynamodb.EndpointResolverFromURL(cfg.Endpoint)
		})
	}
	client := dynamodb.NewFromConfig(awsCfg, optFns...)
	return New(client, opts.ConnectionsTable, opts.VariablesTable), nil
}

func itemKey(namespace, key string) string {
	return namespace + "/" + key
}

func (r *Registry) GetConnection(ctx context.Context, namespace, key string) (*registry.Connection, error) {
	item, err := r.getItem(ctx, r.connectionsTable, connectionKey, itemKey(namespace, key))
	if err != nil {
		return nil, errors.Annotatef(err, "connection %s/%s", namespace, key)
	}
	conn := &registry.Connection{}
	if err := attributevalue.UnmarshalMap(item, conn); err != nil {
		return nil, errors.Annotatef(err, "decode connection %s/%s", namespace, key)
	}
	return conn, nil
}

func (r *Registry) GetVariable(ctx context.Context, namespace, key string) (*registry.Variable, error) {
	item, err := r.getItem(ctx, r.variablesTable, variableKey, itemKey(namespace, key))
	if err != nil {
		return nil, errors.Annotatef(err, "variable %s/%s", namespace, key)
	}
	v := &registry.Variable{}
	if err := attributevalue.UnmarshalMap(item, v); err != nil {
		return nil, errors.Annotatef(err, "decode variable %s/%s", namespace, key)
	}
	v.ID = key
	return v, nil
}

func (r *Registry) getItem(ctx context.Context, table, keyName, keyValue string) (map[string]ddbtypes.AttributeValue, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key: map[string]ddbtypes.AttributeValue{
			keyName: &ddbtypes.AttributeValueMemberS{Value: keyValue},
		},
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, errors.NotFoundf("item %s=%q in table %s", keyName, keyValue, table)
	}
	return out.Item, nil
}

func (r *Registry) SetConnection(ctx context.Context, namespace, key string, conn *registry.Connection) error {
	item, err := attributevalue.MarshalMap(conn)
	if err != nil {
		return errors.Trace(err)
	}
	item[connectionKey] = &ddbtypes.AttributeValueMemberS{Value: itemKey(namespace, key)}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.connectionsTable),
		Item:      item,
	})
	return errors.Annotatef(err, "put connection %s/%s", namespace, key)
}

func (r *Registry) SetVariable(ctx context.Context, namespace string, v *registry.Variable) error {
	if v.ID == "" {
		return errors.BadRequestf("variable without id")
	}
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return errors.Trace(err)
	}
	item[variableKey] = &ddbtypes.AttributeValueMemberS{Value: itemKey(namespace, v.ID)}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.variablesTable),
		Item:      item,
	})
	return errors.Annotatef(err, "put variable %s/%s", namespace, v.ID)
}
