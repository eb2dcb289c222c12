package dynamodb

import (
	"context"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warriorguo/dagflow/registry"
	"github.com/warriorguo/dagflow/types"
)

type fakeClient struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]ddbtypes.AttributeValue
	err    error
}

func newFakeClient() *fakeClient {
	return &fakeClient{tables: make(map[string]map[string]map[string]ddbtypes.AttributeValue)}
}

func keyOf(key map[string]ddbtypes.AttributeValue) string {
	for _, name := range []string{connectionKey, variableKey} {
		if s, ok := key[name].(*ddbtypes.AttributeValueMemberS); ok {
			return s.Value
		}
	}
	return ""
}

func (f *fakeClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	item := f.tables[aws.ToString(params.TableName)][keyOf(params.Key)]
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	table := aws.ToString(params.TableName)
	if f.tables[table] == nil {
		f.tables[table] = make(map[string]map[string]ddbtypes.AttributeValue)
	}
	f.tables[table][keyOf(params.Item)] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func TestDynamoDBRegistry(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	r := New(client, "conns", "vars")

	require.Nil(t, r.SetConnection(ctx, "dev", "warehouse", &registry.Connection{
		ConnType: "postgres", Host: "db", Port: 5432, Extra: map[string]any{"sslmode": "require"},
	}))
	require.Nil(t, r.SetVariable(ctx, "dev", &registry.Variable{ID: "limit", Type: registry.VariableNumber, Contents: "10"}))
	assert.Contains(t, client.tables["conns"], "dev/warehouse")
	assert.Contains(t, client.tables["vars"], "dev/limit")

	conn, err := r.GetConnection(ctx, "dev", "warehouse")
	assert.Nil(t, err)
	assert.Equal(t, "postgres", conn.ConnType)
	assert.Equal(t, 5432, conn.Port)
	assert.Equal(t, "require", conn.Extra["sslmode"])

	v, err := r.GetVariable(ctx, "dev", "limit")
	assert.Nil(t, err)
	assert.Equal(t, "limit", v.ID)
	value, err := v.Value()
	assert.Nil(t, err)
	assert.Equal(t, int64(10), value)

	_, err = r.GetConnection(ctx, "prod", "warehouse")
	assert.True(t, errors.Is(err, errors.NotFound))
	_, err = r.GetVariable(ctx, "dev", "missing")
	assert.True(t, errors.Is(err, errors.NotFound))

	assert.NotNil(t, r.SetVariable(ctx, "dev", &registry.Variable{}))
}

func TestDynamoDBRegistryClientError(t *testing.T) {
	client := newFakeClient()
	client.err = errors.New("throttled")
	r := New(client, "conns", "vars")

	_, err := r.GetConnection(context.Background(), "dev", "warehouse")
	assert.NotNil(t, err)
	assert.False(t, errors.Is(err, errors.NotFound))
	assert.Contains(t, err.Error(), "throttled")
}

func TestNewFromOptions(t *testing.T) {
	opts := types.NewFlowOptions()
	_, err := NewFromOptions(context.Background(), opts)
	assert.NotNil(t, err)

	types.WithDynamoDBConfig(&types.DynamoDBConfig{
		Region:          "us-east-1",
		Endpoint:        "http://localhost:8000",
		AccessKey:       "key",
		SecretAccessKey: "secret",
	})(opts)
	r, err := NewFromOptions(context.Background(), opts)
	assert.Nil(t, err)
	assert.Equal(t, "dagflow_connections", r.connectionsTable)
	assert.Equal(t, "dagflow_variables", r.variablesTable)
}
