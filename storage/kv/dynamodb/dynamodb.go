// Package dynamodb provides the DynamoDB backend adapter. A namespace
// is a table; every item carries three attributes: the partition key
// item_partition (the root key behind a tag byte), the sort key
// item_key and the payload item_value. The reserved partition 0x01
// registers every root key written in the namespace.
//
// The adapter exposes DynamoDB's native constraint table and nothing
// more: oversized values and multi-chunk batches are the business of
// the layers stacked above it.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/Mu-L/linera-protocol/storage/kv"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Item attribute names.
const (
	attrPartition = "item_partition"
	attrKey       = "item_key"
	attrValue     = "item_value"
)

// EndpointEnv overrides the service endpoint, typically pointing at a
// DynamoDB Local container.
const EndpointEnv = "DYNAMODB_LOCAL_ENDPOINT"

// DefaultMaxConcurrentQueries bounds in-flight requests when the
// configuration leaves the limit unset.
const DefaultMaxConcurrentQueries = 10

// Partition tags. Data partitions prepend tagData to the root key;
// the one-byte tagRootKeys partition registers root keys.
const (
	tagData     = byte(0)
	tagRootKeys = byte(1)
)

// DefaultLimits is DynamoDB's native constraint table: 1 KiB sort
// keys, 400 KiB items, 100 items / 4 MB per transaction.
func DefaultLimits() kv.Limits {
	return kv.Limits{
		MaxKeySize:         1024,
		MaxValueSize:       409600,
		MaxInlineValueSize: 409600,
		MaxBatchItems:      100,
		MaxBatchBytes:      4_000_000,
	}
}

var namespaceRegexp = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// CheckNamespace validates a namespace against DynamoDB's table
// naming rules.
func CheckNamespace(namespace string) error {
	if len(namespace) < 3 || len(namespace) > 255 || !namespaceRegexp.MatchString(namespace) {
		return fmt.Errorf("%w: %q", kv.ErrInvalidNamespace, namespace)
	}

	return nil
}

// Config carries the adapter configuration on top of the common
// storage configuration.
type Config struct {
	kv.Config

	// Endpoint overrides the service endpoint. Empty means the
	// EndpointEnv variable, then the regular AWS endpoint resolution.
	Endpoint string
}

func (c Config) endpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}

	return os.Getenv(EndpointEnv)
}

func (c Config) maxConcurrentQueries() int64 {
	if c.MaxConcurrentQueries <= 0 {
		return DefaultMaxConcurrentQueries
	}

	return int64(c.MaxConcurrentQueries)
}

// Database is a DynamoDB namespace.
type Database struct {
	client    *dynamodb.Client
	namespace string
	config    Config
	limits    kv.Limits

	// gate bounds the number of in-flight requests across all stores
	// of this namespace.
	gate *semaphore.Weighted
}

var _ kv.Database = (*Database)(nil)

// Connect builds a client from the ambient AWS configuration and
// returns the database for the given namespace. The namespace's table
// must already exist; see CreateNamespace.
func Connect(ctx context.Context, config Config, namespace string) (*Database, error) {
	if err := CheckNamespace(namespace); err != nil {
		return nil, err
	}

	client, err := newClient(ctx, config)

	if err != nil {
		return nil, err
	}

	return &Database{
		client:    client,
		namespace: namespace,
		config:    config,
		limits:    DefaultLimits(),
		gate:      semaphore.NewWeighted(config.maxConcurrentQueries()),
	}, nil
}

func newClient(ctx context.Context, config Config) (*dynamodb.Client, error) {
	awsConfig, err := awsconfig.LoadDefaultConfig(ctx)

	if err != nil {
		return nil, &kv.BackendError{Op: "LoadConfig", Err: err}
	}

	return dynamodb.NewFromConfig(awsConfig, func(options *dynamodb.Options) {
		if endpoint := config.endpoint(); endpoint != "" {
			options.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// Namespace returns the table name.
func (db *Database) Namespace() string {
	return db.namespace
}

// Limits returns the native constraint table.
func (db *Database) Limits() kv.Limits {
	return db.limits
}

// Open implements kv.Database.Open.
func (db *Database) Open(rootKey []byte) (kv.Store, error) {
	partition := append([]byte{tagData}, rootKey...)

	if len(partition) > db.limits.MaxKeySize {
		return nil, kv.ErrKeyTooLong
	}

	return &store{db: db, partition: partition}, nil
}

// ListRootKeys implements kv.Database.ListRootKeys.
func (db *Database) ListRootKeys(ctx context.Context) ([][]byte, error) {
	var rootKeys [][]byte

	err := db.queryPartition(ctx, []byte{tagRootKeys}, nil, false, func(item map[string]types.AttributeValue) error {
		registered, err := binaryAttribute(item, attrKey)

		if err != nil {
			return err
		}

		// Registered keys carry the data partition tag in front.
		rootKeys = append(rootKeys, registered[1:])

		return nil
	})

	if err != nil {
		return nil, err
	}

	return rootKeys, nil
}

// acquire admits one request through the concurrency gate.
func (db *Database) acquire(ctx context.Context) error {
	if err := db.gate.Acquire(ctx, 1); err != nil {
		return &kv.BackendError{Op: "Acquire", Err: err}
	}

	return nil
}

// queryPartition pages through one partition, optionally constrained
// to a key prefix, invoking visit for every item. Pages are bounded by
// the configured stream batch size.
func (db *Database) queryPartition(
	ctx context.Context,
	partition []byte,
	prefix []byte,
	withValues bool,
	visit func(item map[string]types.AttributeValue) error,
) error {
	keyCondition := "#p = :partition"
	names := map[string]string{"#p": attrPartition, "#k": attrKey}
	values := map[string]types.AttributeValue{
		":partition": &types.AttributeValueMemberB{Value: partition},
	}

	if len(prefix) > 0 {
		keyCondition += " AND begins_with(#k, :prefix)"
		values[":prefix"] = &types.AttributeValueMemberB{Value: prefix}
	}

	projection := "#k"

	if withValues {
		names["#v"] = attrValue
		projection = "#k, #v"
	}

	var startKey map[string]types.AttributeValue

	for {
		if err := db.acquire(ctx); err != nil {
			return err
		}

		page, err := db.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(db.namespace),
			KeyConditionExpression:    aws.String(keyCondition),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
			ProjectionExpression:      aws.String(projection),
			Limit:                     aws.Int32(int32(db.config.EffectiveStreamBatchSize())),
			ConsistentRead:            aws.Bool(true),
			ExclusiveStartKey:         startKey,
		})

		db.gate.Release(1)

		if err != nil {
			return &kv.BackendError{Op: "Query", Err: err}
		}

		for _, item := range page.Items {
			if err := visit(item); err != nil {
				return err
			}
		}

		if page.LastEvaluatedKey == nil {
			return nil
		}

		startKey = page.LastEvaluatedKey
	}
}

// binaryAttribute extracts a binary attribute, reporting a mistyped or
// missing one as corruption.
func binaryAttribute(item map[string]types.AttributeValue, name string) ([]byte, error) {
	attribute, ok := item[name]

	if !ok {
		return nil, &kv.CorruptionError{Reason: fmt.Sprintf("item is missing the %s attribute", name)}
	}

	binary, ok := attribute.(*types.AttributeValueMemberB)

	if !ok {
		return nil, &kv.CorruptionError{Reason: fmt.Sprintf("the %s attribute is not binary", name)}
	}

	return binary.Value, nil
}

type store struct {
	db        *Database
	partition []byte

	registered atomic.Bool
}

var _ kv.Store = (*store)(nil)

func (s *store) Limits() kv.Limits {
	return s.db.limits
}

func (s *store) itemKey(key []byte) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPartition: &types.AttributeValueMemberB{Value: s.partition},
		attrKey:       &types.AttributeValueMemberB{Value: key},
	}
}

func (s *store) getItem(ctx context.Context, key []byte, withValue bool) (map[string]types.AttributeValue, error) {
	if err := s.db.acquire(ctx); err != nil {
		return nil, err
	}

	defer s.db.gate.Release(1)

	projection := "#k"
	names := map[string]string{"#k": attrKey}

	if withValue {
		projection = "#v"
		names = map[string]string{"#v": attrValue}
	}

	output, err := s.db.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(s.db.namespace),
		Key:                      s.itemKey(key),
		ProjectionExpression:     aws.String(projection),
		ExpressionAttributeNames: names,
		ConsistentRead:           aws.Bool(true),
	})

	if err != nil {
		return nil, &kv.BackendError{Op: "GetItem", Err: err}
	}

	return output.Item, nil
}

func (s *store) ReadValue(ctx context.Context, key []byte) ([]byte, error) {
	if err := s.db.limits.CheckKey(key); err != nil {
		return nil, err
	}

	item, err := s.getItem(ctx, key, true)

	if err != nil {
		return nil, err
	}

	if item == nil {
		return nil, nil
	}

	value, err := binaryAttribute(item, attrValue)

	if err != nil {
		return nil, &kv.CorruptionError{Key: key, Reason: err.Error()}
	}

	return value, nil
}

func (s *store) ContainsKey(ctx context.Context, key []byte) (bool, error) {
	if err := s.db.limits.CheckKey(key); err != nil {
		return false, err
	}

	item, err := s.getItem(ctx, key, false)

	if err != nil {
		return false, err
	}

	return item != nil, nil
}

func (s *store) ReadMultiValues(ctx context.Context, keys [][]byte) ([][]byte, error) {
	for _, key := range keys {
		if err := s.db.limits.CheckKey(key); err != nil {
			return nil, err
		}
	}

	values := make([][]byte, len(keys))
	group, groupCtx := errgroup.WithContext(ctx)

	for i, key := range keys {
		i, key := i, key

		group.Go(func() error {
			value, err := s.ReadValue(groupCtx, key)

			if err != nil {
				return err
			}

			values[i] = value

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return values, nil
}

func (s *store) ContainsKeys(ctx context.Context, keys [][]byte) ([]bool, error) {
	for _, key := range keys {
		if err := s.db.limits.CheckKey(key); err != nil {
			return nil, err
		}
	}

	found := make([]bool, len(keys))
	group, groupCtx := errgroup.WithContext(ctx)

	for i, key := range keys {
		i, key := i, key

		group.Go(func() error {
			ok, err := s.ContainsKey(groupCtx, key)

			if err != nil {
				return err
			}

			found[i] = ok

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return found, nil
}

func (s *store) FindKeysByPrefix(ctx context.Context, prefix []byte) ([][]byte, error) {
	if err := s.db.limits.CheckPrefix(prefix); err != nil {
		return nil, err
	}

	var found [][]byte

	err := s.db.queryPartition(ctx, s.partition, prefix, false, func(item map[string]types.AttributeValue) error {
		key, err := binaryAttribute(item, attrKey)

		if err != nil {
			return err
		}

		found = append(found, key)

		return nil
	})

	if err != nil {
		return nil, err
	}

	return found, nil
}

func (s *store) FindKeyValuesByPrefix(ctx context.Context, prefix []byte) ([]kv.KeyValue, error) {
	if err := s.db.limits.CheckPrefix(prefix); err != nil {
		return nil, err
	}

	var found []kv.KeyValue

	err := s.db.queryPartition(ctx, s.partition, prefix, true, func(item map[string]types.AttributeValue) error {
		key, err := binaryAttribute(item, attrKey)

		if err != nil {
			return err
		}

		value, err := binaryAttribute(item, attrValue)

		if err != nil {
			return &kv.CorruptionError{Key: key, Reason: err.Error()}
		}

		found = append(found, kv.KeyValue{Key: key, Value: value})

		return nil
	})

	if err != nil {
		return nil, err
	}

	return found, nil
}

func (s *store) WriteBatch(ctx context.Context, batch *kv.Batch) error {
	chunks, err := batch.Chunks(s.db.limits)

	if err != nil {
		return err
	}

	if len(chunks) == 0 {
		return nil
	}

	if err := s.registerRootKey(ctx); err != nil {
		return err
	}

	// Chunks are issued sequentially, each one atomic and durable
	// before the next. A failure leaves a prefix of the chunks
	// applied, which the journaling layer above knows how to recover.
	for _, chunk := range chunks {
		if err := s.writeSubTransaction(ctx, chunk); err != nil {
			return err
		}
	}

	return nil
}

func (s *store) writeSubTransaction(ctx context.Context, chunk []kv.Op) error {
	items := make([]types.TransactWriteItem, len(chunk))

	for i, op := range chunk {
		switch op.Kind {
		case kv.OpPut:
			item := s.itemKey(op.Key)
			item[attrValue] = &types.AttributeValueMemberB{Value: op.Value}
			items[i] = types.TransactWriteItem{
				Put: &types.Put{
					TableName: aws.String(s.db.namespace),
					Item:      item,
				},
			}
		case kv.OpDelete:
			items[i] = types.TransactWriteItem{
				Delete: &types.Delete{
					TableName: aws.String(s.db.namespace),
					Key:       s.itemKey(op.Key),
				},
			}
		}
	}

	if err := s.db.acquire(ctx); err != nil {
		return err
	}

	defer s.db.gate.Release(1)

	_, err := s.db.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})

	if err != nil {
		return &kv.BackendError{Op: "TransactWriteItems", Err: err}
	}

	return nil
}

// registerRootKey records this store's root key in the reserved
// partition on the first write, so that ListRootKeys can enumerate it.
// Registration is idempotent, so racing writers are harmless.
func (s *store) registerRootKey(ctx context.Context) error {
	if s.registered.Load() {
		return nil
	}

	if err := s.db.acquire(ctx); err != nil {
		return err
	}

	defer s.db.gate.Release(1)

	_, err := s.db.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.db.namespace),
		Item: map[string]types.AttributeValue{
			attrPartition: &types.AttributeValueMemberB{Value: []byte{tagRootKeys}},
			attrKey:       &types.AttributeValueMemberB{Value: s.partition},
		},
	})

	if err != nil {
		return &kv.BackendError{Op: "PutItem", Err: err}
	}

	s.registered.Store(true)

	return nil
}

// CreateNamespace creates the table backing a namespace and waits
// until it is active.
func CreateNamespace(ctx context.Context, config Config, namespace string) error {
	if err := CheckNamespace(namespace); err != nil {
		return err
	}

	client, err := newClient(ctx, config)

	if err != nil {
		return err
	}

	_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(namespace),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrPartition), AttributeType: types.ScalarAttributeTypeB},
			{AttributeName: aws.String(attrKey), AttributeType: types.ScalarAttributeTypeB},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrPartition), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(attrKey), KeyType: types.KeyTypeRange},
		},
		ProvisionedThroughput: &types.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(10),
			WriteCapacityUnits: aws.Int64(10),
		},
	})

	if err != nil {
		return &kv.BackendError{Op: "CreateTable", Err: err}
	}

	waiter := dynamodb.NewTableExistsWaiter(client)

	err = waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(namespace),
	}, 2*time.Minute)

	if err != nil {
		return &kv.BackendError{Op: "WaitTableExists", Err: err}
	}

	return nil
}

// DeleteNamespace drops the table backing a namespace.
func DeleteNamespace(ctx context.Context, config Config, namespace string) error {
	if err := CheckNamespace(namespace); err != nil {
		return err
	}

	client, err := newClient(ctx, config)

	if err != nil {
		return err
	}

	_, err = client.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(namespace),
	})

	if err != nil {
		return &kv.BackendError{Op: "DeleteTable", Err: err}
	}

	return nil
}

// NamespaceExists reports whether the table backing a namespace
// exists.
func NamespaceExists(ctx context.Context, config Config, namespace string) (bool, error) {
	if err := CheckNamespace(namespace); err != nil {
		return false, err
	}

	client, err := newClient(ctx, config)

	if err != nil {
		return false, err
	}

	_, err = client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(namespace),
	})

	if err != nil {
		var notFound *types.ResourceNotFoundException

		if errors.As(err, &notFound) {
			return false, nil
		}

		return false, &kv.BackendError{Op: "DescribeTable", Err: err}
	}

	return true, nil
}

// ListNamespaces returns the names of all tables visible to the
// client.
func ListNamespaces(ctx context.Context, config Config) ([]string, error) {
	client, err := newClient(ctx, config)

	if err != nil {
		return nil, err
	}

	var namespaces []string
	var startName *string

	for {
		page, err := client.ListTables(ctx, &dynamodb.ListTablesInput{
			ExclusiveStartTableName: startName,
		})

		if err != nil {
			return nil, &kv.BackendError{Op: "ListTables", Err: err}
		}

		namespaces = append(namespaces, page.TableNames...)

		if page.LastEvaluatedTableName == nil {
			return namespaces, nil
		}

		startName = page.LastEvaluatedTableName
	}
}

// DeleteAllNamespaces drops every table visible to the client. It is
// meant for integration test teardown against DynamoDB Local.
func DeleteAllNamespaces(ctx context.Context, config Config) error {
	namespaces, err := ListNamespaces(ctx, config)

	if err != nil {
		return err
	}

	for _, namespace := range namespaces {
		if err := DeleteNamespace(ctx, config, namespace); err != nil {
			return err
		}
	}

	return nil
}
