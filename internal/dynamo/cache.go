// Package dynamo implements the payload cache backend on a DynamoDB table.
//
// The table needs a string partition key named PK. Enable DynamoDB TTL on the
// "ttl" attribute to have expired entries removed by the service.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/BTreeMap/AskForHelp/internal/cache"
)

const (
	pkPrefix     = "CACHE#"
	attrPK       = "PK"
	attrValue    = "value"
	attrExpires  = "expiresAtMs"
	attrTTL      = "ttl"
	maxTxnDelete = 100

	liveCondition = "attribute_exists(PK) AND (attribute_not_exists(expiresAtMs) OR expiresAtMs > :now)"
)

// dynamodbAPI is the minimal DynamoDB interface required by Cache.
// *dynamodb.Client satisfies it.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Cache is a cache.Backend storing one item per key.
type Cache struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

var _ cache.Backend = (*Cache)(nil)

// New creates a Cache on tableName.
func New(api dynamodbAPI, tableName string) (*Cache, error) {
	if api == nil {
		return nil, errors.New("dynamo: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamo: table name must not be empty")
	}
	return &Cache{api: api, tableName: tableName, now: time.Now}, nil
}

func cachePK(key string) string {
	return pkPrefix + key
}

func keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: cachePK(key)},
	}
}

func (c *Cache) nowValue() types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(c.now().UnixMilli(), 10)}
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	item := map[string]types.AttributeValue{
		attrPK:    &types.AttributeValueMemberS{Value: cachePK(key)},
		attrValue: &types.AttributeValueMemberB{Value: value},
	}
	if !expiresAt.IsZero() {
		item[attrExpires] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt.UnixMilli(), 10)}
		item[attrTTL] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt.Unix(), 10)}
	}
	if _, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("dynamo: Set %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            keyAttr(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo: Get %s: %w", key, err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, cache.ErrMiss
	}
	expired, err := c.expired(out.Item)
	if err != nil {
		return nil, fmt.Errorf("dynamo: Get %s: %w", key, err)
	}
	if expired {
		return nil, cache.ErrMiss
	}
	b, ok := out.Item[attrValue].(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("dynamo: Get %s: attribute %q is not binary", key, attrValue)
	}
	return b.Value, nil
}

// expired reports whether the item's expiry has passed. DynamoDB TTL deletion
// lags, so reads check the timestamp themselves.
func (c *Cache) expired(item map[string]types.AttributeValue) (bool, error) {
	v, ok := item[attrExpires]
	if !ok {
		return false, nil
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return false, fmt.Errorf("attribute %q is not a number", attrExpires)
	}
	ms, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return false, fmt.Errorf("parse attribute %q: %w", attrExpires, err)
	}
	return c.now().UnixMilli() >= ms, nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if _, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(c.tableName),
			Key:       keyAttr(key),
		}); err != nil {
			return fmt.Errorf("dynamo: Delete %s: %w", key, err)
		}
	}
	return nil
}

// Claim deletes key and its siblings in one transaction. The delete of key is
// conditioned on it being live, so exactly one concurrent claimer commits.
func (c *Cache) Claim(ctx context.Context, key string, group []string) (bool, error) {
	siblings := make([]string, 0, len(group))
	seen := map[string]bool{key: true}
	for _, k := range group {
		if !seen[k] {
			seen[k] = true
			siblings = append(siblings, k)
		}
	}
	if len(siblings)+1 > maxTxnDelete {
		return false, fmt.Errorf("dynamo: Claim %s: group of %d exceeds transaction limit", key, len(siblings)+1)
	}

	items := make([]types.TransactWriteItem, 0, len(siblings)+1)
	items = append(items, types.TransactWriteItem{
		Delete: &types.Delete{
			TableName:           aws.String(c.tableName),
			Key:                 keyAttr(key),
			ConditionExpression: aws.String(liveCondition),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":now": c.nowValue(),
			},
		},
	})
	for _, k := range siblings {
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(c.tableName),
				Key:       keyAttr(k),
			},
		})
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err == nil {
		return true, nil
	}
	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		return false, fmt.Errorf("dynamo: Claim %s: %w", key, err)
	}

	// Lost or expired: the rolled-back siblings must still stop working.
	if err := c.Delete(ctx, append([]string{key}, siblings...)...); err != nil {
		return false, err
	}
	return false, nil
}
