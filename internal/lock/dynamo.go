package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client used by the locker.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoLocker implements Locker on a DynamoDB table with a LockKey
// partition key. Acquisition is a conditional put; the record never
// expires on its own.
type DynamoLocker struct {
	Client         DynamoAPI
	Table          string
	StaleThreshold time.Duration
}

// NewDynamoLocker creates a locker backed by the given table.
func NewDynamoLocker(client DynamoAPI, table string) *DynamoLocker {
	return &DynamoLocker{Client: client, Table: table}
}

// Acquire implements Locker.
func (d *DynamoLocker) Acquire(ctx context.Context, key string, info Info) (*Handle, error) {
	info.ID = newID()
	if info.Created.IsZero() {
		info.Created = time.Now()
	}

	_, err := d.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.Table),
		Item:                marshalLock(key, info),
		ConditionExpression: aws.String("attribute_not_exists(LockKey)"),
	})
	if err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			held, inspectErr := d.Inspect(ctx, key)
			if inspectErr != nil || held == nil {
				return nil, &HeldError{Info: Info{Holder: "unknown"}}
			}
			return nil, &HeldError{Info: *held, Stale: IsStale(*held, d.StaleThreshold)}
		}
		return nil, fmt.Errorf("acquire lock %q: %w", key, err)
	}
	return &Handle{Key: key, Info: info}, nil
}

// Release implements Locker.
func (d *DynamoLocker) Release(ctx context.Context, h *Handle) error {
	_, err := d.delete(ctx, h.Key, h.Info.ID)
	return err
}

// Inspect implements Locker.
func (d *DynamoLocker) Inspect(ctx context.Context, key string) (*Info, error) {
	out, err := d.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.Table),
		Key:            map[string]types.AttributeValue{"LockKey": &types.AttributeValueMemberS{Value: key}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("inspect lock %q: %w", key, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	info := unmarshalLock(out.Item)
	return &info, nil
}

// ForceRelease implements Locker.
func (d *DynamoLocker) ForceRelease(ctx context.Context, key, lockID string) (*Info, error) {
	held, err := d.Inspect(ctx, key)
	if err != nil {
		return nil, err
	}
	if held == nil {
		return nil, ErrNotLocked
	}
	if held.ID != lockID {
		return nil, ErrLockIDMismatch
	}
	if _, err := d.delete(ctx, key, lockID); err != nil {
		return nil, err
	}
	return held, nil
}

func (d *DynamoLocker) delete(ctx context.Context, key, lockID string) (*dynamodb.DeleteItemOutput, error) {
	out, err := d.Client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(d.Table),
		Key:                 map[string]types.AttributeValue{"LockKey": &types.AttributeValueMemberS{Value: key}},
		ConditionExpression: aws.String("LockID = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: lockID},
		},
	})
	if err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return nil, ErrLockIDMismatch
		}
		return nil, fmt.Errorf("release lock %q: %w", key, err)
	}
	return out, nil
}

func marshalLock(key string, info Info) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"LockKey":   &types.AttributeValueMemberS{Value: key},
		"LockID":    &types.AttributeValueMemberS{Value: info.ID},
		"Holder":    &types.AttributeValueMemberS{Value: info.Holder},
		"Operation": &types.AttributeValueMemberS{Value: info.Operation},
		"Created":   &types.AttributeValueMemberS{Value: info.Created.UTC().Format(time.RFC3339Nano)},
	}
}

func unmarshalLock(item map[string]types.AttributeValue) Info {
	info := Info{}
	if v, ok := item["LockID"].(*types.AttributeValueMemberS); ok {
		info.ID = v.Value
	}
	if v, ok := item["Holder"].(*types.AttributeValueMemberS); ok {
		info.Holder = v.Value
	}
	if v, ok := item["Operation"].(*types.AttributeValueMemberS); ok {
		info.Operation = v.Value
	}
	if v, ok := item["Created"].(*types.AttributeValueMemberS); ok {
		if t, err := time.Parse(time.RFC3339Nano, v.Value); err == nil {
			info.Created = t
		}
	}
	return info
}
