package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/stackpilot/stackpilot/internal/await"
)

// ObjectStoreAPI is the subset of the S3 client used by the backend.
type ObjectStoreAPI interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutBucketVersioning(ctx context.Context, params *s3.PutBucketVersioningInput, optFns ...func(*s3.Options)) (*s3.PutBucketVersioningOutput, error)
	PutBucketEncryption(ctx context.Context, params *s3.PutBucketEncryptionInput, optFns ...func(*s3.Options)) (*s3.PutBucketEncryptionOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// TableAPI is the subset of the DynamoDB client used by the backend.
type TableAPI interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// Backend provisions and reads the remote state store: a versioned,
// encrypted object bucket plus a lock table.
type Backend struct {
	Store  ObjectStoreAPI
	Tables TableAPI
	Region string
}

// NewBackend creates a backend wrapper over the given AWS clients.
func NewBackend(store ObjectStoreAPI, tables TableAPI, region string) *Backend {
	return &Backend{Store: store, Tables: tables, Region: region}
}

// EnsureStore creates the state bucket if absent and enables
// versioning and server-side encryption. Idempotent: existence is
// checked before any create call.
func (b *Backend) EnsureStore(ctx context.Context, bucket string) error {
	_, err := b.Store.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	var notFound *s3types.NotFound
	if !errors.As(err, &notFound) {
		return &BackendUnreachableError{Err: fmt.Errorf("checking bucket %s: %w", bucket, err)}
	}

	create := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if b.Region != "" && b.Region != "us-east-1" {
		create.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(b.Region),
		}
	}
	if _, err := b.Store.CreateBucket(ctx, create); err != nil {
		return &BackendProvisioningError{Resource: "bucket " + bucket, Err: err}
	}

	_, err = b.Store.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket: aws.String(bucket),
		VersioningConfiguration: &s3types.VersioningConfiguration{
			Status: s3types.BucketVersioningStatusEnabled,
		},
	})
	if err != nil {
		return &BackendProvisioningError{Resource: "bucket " + bucket + " versioning", Err: err}
	}

	_, err = b.Store.PutBucketEncryption(ctx, &s3.PutBucketEncryptionInput{
		Bucket: aws.String(bucket),
		ServerSideEncryptionConfiguration: &s3types.ServerSideEncryptionConfiguration{
			Rules: []s3types.ServerSideEncryptionRule{
				{
					ApplyServerSideEncryptionByDefault: &s3types.ServerSideEncryptionByDefault{
						SSEAlgorithm: s3types.ServerSideEncryptionAes256,
					},
				},
			},
		},
	})
	if err != nil {
		return &BackendProvisioningError{Resource: "bucket " + bucket + " encryption", Err: err}
	}
	return nil
}

// EnsureLockTable creates the lock table if absent and waits for it
// to become active. Idempotent.
func (b *Backend) EnsureLockTable(ctx context.Context, table string) error {
	_, err := b.Tables.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err == nil {
		return nil
	}
	var notFound *ddbtypes.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return &BackendUnreachableError{Err: fmt.Errorf("checking lock table %s: %w", table, err)}
	}

	_, err = b.Tables.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(table),
		BillingMode: ddbtypes.BillingModePayPerRequest,
		AttributeDefinitions: []ddbtypes.AttributeDefinition{
			{AttributeName: aws.String("LockKey"), AttributeType: ddbtypes.ScalarAttributeTypeS},
		},
		KeySchema: []ddbtypes.KeySchemaElement{
			{AttributeName: aws.String("LockKey"), KeyType: ddbtypes.KeyTypeHash},
		},
	})
	if err != nil {
		return &BackendProvisioningError{Resource: "lock table " + table, Err: err}
	}

	err = await.Await(ctx, "lock table "+table, 2*time.Second, 2*time.Minute, func(ctx context.Context) (bool, error) {
		out, err := b.Tables.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
		if err != nil {
			return false, err
		}
		return out.Table != nil && out.Table.TableStatus == ddbtypes.TableStatusActive, nil
	})
	if err != nil {
		return &BackendProvisioningError{Resource: "lock table " + table, Err: err}
	}
	return nil
}

// Snapshot downloads the current state object into dir as a
// timestamped file and returns its path. Read-only; takes no lock.
func (b *Backend) Snapshot(ctx context.Context, bucket, key, dir string) (string, error) {
	out, err := b.Store.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("fetching state %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%s.tfstate", filepath.Base(key), time.Now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, out.Body); err != nil {
		return "", fmt.Errorf("writing snapshot %s: %w", path, err)
	}
	return path, nil
}
