package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/singleflight"

	"github.com/graphloom/loom/pkg/common"
)

// s3API is the slice of the S3 client the source uses.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source loads documents from objects in a bucket. Refs are object keys.
// Fetched texts are cached, and concurrent loads of the same key are
// collapsed into one GetObject call; queue redeliveries of the same refs
// hit the cache instead of the bucket.
type S3Source struct {
	bucket string
	client s3API

	mu    sync.RWMutex
	cache map[string]string
	group singleflight.Group
}

// S3Params configures an S3Source. Endpoint overrides the AWS endpoint for
// S3-compatible storage (MinIO and friends); when set, path-style
// addressing is used.
type S3Params struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// NewS3Source builds a source backed by a fresh S3 client with static
// credentials.
func NewS3Source(ctx context.Context, p S3Params) (*S3Source, error) {
	if p.Bucket == "" {
		return nil, errors.New("loader: s3 source needs a bucket")
	}
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(p.Region),
		config.WithBaseEndpoint(p.Endpoint),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			p.AccessKey,
			p.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("loader: aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = p.Endpoint != ""
	})
	return NewS3SourceWithClient(p.Bucket, client), nil
}

// NewS3SourceWithClient builds a source over an existing client, for
// callers that configure their own middleware or credentials.
func NewS3SourceWithClient(bucket string, client *s3.Client) *S3Source {
	return &S3Source{
		bucket: bucket,
		client: client,
		cache:  make(map[string]string),
	}
}

func (s *S3Source) Load(ctx context.Context, ref string) (common.Document, error) {
	key := strings.TrimPrefix(ref, "/")
	if key == "" {
		return common.Document{}, errors.New("loader: empty object key")
	}

	s.mu.RLock()
	if text, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return s.document(key, text), nil
	}
	s.mu.RUnlock()

	v, err, _ := s.group.Do(key, func() (any, error) {
		s.mu.RLock()
		if text, ok := s.cache[key]; ok {
			s.mu.RUnlock()
			return text, nil
		}
		s.mu.RUnlock()

		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return "", fmt.Errorf("loader: fetching s3://%s/%s: %w", s.bucket, key, err)
		}
		defer out.Body.Close()
		data, err := io.ReadAll(out.Body)
		if err != nil {
			return "", fmt.Errorf("loader: reading s3://%s/%s: %w", s.bucket, key, err)
		}
		text := string(data)

		s.mu.Lock()
		s.cache[key] = text
		s.mu.Unlock()
		return text, nil
	})
	if err != nil {
		return common.Document{}, err
	}
	return s.document(key, v.(string)), nil
}

func (s *S3Source) document(key, text string) common.Document {
	return common.Document{
		ID:     key,
		Source: "s3://" + s.bucket + "/" + key,
		Text:   text,
	}
}
