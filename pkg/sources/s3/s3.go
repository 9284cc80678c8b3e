// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/leseb/docqa/pkg/sources"
)

func init() {
	sources.Providers.Register("s3", func(ctx context.Context, params map[string]string) (sources.Store, error) {
		return New(ctx, Options{
			Bucket:   params["bucket"],
			Region:   params["region"],
			Prefix:   params["prefix"],
			Endpoint: params["endpoint"],
		})
	})
}

// compile-time check
var _ sources.Store = (*Store)(nil)

// markerName is the object that makes an empty tenant visible.
const markerName = ".tenant"

// deleteBatch is the S3 DeleteObjects limit.
const deleteBatch = 1000

// Options configures the S3 backend.
type Options struct {
	Bucket   string // required
	Region   string // e.g. "us-east-1"
	Prefix   string // key prefix, e.g. "sources/"
	Endpoint string // custom endpoint for MinIO compatibility
}

// Store implements sources.Store backed by S3 (or MinIO).
//
// Object layout:
//
//	<prefix><tenant>/.tenant   tenant marker
//	<prefix><tenant>/<name>    raw document bytes
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// New creates an S3-backed Store.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 sources: bucket is required")
	}

	optFns := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Opts := []func(*s3.Options){}
	if opts.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true // required for MinIO
		})
	}

	return &Store{
		client: s3.NewFromConfig(cfg, s3Opts...),
		bucket: opts.Bucket,
		prefix: opts.Prefix,
	}, nil
}

func (s *Store) tenantPrefix(tenant string) string {
	return s.prefix + tenant + "/"
}

func (s *Store) key(tenant, name string) string {
	return s.tenantPrefix(tenant) + name
}

func (s *Store) CreateTenant(ctx context.Context, tenant string) error {
	ok, err := s.TenantExists(ctx, tenant)
	if err != nil {
		return err
	}
	if ok {
		return sources.TenantExists(tenant)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(tenant, markerName)),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return fmt.Errorf("put tenant marker: %w", err)
	}
	return nil
}

func (s *Store) TenantExists(ctx context.Context, tenant string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(tenant, markerName)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head tenant marker: %w", err)
	}
	return true, nil
}

// ListTenants lists "directories" under prefix that carry a tenant marker.
func (s *Store) ListTenants(ctx context.Context) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(s.prefix),
		Delimiter: aws.String("/"),
	})

	var out []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, cp := range page.CommonPrefixes {
			// Extract tenant from prefix: "<prefix><tenant>/"
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), s.prefix), "/")
			if name == "" || strings.HasPrefix(name, ".") {
				continue
			}
			ok, err := s.TenantExists(ctx, name)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, name)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) DeleteTenant(ctx context.Context, tenant string) error {
	if err := s.requireTenant(ctx, tenant); err != nil {
		return err
	}
	keys, err := s.keys(ctx, tenant)
	if err != nil {
		return err
	}
	// The marker goes last so a partial failure leaves the tenant visible.
	docs := keys[:0]
	for _, k := range keys {
		if k != s.key(tenant, markerName) {
			docs = append(docs, k)
		}
	}
	if err := s.deleteKeys(ctx, docs); err != nil {
		return err
	}
	return s.deleteKeys(ctx, []string{s.key(tenant, markerName)})
}

func (s *Store) Put(ctx context.Context, tenant, name string, content []byte) error {
	if err := sources.ValidateName(name); err != nil {
		return err
	}
	if err := s.requireTenant(ctx, tenant); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(tenant, name)),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("application/pdf"),
	})
	if err != nil {
		return fmt.Errorf("put document: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, tenant, name string) ([]byte, error) {
	if err := sources.ValidateName(name); err != nil {
		return nil, sources.DocumentNotFound(tenant, name)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(tenant, name)),
	})
	if err != nil {
		if isNotFound(err) {
			if err := s.requireTenant(ctx, tenant); err != nil {
				return nil, err
			}
			return nil, sources.DocumentNotFound(tenant, name)
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read document body: %w", err)
	}
	return data, nil
}

func (s *Store) List(ctx context.Context, tenant string) ([]sources.Document, error) {
	if err := s.requireTenant(ctx, tenant); err != nil {
		return nil, err
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(s.tenantPrefix(tenant)),
		Delimiter: aws.String("/"),
	})

	var docs []sources.Document
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.tenantPrefix(tenant))
			if name == "" || strings.HasPrefix(name, ".") {
				continue
			}
			docs = append(docs, sources.Document{
				Tenant:  tenant,
				Name:    name,
				Bytes:   aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

func (s *Store) Delete(ctx context.Context, tenant, name string) error {
	if err := sources.ValidateName(name); err != nil {
		return sources.DocumentNotFound(tenant, name)
	}
	// Check existence first
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(tenant, name)),
	})
	if err != nil {
		if isNotFound(err) {
			if err := s.requireTenant(ctx, tenant); err != nil {
				return err
			}
			return sources.DocumentNotFound(tenant, name)
		}
		return fmt.Errorf("head document: %w", err)
	}
	return s.deleteKeys(ctx, []string{s.key(tenant, name)})
}

func (s *Store) DeleteAll(ctx context.Context, tenant string) (int, error) {
	docs, err := s.List(ctx, tenant)
	if err != nil {
		return 0, err
	}
	keys := make([]string, len(docs))
	for i, d := range docs {
		keys[i] = s.key(tenant, d.Name)
	}
	if err := s.deleteKeys(ctx, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Close is a no-op for the S3 store.
func (s *Store) Close(_ context.Context) error {
	return nil
}

func (s *Store) requireTenant(ctx context.Context, tenant string) error {
	ok, err := s.TenantExists(ctx, tenant)
	if err != nil {
		return err
	}
	if !ok {
		return sources.TenantUnknown(tenant)
	}
	return nil
}

// keys lists every object key under the tenant prefix, recursively.
func (s *Store) keys(ctx context.Context, tenant string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.tenantPrefix(tenant)),
	})
	var out []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			out = append(out, aws.ToString(obj.Key))
		}
	}
	return out, nil
}

func (s *Store) deleteKeys(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatch {
		end := min(start+deleteBatch, len(keys))
		ids := make([]s3types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, s3types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("delete objects: %w", err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("delete %s: %s", aws.ToString(e.Key), aws.ToString(e.Message))
		}
	}
	return nil
}

// isNotFound checks whether the error indicates a missing S3 object.
func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	// Some S3-compatible services return a generic "NotFound" status.
	return strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "NotFound")
}
