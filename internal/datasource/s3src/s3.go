// Package s3src reads dataset units from an S3 bucket prefix. Object keys
// below the prefix are the unit ids (prefix stripped).
package s3src

import (
	"context"
	"io"
	"path"
	"strings"

	"silverload/internal/config"
	"silverload/internal/datasource"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"
)

func init() {
	datasource.Register("s3", func(_ context.Context, cfg config.Source) (datasource.Store, error) {
		awsCfg := aws.NewConfig()
		if cfg.Region != "" {
			awsCfg = awsCfg.WithRegion(cfg.Region)
		}
		if cfg.Endpoint != "" {
			awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
		}
		sess, err := session.NewSession(awsCfg)
		if err != nil {
			return nil, errors.Wrap(err, "creating aws session")
		}
		return New(s3.New(sess), cfg.Bucket, cfg.Prefix, cfg.Pattern), nil
	})
}

// Bucket is a datasource.Store over one bucket prefix.
type Bucket struct {
	client  s3iface.S3API
	bucket  string
	prefix  string
	pattern string
}

var _ datasource.Store = (*Bucket)(nil)

// New returns a store listing bucket/prefix with client.
func New(client s3iface.S3API, bucket, prefix, pattern string) *Bucket {
	prefix = strings.TrimPrefix(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Bucket{client: client, bucket: bucket, prefix: prefix, pattern: pattern}
}

func (b *Bucket) Location() string { return "s3://" + b.bucket + "/" + b.prefix }

// List pages through the prefix. Keys ending in "/" (folder markers) and
// hidden base names are skipped.
func (b *Bucket) List(ctx context.Context) ([]datasource.Unit, error) {
	var out []datasource.Unit
	err := b.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			id := strings.TrimPrefix(key, b.prefix)
			if hiddenPath(id) {
				continue
			}
			if b.pattern != "" {
				if ok, _ := path.Match(b.pattern, path.Base(id)); !ok {
					continue
				}
			}
			out = append(out, datasource.Unit{
				ID:      id,
				Size:    aws.Int64Value(obj.Size),
				ModTime: aws.TimeValue(obj.LastModified),
			})
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", b.Location())
	}
	return out, nil
}

// Open fetches the object. NoSuchKey and NoSuchBucket wrap
// datasource.ErrUnitNotFound.
func (b *Bucket) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.prefix + id),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case s3.ErrCodeNoSuchBucket, s3.ErrCodeNoSuchKey:
				return nil, errors.Wrapf(datasource.ErrUnitNotFound, "fetching %s%s", b.Location(), id)
			}
		}
		return nil, errors.Wrapf(err, "fetching %s%s", b.Location(), id)
	}
	return result.Body, nil
}

func hiddenPath(id string) bool {
	for _, part := range strings.Split(id, "/") {
		if datasource.Hidden(part) {
			return true
		}
	}
	return false
}
