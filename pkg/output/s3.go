package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/cenkalti/backoff/v3"
	"go.uber.org/zap"

	"github.com/bizflycloud/edna/pkg/models"
)

const (
	maxRetryElapsed = time.Minute
	maxRetries      = 5
)

// S3Config configures the object storage sink.
type S3Config struct {
	Bucket         string `mapstructure:"bucket"`
	Prefix         string `mapstructure:"prefix"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// S3 stores backups as objects under <prefix>/<device>/<id>.
type S3 struct {
	client    s3iface.S3API
	bucket    string
	prefix    string
	retention int
	locks     deviceLocks
	logger    *zap.Logger
}

var _ Sink = (*S3)(nil)

// NewS3 creates an S3 sink from cfg.
func NewS3(cfg S3Config, retention int, logger *zap.Logger) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 output: bucket is required")
	}
	awsCfg := &aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(cfg.ForcePathStyle),
		HTTPClient:       &http.Client{Timeout: 2 * time.Minute},
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("s3 output: %w", err)
	}
	return NewS3WithClient(s3.New(sess), cfg.Bucket, cfg.Prefix, retention, logger), nil
}

// NewS3WithClient creates an S3 sink on an existing client.
func NewS3WithClient(client s3iface.S3API, bucket, prefix string, retention int, logger *zap.Logger) *S3 {
	return &S3{
		client:    client,
		bucket:    bucket,
		prefix:    strings.Trim(prefix, "/"),
		retention: retention,
		logger:    logger,
	}
}

func (s *S3) Name() string {
	return "s3"
}

func (s *S3) deviceKey(device string) string {
	return path.Join(s.prefix, device) + "/"
}

func (s *S3) retry(ctx context.Context, op string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxRetryElapsed
	b := backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx)
	return backoff.RetryNotify(func() error {
		err := fn()
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case "AccessDenied", "Forbidden", "SignatureDoesNotMatch", "InvalidAccessKeyId", "NoSuchBucket", s3.ErrCodeNoSuchKey:
				return backoff.Permanent(err)
			}
		}
		return err
	}, b, func(err error, d time.Duration) {
		s.logger.Info(op+" failed, retrying", zap.Error(err), zap.Duration("in", d))
	})
}

// Save implements Sink. A PUT is atomic, rotation runs after it.
func (s *S3) Save(ctx context.Context, device string, content []byte, ts time.Time) (models.BackupRef, error) {
	if !validDevice(device) {
		return models.BackupRef{}, writeFailed("invalid device name %q", device)
	}
	unlock := s.locks.lock(device)
	defer unlock()

	ts = ts.UTC().Truncate(time.Microsecond)
	id := Filename(device, ts)
	key := s.deviceKey(device) + id
	err := s.retry(ctx, "PutObject", func() error {
		_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(content),
			ContentType: aws.String("text/plain; charset=utf-8"),
		})
		return err
	})
	if err != nil {
		return models.BackupRef{}, writeFailed("put %s: %v", key, err)
	}
	ref := models.BackupRef{Sink: s.Name(), Device: device, ID: id, CreationTime: ts, Size: int64(len(content))}

	refs, err := s.List(ctx, device)
	if err != nil {
		s.logger.Warn("List backups for rotation failed", zap.String("device", device), zap.Error(err))
		return ref, nil
	}
	if old := expired(refs, s.retention); len(old) > 0 {
		if err := s.delete(ctx, device, old); err != nil {
			s.logger.Warn("Remove expired backups failed", zap.String("device", device), zap.Error(err))
		}
	}
	return ref, nil
}

func (s *S3) delete(ctx context.Context, device string, refs []models.BackupRef) error {
	objects := make([]*s3.ObjectIdentifier, 0, len(refs))
	for _, r := range refs {
		objects = append(objects, &s3.ObjectIdentifier{Key: aws.String(s.deviceKey(device) + r.ID)})
	}
	return s.retry(ctx, "DeleteObjects", func() error {
		out, err := s.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return err
		}
		if len(out.Errors) > 0 {
			return fmt.Errorf("delete %s: %s", aws.StringValue(out.Errors[0].Key), aws.StringValue(out.Errors[0].Message))
		}
		return nil
	})
}

// List implements Sink.
func (s *S3) List(ctx context.Context, device string) ([]models.BackupRef, error) {
	if !validDevice(device) {
		return nil, nil
	}
	prefix := s.deviceKey(device)
	var refs []models.BackupRef
	err := s.retry(ctx, "ListObjects", func() error {
		refs = refs[:0]
		return s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(prefix),
		}, func(page *s3.ListObjectsV2Output, last bool) bool {
			for _, obj := range page.Contents {
				id := strings.TrimPrefix(aws.StringValue(obj.Key), prefix)
				ts, err := ParseFilename(device, id)
				if err != nil {
					continue
				}
				refs = append(refs, models.BackupRef{
					Sink:         s.Name(),
					Device:       device,
					ID:           id,
					CreationTime: ts,
					Size:         aws.Int64Value(obj.Size),
				})
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(refs)
	return refs, nil
}

// Get implements Sink.
func (s *S3) Get(ctx context.Context, device, id string) ([]byte, error) {
	if !validDevice(device) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, device, id)
	}
	if _, err := ParseFilename(device, id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	var data []byte
	err := s.retry(ctx, "GetObject", func() error {
		out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.deviceKey(device) + id),
		})
		if err != nil {
			return err
		}
		defer out.Body.Close()
		data, err = ioutil.ReadAll(out.Body)
		return err
	})
	if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, device, id)
	}
	return data, err
}

// Devices implements Sink.
func (s *S3) Devices(ctx context.Context) ([]string, error) {
	prefix := ""
	if s.prefix != "" {
		prefix = s.prefix + "/"
	}
	var names []string
	err := s.retry(ctx, "ListObjects", func() error {
		names = names[:0]
		return s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
			Bucket:    aws.String(s.bucket),
			Prefix:    aws.String(prefix),
			Delimiter: aws.String("/"),
		}, func(page *s3.ListObjectsV2Output, last bool) bool {
			for _, p := range page.CommonPrefixes {
				name := strings.TrimSuffix(strings.TrimPrefix(aws.StringValue(p.Prefix), prefix), "/")
				if name != "" {
					names = append(names, name)
				}
			}
			return true
		})
	})
	sort.Strings(names)
	return names, err
}
