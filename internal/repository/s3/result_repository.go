package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"atd/signal-comms/internal/domain"
)

const dateFormatFile = "2006-01-02"

// API is the subset of *s3.Client used by the repository.
type API interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type ClientOptions struct {
	Region          string
	Endpoint        string
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
}

// NewClient builds an S3 client from the default AWS credential chain, or
// from static keys when both are set.
func NewClient(ctx context.Context, opts ClientOptions) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}

// ResultRepository stores each run as one JSON array object. The object key
// is derived from the run time, so re-persisting a run overwrites it.
type ResultRepository struct {
	client API
	bucket string
	log    *slog.Logger
}

func NewResultRepository(client API, bucket string, log *slog.Logger) *ResultRepository {
	return &ResultRepository{
		client: client,
		bucket: bucket,
		log:    log,
	}
}

func (r *ResultRepository) Name() string {
	return "s3"
}

// ObjectKey formats <env>/<device_type>/<year>/<month>/<date>/<run unix ms>.json.
func ObjectKey(env string, deviceType domain.DeviceType, runAt time.Time) string {
	runAt = runAt.UTC()
	return fmt.Sprintf("%s%d.json", DayPrefix(env, deviceType, runAt), runAt.UnixMilli())
}

// DayPrefix is the key prefix holding every run of one UTC day.
func DayPrefix(env string, deviceType domain.DeviceType, day time.Time) string {
	day = day.UTC()
	return fmt.Sprintf("%s/%s/%d/%d/%s/", env, deviceType, day.Year(), int(day.Month()), day.Format(dateFormatFile))
}

func (r *ResultRepository) Persist(ctx context.Context, batch domain.PublishBatch) (domain.Ack, error) {
	body, err := json.Marshal(batch.Records)
	if err != nil {
		return domain.Ack{}, &domain.SinkError{Sink: r.Name(), RunID: batch.RunID, Err: fmt.Errorf("marshal records: %w", err)}
	}

	key := ObjectKey(batch.Env, batch.DeviceType, batch.RunAt)

	r.log.Debug("uploading results", "bucket", r.bucket, "key", key, "bytes", len(body))

	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"run-id":      batch.RunID,
			"device-type": string(batch.DeviceType),
		},
	})
	if err != nil {
		return domain.Ack{}, &domain.SinkError{Sink: r.Name(), RunID: batch.RunID, Err: err}
	}

	return domain.Ack{
		Sink:        r.Name(),
		Destination: fmt.Sprintf("s3://%s/%s", r.bucket, key),
		Records:     len(batch.Records),
	}, nil
}

// ListDay returns the keys of every run stored for one UTC day.
func (r *ResultRepository) ListDay(ctx context.Context, env string, deviceType domain.DeviceType, day time.Time) ([]string, error) {
	prefix := DayPrefix(env, deviceType, day)
	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(prefix),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	return keys, nil
}

// Download reads the records stored under key.
func (r *ResultRepository) Download(ctx context.Context, key string) ([]domain.Record, error) {
	r.log.Debug("downloading results", "bucket", r.bucket, "key", key)

	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	var records []domain.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}

	return records, nil
}
