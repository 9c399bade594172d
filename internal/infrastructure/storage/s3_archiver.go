// Package storage archives purged orders to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	appsync "github.com/erp/ordersync/internal/application/ordersync"
	"github.com/erp/ordersync/internal/domain/ordersync"
	"github.com/erp/ordersync/internal/infrastructure/config"
)

var _ appsync.Archiver = (*S3Archiver)(nil)

// S3Archiver writes each purge batch as one JSON object before the rows are
// deleted. It works against AWS S3 and S3-compatible stores (MinIO, RustFS).
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// S3ArchiverOption configures an S3Archiver
type S3ArchiverOption func(*S3Archiver)

// WithLogger sets a custom logger
func WithLogger(logger *zap.Logger) S3ArchiverOption {
	return func(a *S3Archiver) {
		a.logger = logger
	}
}

// NewS3Archiver creates an archiver from configuration
func NewS3Archiver(ctx context.Context, cfg *config.StorageConfig, opts ...S3ArchiverOption) (*S3Archiver, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("storage access key and secret key are required")
	}

	endpoint, err := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	a := &S3Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// normalizeEndpoint returns "" for AWS itself, otherwise an absolute URL.
func normalizeEndpoint(endpoint string, useSSL bool) (string, error) {
	if endpoint == "" {
		return "", nil
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if useSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}
	if _, err := url.Parse(endpoint); err != nil {
		return "", fmt.Errorf("invalid storage endpoint: %w", err)
	}
	return endpoint, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (a *S3Archiver) EnsureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	a.logger.Info("Creating archive bucket", zap.String("bucket", a.bucket))
	_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(a.bucket)})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

type archivedOrder struct {
	ID           uuid.UUID `json:"id"`
	AccountKey   string    `json:"account_key"`
	OrderNbr     string    `json:"order_nbr"`
	Status       string    `json:"status"`
	DeliveryDate time.Time `json:"delivery_date"`
	ShipVia      string    `json:"ship_via,omitempty"`
	JobName      string    `json:"job_name,omitempty"`
	CustomerName string    `json:"customer_name,omitempty"`
	BuyerGroup   string    `json:"buyer_group,omitempty"`
	NoteID       string    `json:"note_id,omitempty"`
	LocationID   string    `json:"location_id,omitempty"`
	IsActive     bool      `json:"is_active"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type archiveDocument struct {
	Cutoff     time.Time       `json:"cutoff"`
	ArchivedAt time.Time       `json:"archived_at"`
	Count      int             `json:"count"`
	Orders     []archivedOrder `json:"orders"`
}

// ObjectKey returns {prefix}/{cutoff date}/{id}.json
func (a *S3Archiver) ObjectKey(cutoff time.Time, id uuid.UUID) string {
	return path.Join(a.prefix, cutoff.UTC().Format("2006-01-02"), id.String()+".json")
}

// Archive implements appsync.Archiver and returns the s3:// location of the batch.
func (a *S3Archiver) Archive(ctx context.Context, cutoff time.Time, batch []ordersync.OrderSummary) (string, error) {
	if len(batch) == 0 {
		return "", nil
	}

	doc := archiveDocument{
		Cutoff:     cutoff.UTC(),
		ArchivedAt: a.now().UTC(),
		Count:      len(batch),
		Orders:     make([]archivedOrder, 0, len(batch)),
	}
	for i := range batch {
		o := &batch[i]
		doc.Orders = append(doc.Orders, archivedOrder{
			ID:           o.ID,
			AccountKey:   o.AccountKey,
			OrderNbr:     o.OrderNbr,
			Status:       o.Status,
			DeliveryDate: o.DeliveryDate,
			ShipVia:      o.ShipVia,
			JobName:      o.JobName,
			CustomerName: o.CustomerName,
			BuyerGroup:   o.BuyerGroup,
			NoteID:       o.NoteID,
			LocationID:   o.LocationID,
			IsActive:     o.IsActive,
			LastSeenAt:   o.LastSeenAt,
			CreatedAt:    o.CreatedAt,
			UpdatedAt:    o.UpdatedAt,
		})
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode archive batch: %w", err)
	}

	key := a.ObjectKey(cutoff, uuid.New())
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload archive batch: %w", err)
	}

	location := fmt.Sprintf("s3://%s/%s", a.bucket, key)
	a.logger.Debug("Archived purge batch",
		zap.String("location", location),
		zap.Int("orders", len(batch)),
	)
	return location, nil
}
