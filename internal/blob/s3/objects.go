package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/marketvault/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	eventCountMeta   = "event-count"
	partSize         = 5 * 1024 * 1024
)

// ObjectStore implements domain.ObjectStore on the archive bucket. Bodies
// larger than one part go through the multipart uploader.
type ObjectStore struct {
	client     *s3.Client
	bucket     string
	uploader   *manager.Uploader
	downloader *manager.Downloader
}

// NewObjectStore uses c's bucket.
func NewObjectStore(c *Client) *ObjectStore {
	return &ObjectStore{
		client: c.S3(),
		bucket: c.Bucket(),
		uploader: manager.NewUploader(c.S3(), func(u *manager.Uploader) {
			u.PartSize = partSize
		}),
		downloader: manager.NewDownloader(c.S3(), func(d *manager.Downloader) {
			d.PartSize = partSize
		}),
	}
}

// Put writes body under key and records the event count as object metadata.
func (o *ObjectStore) Put(ctx context.Context, key string, body []byte, events int) error {
	_, err := o.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(o.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(jsonlContentType),
		Metadata:    map[string]string{eventCountMeta: strconv.Itoa(events)},
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}

// Get downloads the whole object at key.
func (o *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	_, err := o.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3blob: get %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: get %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

// List returns the journal objects under prefix. Listing does not return
// metadata, so Events is read with one HeadObject per key.
func (o *ObjectStore) List(ctx context.Context, prefix string) ([]domain.JournalObject, error) {
	var out []domain.JournalObject
	pages := s3.NewListObjectsV2Paginator(o.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(o.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			jo := domain.JournalObject{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				jo.Modified = *obj.LastModified
			}
			head, err := o.client.HeadObject(ctx, &s3.HeadObjectInput{
				Bucket: aws.String(o.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				return nil, fmt.Errorf("s3blob: head %s: %w", jo.Key, err)
			}
			jo.Events, _ = strconv.Atoi(head.Metadata[eventCountMeta])
			out = append(out, jo)
		}
	}
	return out, nil
}

// isNotFound matches NoSuchKey, NotFound and bare 404s from S3-compatible
// providers.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var re interface{ HTTPStatusCode() int }
	return errors.As(err, &re) && re.HTTPStatusCode() == 404
}
