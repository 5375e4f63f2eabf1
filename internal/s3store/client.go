// Package s3store serves S3-compatible object storage (AWS S3, MinIO) as a
// media host behind upload.Client.
package s3store

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/cloudup/internal/common"
	"github.com/dmitrijs2005/cloudup/internal/logging"
	"github.com/dmitrijs2005/cloudup/internal/upload"
	"github.com/google/uuid"
)

// Config holds the object storage settings.
//
// Fields:
//   - Region: bucket region, "us-east-1" for MinIO.
//   - AccessKey / SecretKey: static credentials.
//   - Bucket: target bucket.
//   - BaseEndpoint: custom endpoint for S3-compatible servers; enables
//     path-style addressing.
//   - PublicURL: optional prefix for delivery URLs (CDN in front of the bucket).
type Config struct {
	Region       string
	AccessKey    string
	SecretKey    string
	Bucket       string
	BaseEndpoint string
	PublicURL    string
}

type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type streamUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newStreamUploader = func(c *s3.Client) streamUploader {
		return manager.NewUploader(c)
	}

	now        = time.Now
	newAssetID = uuid.NewString
)

// Client uploads media objects to a bucket.
type Client struct {
	cfg    Config
	api    objectAPI
	stream streamUploader
	logger logging.Logger
}

var _ upload.Client = (*Client)(nil)

// New builds a client with static credentials. A missing bucket or missing
// credentials are configuration errors.
func New(ctx context.Context, c Config, logger logging.Logger) (*Client, error) {
	if c.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket", common.ErrMissingConfig)
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return nil, fmt.Errorf("%w: s3 credentials", common.ErrMissingConfig)
	}

	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(c.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if c.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(c.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return &Client{
		cfg:    c,
		api:    client,
		stream: newStreamUploader(client),
		logger: logging.OrNop(logger),
	}, nil
}

func (c *Client) UploadBuffer(ctx context.Context, data []byte, params upload.Params) (upload.Result, error) {
	obj := c.object(params, sniff(data))

	if existing, err := c.existing(ctx, obj, params); existing != nil || err != nil {
		return existing, err
	}

	out, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.cfg.Bucket),
		Key:         aws.String(obj.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(obj.contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("put %s: %w", obj.key, err)
	}

	return c.result(obj, int64(len(data)), aws.ToString(out.ETag)), nil
}

// UploadStream sniffs the content type from the first bytes and hands the
// rest to the multipart uploader.
func (c *Client) UploadStream(ctx context.Context, r io.Reader, params upload.Params) (upload.Result, error) {
	br := bufio.NewReaderSize(r, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	obj := c.object(params, sniff(head))

	if existing, err := c.existing(ctx, obj, params); existing != nil || err != nil {
		return existing, err
	}

	counter := &countingReader{r: br}
	out, err := c.stream.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.cfg.Bucket),
		Key:         aws.String(obj.key),
		Body:        counter,
		ContentType: aws.String(obj.contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", obj.key, err)
	}

	return c.result(obj, counter.n, aws.ToString(out.ETag)), nil
}

type object struct {
	publicID     string
	folder       string
	key          string
	format       string
	contentType  string
	resourceType string
}

func (c *Client) object(params upload.Params, contentType string) object {
	o := object{contentType: contentType}
	o.publicID, _ = params[upload.ParamPublicID].(string)
	o.folder, _ = params[upload.ParamFolder].(string)
	o.folder = strings.Trim(o.folder, "/")
	if o.folder != "" {
		o.publicID = path.Join(o.folder, o.publicID)
	}

	o.format, _ = params["format"].(string)
	if o.format == "" {
		o.format = formatOf(contentType)
	}
	o.resourceType = resourceTypeOf(contentType)

	o.key = o.publicID
	if o.format != "" {
		o.key += "." + o.format
	}
	return o
}

// existing returns the metadata of an object already stored under the key
// when the caller did not ask to overwrite it.
func (c *Client) existing(ctx context.Context, obj object, params upload.Params) (upload.Result, error) {
	if overwrite(params) {
		return nil, nil
	}

	head, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(obj.key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("head %s: %w", obj.key, err)
	}

	c.logger.Debug(ctx, "object exists, not overwriting", "key", obj.key)

	res := c.result(obj, aws.ToInt64(head.ContentLength), aws.ToString(head.ETag))
	if head.LastModified != nil {
		res["version"] = head.LastModified.Unix()
		res["created_at"] = head.LastModified.UTC().Format(time.RFC3339)
	}
	res["existing"] = true
	return res, nil
}

func (c *Client) result(obj object, size int64, etag string) upload.Result {
	ts := now()
	url := c.url(obj.key)
	res := upload.Result{
		"asset_id":      newAssetID(),
		"public_id":     obj.publicID,
		"version":       ts.Unix(),
		"format":        obj.format,
		"resource_type": obj.resourceType,
		"type":          "upload",
		"bytes":         size,
		"etag":          strings.Trim(etag, `"`),
		"url":           url,
		"secure_url":    secure(url),
		"created_at":    ts.UTC().Format(time.RFC3339),
	}
	if obj.folder != "" {
		res["folder"] = obj.folder
	}
	return res
}

// url builds the delivery URL: PublicURL prefix, else path-style on a custom
// endpoint, else the virtual-hosted AWS form.
func (c *Client) url(key string) string {
	if c.cfg.PublicURL != "" {
		return strings.TrimRight(c.cfg.PublicURL, "/") + "/" + key
	}
	if c.cfg.BaseEndpoint != "" {
		ep := strings.TrimRight(c.cfg.BaseEndpoint, "/")
		return fmt.Sprintf("%s/%s/%s", ep, c.cfg.Bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", c.cfg.Bucket, c.cfg.Region, key)
}

func secure(url string) string {
	if rest, ok := strings.CutPrefix(url, "http://"); ok {
		return "https://" + rest
	}
	return url
}

func overwrite(params upload.Params) bool {
	switch v := params[upload.ParamOverwrite].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
