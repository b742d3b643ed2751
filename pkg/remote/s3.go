package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	log "github.com/sirupsen/logrus"
)

// S3RootID is the ID of the bucket root. Containers are key prefixes ending in a
// slash, files are plain keys.
const S3RootID = "/"

// S3Config holds S3 connection settings. Empty credentials fall back to the default
// AWS credential chain.
type S3Config struct {
	Bucket    string
	Prefix    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// S3 is a Facade over an S3 bucket, or a prefix of one.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

var (
	_ Facade    = (*S3)(nil)
	_ Reader    = (*S3)(nil)
	_ Remover   = (*S3)(nil)
	_ Truncater = (*S3)(nil)
)

// NewS3 creates an S3 facade.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("cannot load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// MinIO and most other S3 implementations need path-style addressing
			o.UsePathStyle = true
		}
	})

	return NewS3FromClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3FromClient uses an existing client.
func NewS3FromClient(client *s3.Client, bucket, prefix string) *S3 {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

// keyOf maps an object ID to the bucket key.
func (s *S3) keyOf(id string) string {
	if id == S3RootID {
		return s.prefix
	}
	return s.prefix + id
}

// idOf maps a bucket key to an object ID.
func (s *S3) idOf(key string) string {
	id := strings.TrimPrefix(key, s.prefix)
	if id == "" {
		return S3RootID
	}
	return id
}

// RootID implements Facade
func (s *S3) RootID(ctx context.Context) (string, error) {
	return S3RootID, nil
}

// ListChildren implements Facade
func (s *S3) ListChildren(ctx context.Context, id string) ([]*Object, error) {
	if id != S3RootID && !strings.HasSuffix(id, "/") {
		return nil, fmt.Errorf("%s is not a container", id)
	}
	prefix := s.keyOf(id)

	var res []*Object
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("cannot list %s: %w", prefix, err)
		}

		for _, cp := range page.CommonPrefixes {
			key := aws.ToString(cp.Prefix)
			res = append(res, &Object{
				ID:      s.idOf(key),
				Name:    path.Base(key),
				Parents: []string{id},
				Dir:     true,
			})
		}
		for _, o := range page.Contents {
			key := aws.ToString(o.Key)
			// directory markers
			if key == prefix || strings.HasSuffix(key, "/") {
				continue
			}
			obj := &Object{
				ID:      s.idOf(key),
				Name:    path.Base(key),
				Parents: []string{id},
				Size:    uint64(aws.ToInt64(o.Size)),
			}
			if o.LastModified != nil {
				obj.ModTime = *o.LastModified
			}
			res = append(res, obj)
		}
	}
	return res, nil
}

// Create implements Facade
func (s *S3) Create(ctx context.Context, desc *Object) (string, error) {
	parent, ok := desc.Parent()
	if !ok {
		parent = S3RootID
	}
	if strings.Contains(desc.Name, "/") {
		return "", fmt.Errorf("invalid object name %q", desc.Name)
	}

	id := desc.Name
	if parent != S3RootID {
		id = parent + desc.Name
	}
	if desc.Dir {
		id += "/"
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.keyOf(id)),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return "", fmt.Errorf("cannot put %s: %w", id, err)
	}
	log.WithField("key", s.keyOf(id)).Debug("created object")
	return id, nil
}

func (s *S3) get(ctx context.Context, id string, rng *string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.keyOf(id)),
		Range:  rng,
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownObject, id)
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Write implements Facade. S3 objects cannot be modified in place, so the object is
// downloaded, patched and uploaded again.
func (s *S3) Write(ctx context.Context, id string, offset int64, data []byte) error {
	content, err := s.get(ctx, id, nil)
	if err != nil {
		return fmt.Errorf("cannot get %s: %w", id, err)
	}
	content = splice(content, offset, data)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.keyOf(id)),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
	})
	if err != nil {
		return fmt.Errorf("cannot put %s: %w", id, err)
	}
	return nil
}

// splice writes data into content at offset, growing content as needed.
func splice(content []byte, offset int64, data []byte) []byte {
	if end := int(offset) + len(data); end > len(content) {
		content = append(content, make([]byte, end-len(content))...)
	}
	copy(content[offset:], data)
	return content
}

// resize cuts content to size or pads it with zeros.
func resize(content []byte, size uint64) []byte {
	if size <= uint64(len(content)) {
		return content[:size]
	}
	return append(content, make([]byte, size-uint64(len(content)))...)
}

// Truncate implements Truncater. S3 objects are immutable, the object is rewritten.
func (s *S3) Truncate(ctx context.Context, id string, size uint64) error {
	content, err := s.get(ctx, id, nil)
	if err != nil {
		return fmt.Errorf("cannot get %s: %w", id, err)
	}
	content = resize(content, size)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.keyOf(id)),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
	})
	if err != nil {
		return fmt.Errorf("cannot put %s: %w", id, err)
	}
	return nil
}

// Read implements Reader
func (s *S3) Read(ctx context.Context, id string, dst []byte, offset int64) (n int, err error) {
	if len(dst) == 0 {
		return 0, nil
	}
	rng := fmt.Sprintf("bytes=%d-%d", offset, offset+int64(len(dst))-1)
	content, err := s.get(ctx, id, aws.String(rng))
	if err != nil {
		var re interface{ HTTPStatusCode() int }
		if errors.As(err, &re) && re.HTTPStatusCode() == 416 {
			return 0, io.EOF
		}
		return 0, err
	}
	n = copy(dst, content)
	if n < len(dst) {
		return n, io.EOF
	}
	return n, nil
}

// Remove implements Remover
func (s *S3) Remove(ctx context.Context, id string) error {
	if id == S3RootID {
		return fmt.Errorf("cannot remove the bucket root")
	}
	if strings.HasSuffix(id, "/") {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:  aws.String(s.bucket),
			Prefix:  aws.String(s.keyOf(id)),
			MaxKeys: aws.Int32(2),
		})
		if err != nil {
			return err
		}
		for _, o := range out.Contents {
			if aws.ToString(o.Key) != s.keyOf(id) {
				return fmt.Errorf("%w: %s", ErrNotEmpty, id)
			}
		}
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.keyOf(id)),
	})
	return err
}
