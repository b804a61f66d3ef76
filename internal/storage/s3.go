package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/spigell/grader/internal/plagiarism"
	"github.com/spigell/grader/internal/secrets"
)

// S3Options configures the object storage store. Endpoint and UsePathStyle
// allow S3 compatible services such as R2 or MinIO.
type S3Options struct {
	Bucket        string `mapstructure:"bucket"`
	Prefix        string `mapstructure:"prefix"`
	Region        string `mapstructure:"region"`
	Endpoint      string `mapstructure:"endpoint"`
	UsePathStyle  bool   `mapstructure:"use-path-style"`
	AccessKey     string `mapstructure:"access-key"`
	SecretKey     string `mapstructure:"secret-key"`
	SecretKeyFile string `mapstructure:"secret-key-file"`
}

type s3API interface {
	s3.ListObjectsV2APIClient
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 keeps every text as a JSON object:
// {prefix}/model_answers/{assignment}.json, {prefix}/rubrics/{assignment}.json
// and {prefix}/peer_answers/{assignment}/{peer}.json.
type S3 struct {
	client s3API
	bucket string
	prefix string
	logger *zap.Logger
}

// NewS3 builds an S3 client from the default AWS configuration chain, with
// static credentials when an access key is configured.
func NewS3(ctx context.Context, opts S3Options, log *zap.Logger) (*S3, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("s3 bucket is required")
	}

	region := strings.TrimSpace(opts.Region)
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if accessKey := strings.TrimSpace(opts.AccessKey); accessKey != "" {
		secretKey, err := secrets.Load(secrets.Source{
			Name:  "s3 secret key",
			Value: opts.SecretKey,
			File:  opts.SecretKeyFile,
			Env:   []string{"AWS_SECRET_ACCESS_KEY"},
		})
		if err != nil {
			return nil, err
		}
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(opts.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	return newS3(client, opts.Bucket, opts.Prefix, log), nil
}

func newS3(client s3API, bucket, prefix string, log *zap.Logger) *S3 {
	if log == nil {
		log = zap.NewNop()
	}
	return &S3{
		client: client,
		bucket: strings.TrimSpace(bucket),
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
		logger: log,
	}
}

func (s *S3) Init(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("access bucket %s: %w", s.bucket, err)
	}
	s.logger.Debug("s3 store ready", zap.String("bucket", s.bucket), zap.String("prefix", s.prefix))
	return nil
}

func (s *S3) SaveModelAnswer(ctx context.Context, assignmentID, content string) error {
	return s.saveReference(ctx, KindModelAnswer, assignmentID, content)
}

func (s *S3) ModelAnswer(ctx context.Context, assignmentID string) (string, error) {
	return s.loadReference(ctx, KindModelAnswer, assignmentID)
}

func (s *S3) SaveRubric(ctx context.Context, assignmentID, content string) error {
	return s.saveReference(ctx, KindRubric, assignmentID, content)
}

func (s *S3) Rubric(ctx context.Context, assignmentID string) (string, error) {
	return s.loadReference(ctx, KindRubric, assignmentID)
}

func (s *S3) AppendPeerAnswer(ctx context.Context, assignmentID, peerID, content string) error {
	if err := ValidateID(assignmentID); err != nil {
		return err
	}
	if err := ValidateID(peerID); err != nil {
		return err
	}

	key := s.key(dirPeerAnswers, assignmentID, peerID+jsonExt)
	err := s.put(ctx, key, record{Content: content, CreatedAt: now()}, true)
	if err != nil {
		if statusCode(err) == http.StatusPreconditionFailed {
			return fmt.Errorf("peer answer %s/%s: %w", assignmentID, peerID, ErrExists)
		}
		return err
	}
	return nil
}

func (s *S3) PeerAnswers(ctx context.Context, assignmentID string) ([]plagiarism.Document, error) {
	if err := ValidateID(assignmentID); err != nil {
		return nil, err
	}

	prefix := s.key(dirPeerAnswers, assignmentID) + "/"
	keys, err := s.list(ctx, prefix)
	if err != nil {
		return nil, err
	}

	type stored struct {
		doc plagiarism.Document
		rec record
	}

	found := make([]stored, 0, len(keys))
	for _, key := range keys {
		name := strings.TrimPrefix(key, prefix)
		if strings.Contains(name, "/") || !strings.HasSuffix(name, jsonExt) {
			continue
		}
		rec, err := s.get(ctx, key)
		if err != nil {
			return nil, err
		}
		found = append(found, stored{
			doc: plagiarism.Document{ID: strings.TrimSuffix(name, jsonExt), Text: rec.Content},
			rec: rec,
		})
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].rec.CreatedAt.Equal(found[j].rec.CreatedAt) {
			return found[i].doc.ID < found[j].doc.ID
		}
		return found[i].rec.CreatedAt.Before(found[j].rec.CreatedAt)
	})

	docs := make([]plagiarism.Document, 0, len(found))
	for _, item := range found {
		docs = append(docs, item.doc)
	}
	return docs, nil
}

func (s *S3) Assignments(ctx context.Context) ([]string, error) {
	ids := make(map[string]struct{})

	for _, sub := range []string{dirModelAnswers, dirRubrics, dirPeerAnswers} {
		prefix := s.key(sub) + "/"
		keys, err := s.list(ctx, prefix)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			rest := strings.TrimPrefix(key, prefix)
			var id string
			if sub == dirPeerAnswers {
				idx := strings.Index(rest, "/")
				if idx <= 0 {
					continue
				}
				id = rest[:idx]
			} else {
				if !strings.HasSuffix(rest, jsonExt) {
					continue
				}
				id = strings.TrimSuffix(rest, jsonExt)
			}
			ids[id] = struct{}{}
		}
	}

	result := make([]string, 0, len(ids))
	for id := range ids {
		result = append(result, id)
	}
	sort.Strings(result)
	return result, nil
}

func (s *S3) Close() error { return nil }

func (s *S3) key(parts ...string) string {
	if s.prefix == "" {
		return path.Join(parts...)
	}
	return path.Join(append([]string{s.prefix}, parts...)...)
}

func (s *S3) referenceKey(kind Kind, assignmentID string) string {
	sub := dirModelAnswers
	if kind == KindRubric {
		sub = dirRubrics
	}
	return s.key(sub, assignmentID+jsonExt)
}

func (s *S3) saveReference(ctx context.Context, kind Kind, assignmentID, content string) error {
	if err := ValidateID(assignmentID); err != nil {
		return err
	}
	return s.put(ctx, s.referenceKey(kind, assignmentID), record{Content: content, CreatedAt: now()}, false)
}

func (s *S3) loadReference(ctx context.Context, kind Kind, assignmentID string) (string, error) {
	if err := ValidateID(assignmentID); err != nil {
		return "", err
	}

	rec, err := s.get(ctx, s.referenceKey(kind, assignmentID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("%s for %s: %w", kind, assignmentID, ErrNotFound)
		}
		return "", err
	}
	return rec.Content, nil
}

func (s *S3) put(ctx context.Context, key string, rec record, exclusive bool) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	}
	if exclusive {
		input.IfNoneMatch = aws.String("*")
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *S3) get(ctx context.Context, key string) (record, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) || statusCode(err) == http.StatusNotFound {
			return record{}, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return record{}, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return record{}, fmt.Errorf("read %s: %w", key, err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return rec, nil
}

func (s *S3) list(ctx context.Context, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	keys := make([]string, 0)
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

func statusCode(err error) int {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode()
	}
	return 0
}
