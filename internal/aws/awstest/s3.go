package awstest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3 keeps objects in memory, keyed by bucket then key.
type S3 struct {
	mu      sync.Mutex
	Objects map[string]map[string][]byte

	// GetErrs and PutErrs force failures for specific keys.
	GetErrs map[string]error
	PutErrs map[string]error

	// Gets records every key requested, in order, including misses.
	Gets []string
	// Puts records content types by key for uploaded objects.
	Puts map[string]string
}

func NewS3() *S3 {
	return &S3{
		Objects: map[string]map[string][]byte{},
		GetErrs: map[string]error{},
		PutErrs: map[string]error{},
		Puts:    map[string]string{},
	}
}

// Seed stores an object directly.
func (s *S3) Seed(bucket, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Objects[bucket] == nil {
		s.Objects[bucket] = map[string][]byte{}
	}
	s.Objects[bucket][key] = data
}

// Object returns a stored object and whether it exists.
func (s *S3) Object(bucket, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.Objects[bucket][key]
	return data, ok
}

func (s *S3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := *params.Key
	s.Gets = append(s.Gets, key)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := s.GetErrs[key]; ok {
		return nil, err
	}
	data, ok := s.Objects[*params.Bucket][key]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: awsString("The specified key does not exist.")}
	}
	size := int64(len(data))
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: &size,
	}, nil
}

func (s *S3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := *params.Key
	if err, ok := s.PutErrs[key]; ok {
		return nil, err
	}
	if err, ok := s.PutErrs["*"]; ok {
		return nil, err
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	if s.Objects[*params.Bucket] == nil {
		s.Objects[*params.Bucket] = map[string][]byte{}
	}
	s.Objects[*params.Bucket][key] = data
	if params.ContentType != nil {
		s.Puts[key] = *params.ContentType
	}
	return &s3.PutObjectOutput{}, nil
}

// Presigner builds deterministic fake signed URLs.
type Presigner struct {
	Err error
}

func (p *Presigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	opts := s3.PresignOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	u := fmt.Sprintf("https://%s.s3.test/%s?X-Amz-Expires=%d&X-Amz-Signature=fake",
		*params.Bucket, url.PathEscape(*params.Key), int(opts.Expires.Seconds()))
	return &v4.PresignedHTTPRequest{URL: u, Method: "GET"}, nil
}
