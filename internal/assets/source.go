package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/rs/zerolog/log"

	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/aws"
)

// ErrAssetNotFound is returned once every key convention for an asset has missed.
var ErrAssetNotFound = errors.New("asset not found")

// DocumentKind selects a shared document.
type DocumentKind string

const (
	Specimen DocumentKind = "specimen"
	EULA     DocumentKind = "eula"
)

// Resolution is the outcome of one lookup attempt.
type Resolution int

const (
	Found Resolution = iota
	NotFoundTryNext
	Fatal
)

func (r Resolution) String() string {
	switch r {
	case Found:
		return "found"
	case NotFoundTryNext:
		return "not_found_try_next"
	}
	return "fatal"
}

// Lookup is what the store asks a strategy to locate.
type Lookup struct {
	FamilyID string
	Italic   bool
}

// Strategy is one key convention. Key returns false when the convention does not
// apply to the lookup (e.g. a family-scoped EULA without a family).
type Strategy struct {
	Name string
	Key  func(Lookup) (string, bool)
}

// FontStrategies are tried in order for source variable fonts. Italic lookups
// that exhaust them are retried as roman.
var FontStrategies = []Strategy{
	{Name: "family-scoped-vf", Key: func(l Lookup) (string, bool) {
		return fmt.Sprintf("fonts/%s/%s-VF%s.ttf", l.FamilyID, l.FamilyID, italicSuffix(l.Italic)), true
	}},
	{Name: "family-scoped", Key: func(l Lookup) (string, bool) {
		return fmt.Sprintf("fonts/%s/%s%s.ttf", l.FamilyID, l.FamilyID, italicSuffix(l.Italic)), true
	}},
	{Name: "legacy-root", Key: func(l Lookup) (string, bool) {
		return fmt.Sprintf("%s/%s-VF%s.ttf", l.FamilyID, l.FamilyID, italicSuffix(l.Italic)), true
	}},
}

// SpecimenStrategies are tried in order for family specimens.
var SpecimenStrategies = []Strategy{
	{Name: "specimens-family", Key: func(l Lookup) (string, bool) {
		return fmt.Sprintf("specimens/%s/%s-specimen.pdf", l.FamilyID, l.FamilyID), l.FamilyID != ""
	}},
	{Name: "fonts-family", Key: func(l Lookup) (string, bool) {
		return fmt.Sprintf("fonts/%s/%s-specimen.pdf", l.FamilyID, l.FamilyID), l.FamilyID != ""
	}},
	{Name: "specimens-flat", Key: func(l Lookup) (string, bool) {
		return fmt.Sprintf("specimens/%s-specimen.pdf", l.FamilyID), l.FamilyID != ""
	}},
}

// EULAStrategies are tried in order for the license agreement.
var EULAStrategies = []Strategy{
	{Name: "eula-family", Key: func(l Lookup) (string, bool) {
		return fmt.Sprintf("eula/%s/EULA.pdf", l.FamilyID), l.FamilyID != ""
	}},
	{Name: "eula-shared", Key: func(Lookup) (string, bool) { return "eula/EULA.pdf", true }},
	{Name: "documents", Key: func(Lookup) (string, bool) { return "documents/EULA.pdf", true }},
	{Name: "bucket-root", Key: func(Lookup) (string, bool) { return "EULA.pdf", true }},
}

// SourceStore reads canonical font binaries and documents from the source bucket.
type SourceStore struct {
	client  aws.S3API
	bucket  string
	timeout time.Duration
}

// NewSourceStore binds a store to a bucket. timeout bounds each object read; zero disables it.
func NewSourceStore(client aws.S3API, bucket string, timeout time.Duration) *SourceStore {
	return &SourceStore{client: client, bucket: bucket, timeout: timeout}
}

// FetchFamilyAsset returns the variable-font source of a family. An italic request
// prefers the italic face and falls back to the roman one.
func (s *SourceStore) FetchFamilyAsset(ctx context.Context, familyID string, isItalic bool) ([]byte, error) {
	if familyID == "" {
		return nil, fmt.Errorf("%w: empty family id", ErrAssetNotFound)
	}
	lookups := []Lookup{{FamilyID: familyID, Italic: isItalic}}
	if isItalic {
		lookups = append(lookups, Lookup{FamilyID: familyID})
	}
	var tried []string
	for _, l := range lookups {
		data, keys, err := s.resolve(ctx, FontStrategies, l)
		tried = append(tried, keys...)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrAssetNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: font %s (tried %s)", ErrAssetNotFound, familyID, strings.Join(tried, ", "))
}

// FetchSharedDocument returns a specimen or EULA. ref, when set, is an explicit key
// tried before the conventions. familyID may be empty for the shared EULA.
func (s *SourceStore) FetchSharedDocument(ctx context.Context, kind DocumentKind, familyID, ref string) ([]byte, error) {
	var conventions []Strategy
	switch kind {
	case Specimen:
		conventions = SpecimenStrategies
	case EULA:
		conventions = EULAStrategies
	default:
		return nil, fmt.Errorf("unknown document kind %q", kind)
	}
	if ref != "" {
		explicit := Strategy{Name: "explicit-ref", Key: func(Lookup) (string, bool) { return ref, true }}
		conventions = append([]Strategy{explicit}, conventions...)
	}

	data, tried, err := s.resolve(ctx, conventions, Lookup{FamilyID: familyID})
	if err != nil {
		if errors.Is(err, ErrAssetNotFound) {
			return nil, fmt.Errorf("%w: %s for %q (tried %s)", ErrAssetNotFound, kind, familyID, strings.Join(tried, ", "))
		}
		return nil, err
	}
	return data, nil
}

// resolve walks strategies in order until one is Found or one is Fatal.
func (s *SourceStore) resolve(ctx context.Context, strategies []Strategy, l Lookup) ([]byte, []string, error) {
	var tried []string
	for _, st := range strategies {
		key, ok := st.Key(l)
		if !ok {
			continue
		}
		tried = append(tried, key)
		data, res, err := s.get(ctx, key)
		log.Debug().Str("key", key).Str("strategy", st.Name).Str("resolution", res.String()).Msg("asset lookup")
		switch res {
		case Found:
			return data, tried, nil
		case Fatal:
			return nil, tried, fmt.Errorf("read %s: %w", key, err)
		}
	}
	return nil, tried, ErrAssetNotFound
}

func (s *SourceStore) get(ctx context.Context, key string) ([]byte, Resolution, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, NotFoundTryNext, err
		}
		if isAccessDenied(err) {
			// S3 answers 403 for a missing key unless the role may list the bucket
			log.Warn().Err(err).Str("bucket", s.bucket).Str("key", key).
				Msg("access denied reading source asset; treating as missing (grant s3:ListBucket to get 404s)")
			return nil, NotFoundTryNext, err
		}
		return nil, Fatal, err
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, Fatal, err
	}
	return data, Found, nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func isAccessDenied(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "AccessDenied" {
		return true
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusForbidden
}

func italicSuffix(italic bool) string {
	if italic {
		return "-Italic"
	}
	return ""
}
