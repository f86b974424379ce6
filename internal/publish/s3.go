// Package publish writes approved articles to the public content store.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"
	"unicode"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/helixir/article-pipeline-service/internal/domain"
)

// ObjectPutter is the subset of *s3.Client the store uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config holds S3 store settings.
type Config struct {
	Bucket        string
	Region        string
	Profile       string
	Prefix        string
	PublicBaseURL string
	UsePathStyle  bool
}

// S3Store publishes articles as a JSON document and an HTML page.
type S3Store struct {
	client  ObjectPutter
	bucket  string
	prefix  string
	baseURL string
	logger  zerolog.Logger
	now     func() time.Time
}

// NewS3Store creates a store using the default AWS credential chain.
func NewS3Store(ctx context.Context, cfg Config, logger zerolog.Logger) (*S3Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3StoreWithClient(client, cfg, logger), nil
}

// NewS3StoreWithClient creates a store over an existing client.
func NewS3StoreWithClient(client ObjectPutter, cfg Config, logger zerolog.Logger) *S3Store {
	return &S3Store{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		baseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		logger:  logger.With().Str("component", "s3_store").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Document is the JSON form of a published article.
type Document struct {
	ID              string            `json:"id"`
	Slug            string            `json:"slug"`
	Title           string            `json:"title"`
	MetaTitle       string            `json:"meta_title,omitempty"`
	MetaDescription string            `json:"meta_description,omitempty"`
	FocusKeywords   []string          `json:"focus_keywords,omitempty"`
	Keyword         string            `json:"keyword,omitempty"`
	Category        string            `json:"category,omitempty"`
	ImageURL        string            `json:"image_url,omitempty"`
	Content         string            `json:"content"`
	Scores          domain.Scores     `json:"scores"`
	Visibility      domain.Visibility `json:"visibility"`
	GenerationCycle int               `json:"generation_cycle"`
	PublishedAt     time.Time         `json:"published_at"`
}

// Publish uploads a and returns the public URL of its HTML page.
func (s *S3Store) Publish(ctx context.Context, a *domain.GenerationArticle, visibility domain.Visibility) (string, error) {
	if a.Artifacts.Content == "" {
		return "", domain.NewValidationError("content", "article has no content to publish")
	}

	doc := s.document(a, visibility)
	base := ObjectKey(s.prefix, doc.Slug, a.ID.String())

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	if err := s.put(ctx, base+".json", body, "application/json", visibility); err != nil {
		return "", err
	}

	page, err := renderHTML(doc)
	if err != nil {
		return "", err
	}
	htmlKey := base + ".html"
	if err := s.put(ctx, htmlKey, page, "text/html; charset=utf-8", visibility); err != nil {
		return "", err
	}

	url := s.baseURL + "/" + htmlKey
	s.logger.Info().Str("article_id", a.ID.String()).Str("key", htmlKey).Str("visibility", string(visibility)).
		Msg("article uploaded")
	return url, nil
}

func (s *S3Store) put(ctx context.Context, key string, body []byte, contentType string, visibility domain.Visibility) error {
	acl, cacheControl := objectPolicy(visibility)
	in := &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(body),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String(cacheControl),
		ACL:          acl,
		Metadata:     map[string]string{"visibility": string(visibility)},
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) document(a *domain.GenerationArticle, visibility domain.Visibility) Document {
	title := a.Artifacts.Title
	if title == "" && a.Keyword != nil {
		title = a.Keyword.Keyword
	}
	doc := Document{
		ID:              a.ID.String(),
		Slug:            Slugify(title),
		Title:           title,
		MetaTitle:       a.Artifacts.MetaTitle,
		MetaDescription: a.Artifacts.MetaDescription,
		FocusKeywords:   a.Artifacts.FocusKeywords,
		ImageURL:        a.Artifacts.ImageURL,
		Content:         a.Artifacts.Content,
		Scores:          a.Scores,
		Visibility:      visibility,
		GenerationCycle: a.GenerationCycle,
		PublishedAt:     s.now(),
	}
	if a.Keyword != nil {
		doc.Keyword = a.Keyword.Keyword
		doc.Category = a.Keyword.Category
	}
	return doc
}

// objectPolicy returns the canned ACL and Cache-Control for visibility.
// Unlisted pages are readable by URL but marked noindex in the page itself.
func objectPolicy(v domain.Visibility) (s3types.ObjectCannedACL, string) {
	switch v {
	case domain.VisibilityPrivate:
		return s3types.ObjectCannedACLPrivate, "private, no-store"
	case domain.VisibilityUnlisted:
		return s3types.ObjectCannedACLPublicRead, "public, max-age=300"
	default:
		return s3types.ObjectCannedACLPublicRead, "public, max-age=3600"
	}
}

// ObjectKey returns "<prefix>/<slug>-<id>" without an extension.
func ObjectKey(prefix, slug, id string) string {
	name := id
	if slug != "" {
		name = slug + "-" + id
	}
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// Slugify lowercases s and joins its letters and digits with single hyphens.
func Slugify(s string) string {
	var b strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if hyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			hyphen = false
			b.WriteRune(r)
		default:
			hyphen = true
		}
		if b.Len() >= 80 {
			break
		}
	}
	return strings.TrimRight(b.String(), "-")
}

var pageTemplate = template.Must(template.New("article").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{if .MetaTitle}}{{.MetaTitle}}{{else}}{{.Title}}{{end}}</title>
{{- if .MetaDescription}}
<meta name="description" content="{{.MetaDescription}}">
{{- end}}
{{- if .Keywords}}
<meta name="keywords" content="{{.Keywords}}">
{{- end}}
{{- if .NoIndex}}
<meta name="robots" content="noindex, nofollow">
{{- end}}
</head>
<body>
<article>
<h1>{{.Title}}</h1>
{{- if .ImageURL}}
<img src="{{.ImageURL}}" alt="{{.Title}}">
{{- end}}
{{- range .Paragraphs}}
<p>{{.}}</p>
{{- end}}
</article>
</body>
</html>
`))

type pageData struct {
	Document
	Keywords   string
	NoIndex    bool
	Paragraphs []string
}

func renderHTML(doc Document) ([]byte, error) {
	data := pageData{
		Document: doc,
		Keywords: strings.Join(doc.FocusKeywords, ", "),
		NoIndex:  doc.Visibility != domain.VisibilityPublic,
	}
	for _, p := range strings.Split(strings.ReplaceAll(doc.Content, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			data.Paragraphs = append(data.Paragraphs, p)
		}
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render article page: %w", err)
	}
	return buf.Bytes(), nil
}
