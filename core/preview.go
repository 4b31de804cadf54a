package core

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

type (
	// Theme is the color scheme a preview image is rendered in.
	Theme string

	// Format is the encoding of a stored preview image.
	Format string
)

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Themes lists every theme a preview is produced in. The order is fixed.
var Themes = []Theme{ThemeLight, ThemeDark}

const (
	FormatWebP Format = "webp"
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

const (
	DefaultSelector = ".react-flow"
	DefaultPadding  = 32
	DefaultScale    = 1.5
	DefaultQuality  = 80
	DefaultFormat   = FormatWebP

	// CacheControlOneYear is the cache policy of every stored preview object.
	CacheControlOneYear = "max-age=31536000"

	maxScale   = 4.0
	maxPadding = 1024
)

// ParseFormat accepts the image format names used by clients. "jpg" is an alias of jpeg.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "webp":
		return FormatWebP, nil
	case "png":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	}
	return "", NewError(KindValidation, "unsupported image format %q", s)
}

// ContentType returns the MIME type objects of this format are stored with.
func (f Format) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	default:
		return "image/webp"
	}
}

func (f Format) valid() bool {
	return f == FormatWebP || f == FormatPNG || f == FormatJPEG
}

func (t Theme) valid() bool {
	return t == ThemeLight || t == ThemeDark
}

type (
	// PreviewRequest describes one preview generation. It is built by the caller and not stored.
	PreviewRequest struct {
		WorkflowID string  `json:"workflowId"`
		Selector   string  `json:"selector,omitempty"`
		Padding    int     `json:"padding,omitempty"`
		Scale      float64 `json:"scale,omitempty"`
		Format     Format  `json:"format,omitempty"`
		Quality    int     `json:"quality,omitempty"`
	}

	// PreviewResult is the record handed back for a generated pair of theme images.
	// The light and dark URLs always exist together.
	PreviewResult struct {
		PreviewID    string `json:"previewId"`
		WorkflowID   string `json:"workflowId"`
		LightModeURL string `json:"lightModeUrl"`
		DarkModeURL  string `json:"darkModeUrl"`
		Timestamp    int64  `json:"timestamp"` // Unix milliseconds
		Format       Format `json:"-"`
	}
)

// NewPreviewRequest returns a request for the workflow carrying every default.
func NewPreviewRequest(workflowID string) PreviewRequest {
	return PreviewRequest{
		WorkflowID: workflowID,
		Selector:   DefaultSelector,
		Padding:    DefaultPadding,
		Scale:      DefaultScale,
		Format:     DefaultFormat,
		Quality:    DefaultQuality,
	}
}

// WithDefaults fills zero fields that have no valid zero value. Padding 0 is a valid
// choice and is left alone; start from NewPreviewRequest to get the default padding.
func (r PreviewRequest) WithDefaults() PreviewRequest {
	if r.Selector == "" {
		r.Selector = DefaultSelector
	}
	if r.Scale == 0 {
		r.Scale = DefaultScale
	}
	if r.Quality == 0 {
		r.Quality = DefaultQuality
	}
	if r.Format == "" {
		r.Format = DefaultFormat
	}
	return r
}

// Validate reports the first invalid field as a validation error.
func (r PreviewRequest) Validate() error {
	if err := ValidateID("workflowId", r.WorkflowID); err != nil {
		return err
	}
	if strings.TrimSpace(r.Selector) == "" {
		return NewError(KindValidation, "selector is required")
	}
	if r.Padding < 0 || r.Padding > maxPadding {
		return NewError(KindValidation, "padding must be between 0 and %d", maxPadding)
	}
	if r.Scale <= 0 || r.Scale > maxScale {
		return NewError(KindValidation, "scale must be in (0, %g]", maxScale)
	}
	if r.Quality < 1 || r.Quality > 100 {
		return NewError(KindValidation, "quality must be between 1 and 100")
	}
	if !r.Format.valid() {
		return NewError(KindValidation, "unsupported image format %q", r.Format)
	}
	return nil
}

// URL returns the image URL of the given theme.
func (r *PreviewResult) URL(theme Theme) string {
	if theme == ThemeDark {
		return r.DarkModeURL
	}
	return r.LightModeURL
}

// CreatedAt converts the millisecond timestamp back to a time.
func (r *PreviewResult) CreatedAt() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// ValidateID rejects identifiers that cannot be used as a single storage path segment.
func ValidateID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return NewError(KindValidation, "%s is required", field)
	}
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) || path.Base(id) != id {
		return NewError(KindValidation, "invalid %s: must not be a path", field)
	}
	return nil
}

// PreviewKey derives the object key of one theme image:
// [prefix/]{workflowId}/{previewId}-{theme}.{format}
func PreviewKey(prefix, workflowID, previewID string, theme Theme, format Format) (string, error) {
	if err := ValidateID("workflowId", workflowID); err != nil {
		return "", err
	}
	if err := ValidateID("previewId", previewID); err != nil {
		return "", err
	}
	if !theme.valid() {
		return "", NewError(KindValidation, "unknown theme %q", theme)
	}
	if !format.valid() {
		return "", NewError(KindValidation, "unsupported image format %q", format)
	}
	name := fmt.Sprintf("%s/%s-%s.%s", workflowID, previewID, theme, format)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name, nil
	}
	return prefix + "/" + name, nil
}

// PreviewKeys derives the keys of both theme images, keyed by theme.
func PreviewKeys(prefix, workflowID, previewID string, format Format) (map[Theme]string, error) {
	keys := make(map[Theme]string, len(Themes))
	for _, theme := range Themes {
		key, err := PreviewKey(prefix, workflowID, previewID, theme, format)
		if err != nil {
			return nil, err
		}
		keys[theme] = key
	}
	return keys, nil
}

type (
	// PutOptions are the object attributes a preview image is written with.
	PutOptions struct {
		ContentType  string
		CacheControl string
		PublicRead   bool
	}

	// ObjectStore persists encoded preview images and resolves their public URLs.
	ObjectStore interface {
		// Put writes body under key and returns the public URL of the object.
		Put(ctx context.Context, key string, body []byte, opts PutOptions) (string, error)

		// Delete removes the object. A missing object yields an error matching ErrObjectNotFound.
		Delete(ctx context.Context, key string) error

		// URL returns the public URL an object stored under key resolves to.
		URL(key string) string

		// Backend names the storage backend, used in error reports and logs.
		Backend() string
	}

	// PreviewIndex keeps the generated previews of each workflow.
	PreviewIndex interface {
		SavePreview(ctx context.Context, result *PreviewResult) error

		// GetPreview returns ErrPreviewNotFound when the preview is unknown.
		GetPreview(ctx context.Context, workflowID, previewID string) (*PreviewResult, error)

		// ListPreviews returns the workflow's previews, newest first.
		ListPreviews(ctx context.Context, workflowID string) ([]*PreviewResult, error)

		DeletePreview(ctx context.Context, workflowID, previewID string) error
	}

	// PendingDeletion is an object key whose removal failed and must be retried.
	PendingDeletion struct {
		Key       string    `json:"key"`
		Reason    string    `json:"reason"`
		Attempts  int       `json:"attempts"`
		CreatedAt time.Time `json:"createdAt"`
	}

	// DeletionQueue records orphaned objects left behind by failed compensating deletes.
	// ListPendingDeletions returns the least attempted entries first, oldest first within
	// the same attempt count, so a key that keeps failing cannot hold up the others.
	DeletionQueue interface {
		AddPendingDeletion(ctx context.Context, key, reason string) error
		ListPendingDeletions(ctx context.Context, limit int) ([]PendingDeletion, error)
		RemovePendingDeletion(ctx context.Context, key string) error
	}
)

// ImagePutOptions returns the attributes every preview object of the format is stored with.
func ImagePutOptions(format Format) PutOptions {
	return PutOptions{
		ContentType:  format.ContentType(),
		CacheControl: CacheControlOneYear,
		PublicRead:   true,
	}
}
