package preview

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"time"
	"workflow-preview/capture"
	"workflow-preview/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

// Notifier is told about previews that were created or removed.
type Notifier interface {
	PreviewCreated(result *core.PreviewResult)
	PreviewDeleted(workflowID, previewID string)
}

type noopNotifier struct{}

func (noopNotifier) PreviewCreated(*core.PreviewResult) {}
func (noopNotifier) PreviewDeleted(string, string)      {}

// Service produces, stores and removes workflow previews.
type Service struct {
	store     core.ObjectStore
	index     core.PreviewIndex
	queue     core.DeletionQueue
	notifier  Notifier
	keyPrefix string
	newID     func() string
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithDeletionQueue records objects whose compensating delete failed.
func WithDeletionQueue(queue core.DeletionQueue) Option {
	return func(s *Service) { s.queue = queue }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithKeyPrefix stores every object below prefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Service) { s.keyPrefix = prefix }
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

func WithClock(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

func NewService(store core.ObjectStore, index core.PreviewIndex, opts ...Option) *Service {
	s := &Service{
		store:    store,
		index:    index,
		notifier: noopNotifier{},
		newID:    func() string { return ulid.Make().String() },
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate captures the element matching req.Selector in both themes, uploads both
// images and records the preview. Either both images are stored or neither is.
func (s *Service) Generate(ctx context.Context, doc *capture.Document, req core.PreviewRequest) (*core.PreviewResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Format == core.FormatWebP {
		return nil, core.NewError(core.KindValidation, "webp previews cannot be rendered on the server, use png or jpeg")
	}

	log := logrus.WithFields(logrus.Fields{"workflow_id": req.WorkflowID, "selector": req.Selector})

	var el *capture.Node
	if doc != nil {
		el = doc.Query(req.Selector)
	}
	if el == nil {
		log.Warn("Preview element not found")
		return nil, core.NewError(core.KindElementNotFound, "element with selector %q not found", req.Selector)
	}

	previewID := s.newID()
	timestamp := s.now().UnixMilli()
	log = log.WithField("preview_id", previewID)

	keys, err := core.PreviewKeys(s.keyPrefix, req.WorkflowID, previewID, req.Format)
	if err != nil {
		return nil, err
	}

	bodies, err := s.capture(ctx, doc, el, req)
	if err != nil {
		log.WithError(err).Error("Failed to capture workflow preview")
		return nil, err
	}

	urls, err := s.uploadPair(ctx, keys, bodies, req.Format)
	if err != nil {
		log.WithError(err).Error("Failed to upload workflow preview")
		return nil, err
	}

	result := &core.PreviewResult{
		PreviewID:    previewID,
		WorkflowID:   req.WorkflowID,
		LightModeURL: urls[core.ThemeLight],
		DarkModeURL:  urls[core.ThemeDark],
		Timestamp:    timestamp,
		Format:       req.Format,
	}
	s.record(ctx, result)
	log.Info("Workflow preview generated")
	return result, nil
}

// capture clones el into one off-screen container per theme and rasterizes both
// concurrently. The containers are detached before it returns.
func (s *Service) capture(ctx context.Context, doc *capture.Document, el *capture.Node, req core.PreviewRequest) (map[core.Theme][]byte, error) {
	containers := make([]*capture.Container, len(core.Themes))
	for i, theme := range core.Themes {
		c, err := capture.CloneInTheme(doc, el, theme)
		if err != nil {
			return nil, err
		}
		defer doc.Detach(c)
		containers[i] = c
	}

	opts := capture.OptionsFor(req)
	buffers := make([][]byte, len(core.Themes))
	var g errgroup.Group
	for i := range containers {
		g.Go(func() error {
			data, err := capture.Rasterize(ctx, containers[i], opts)
			if err != nil {
				return err
			}
			if len(data) == 0 {
				return core.NewError(core.KindRasterization, "empty %s image", core.Themes[i])
			}
			buffers[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	bodies := make(map[core.Theme][]byte, len(core.Themes))
	for i, theme := range core.Themes {
		bodies[theme] = buffers[i]
	}
	return bodies, nil
}

// Publish stores a pair of images rasterized by the client. format may be empty, in
// which case the sniffed format of the payloads is used.
func (s *Service) Publish(ctx context.Context, workflowID string, format core.Format, light, dark []byte) (*core.PreviewResult, error) {
	if err := core.ValidateID("workflowId", workflowID); err != nil {
		return nil, err
	}
	if len(light) == 0 {
		return nil, core.NewError(core.KindValidation, "lightModeImage is required")
	}
	if len(dark) == 0 {
		return nil, core.NewError(core.KindValidation, "darkModeImage is required")
	}

	lightFormat, err := sniffFormat("lightModeImage", light)
	if err != nil {
		return nil, err
	}
	darkFormat, err := sniffFormat("darkModeImage", dark)
	if err != nil {
		return nil, err
	}
	if lightFormat != darkFormat {
		return nil, core.NewError(core.KindValidation, "light and dark images must share a format, got %s and %s", lightFormat, darkFormat)
	}
	if format == "" {
		format = lightFormat
	} else if format != lightFormat {
		return nil, core.NewError(core.KindValidation, "declared format %s does not match uploaded %s images", format, lightFormat)
	}

	previewID := s.newID()
	log := logrus.WithFields(logrus.Fields{"workflow_id": workflowID, "preview_id": previewID, "format": format})

	keys, err := core.PreviewKeys(s.keyPrefix, workflowID, previewID, format)
	if err != nil {
		return nil, err
	}

	urls, err := s.uploadPair(ctx, keys, map[core.Theme][]byte{core.ThemeLight: light, core.ThemeDark: dark}, format)
	if err != nil {
		log.WithError(err).Error("Failed to upload workflow preview")
		return nil, err
	}

	result := &core.PreviewResult{
		PreviewID:    previewID,
		WorkflowID:   workflowID,
		LightModeURL: urls[core.ThemeLight],
		DarkModeURL:  urls[core.ThemeDark],
		Timestamp:    s.now().UnixMilli(),
		Format:       format,
	}
	s.record(ctx, result)
	log.Info("Workflow preview published")
	return result, nil
}

func sniffFormat(field string, data []byte) (core.Format, error) {
	_, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", core.WrapError(core.KindValidation, err, "%s is not a supported image", field)
	}
	format, err := core.ParseFormat(name)
	if err != nil {
		return "", core.NewError(core.KindValidation, "%s has unsupported format %s", field, name)
	}
	return format, nil
}

// uploadPair writes both theme images concurrently. When one upload fails the other
// is deleted again so no half pair is left behind.
func (s *Service) uploadPair(ctx context.Context, keys map[core.Theme]string, bodies map[core.Theme][]byte, format core.Format) (map[core.Theme]string, error) {
	opts := core.ImagePutOptions(format)
	urls := make([]string, len(core.Themes))
	errs := make([]error, len(core.Themes))

	var g errgroup.Group
	for i, theme := range core.Themes {
		g.Go(func() error {
			url, err := s.store.Put(ctx, keys[theme], bodies[theme], opts)
			if err != nil && !core.IsKind(err, core.KindUpload) {
				err = core.UploadError(s.store.Backend(), keys[theme], err)
			}
			urls[i], errs[i] = url, err
			return err
		})
	}

	if err := g.Wait(); err != nil {
		for i, theme := range core.Themes {
			if errs[i] == nil {
				s.compensate(ctx, keys[theme], err)
			}
		}
		return nil, err
	}

	out := make(map[core.Theme]string, len(core.Themes))
	for i, theme := range core.Themes {
		out[theme] = urls[i]
	}
	return out, nil
}

// compensate removes an object whose sibling failed to upload. If that fails too the
// key is queued for the sweeper.
func (s *Service) compensate(ctx context.Context, key string, cause error) {
	ctx = context.WithoutCancel(ctx)
	log := logrus.WithFields(logrus.Fields{"key": key, "backend": s.store.Backend()})

	err := s.store.Delete(ctx, key)
	if err == nil || errors.Is(err, core.ErrObjectNotFound) {
		log.WithField("cause", cause.Error()).Warn("Removed uploaded image after sibling upload failed")
		return
	}

	if s.queue == nil {
		log.WithError(err).Error("Failed to remove orphaned image")
		return
	}
	if qerr := s.queue.AddPendingDeletion(ctx, key, err.Error()); qerr != nil {
		log.WithError(qerr).Error("Failed to queue orphaned image for deletion")
		return
	}
	log.WithError(err).Warn("Queued orphaned image for deletion")
}

// record adds the preview to the index and announces it. The images are already
// stored, so an index failure is logged and does not fail the request.
func (s *Service) record(ctx context.Context, result *core.PreviewResult) {
	if s.index != nil {
		if err := s.index.SavePreview(ctx, result); err != nil {
			logrus.WithFields(logrus.Fields{"workflow_id": result.WorkflowID, "preview_id": result.PreviewID}).WithError(err).Error("Failed to record preview")
		}
	}
	s.notifier.PreviewCreated(result)
}

// Delete removes both theme images of a preview and its index record. format may be
// empty; it is then taken from the index, else the default format. Objects that are
// already gone count as deleted, so deleting an unknown preview succeeds.
func (s *Service) Delete(ctx context.Context, workflowID, previewID string, format core.Format) error {
	if err := core.ValidateID("workflowId", workflowID); err != nil {
		return err
	}
	if err := core.ValidateID("previewId", previewID); err != nil {
		return err
	}

	log := logrus.WithFields(logrus.Fields{"workflow_id": workflowID, "preview_id": previewID})

	if format == "" {
		format = core.DefaultFormat
		if s.index != nil {
			record, err := s.index.GetPreview(ctx, workflowID, previewID)
			switch {
			case err == nil && record.Format != "":
				format = record.Format
			case err != nil && !errors.Is(err, core.ErrPreviewNotFound):
				log.WithError(err).Warn("Failed to look up preview format, using default")
			}
		}
	}

	keys, err := core.PreviewKeys(s.keyPrefix, workflowID, previewID, format)
	if err != nil {
		return err
	}

	errs := make([]error, len(core.Themes))
	var g errgroup.Group
	for i, theme := range core.Themes {
		key := keys[theme]
		g.Go(func() error {
			err := s.store.Delete(ctx, key)
			if errors.Is(err, core.ErrObjectNotFound) {
				log.WithField("key", key).Warn("Preview image already absent")
				err = nil
			}
			errs[i] = err
			return err
		})
	}
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Failed to delete workflow preview")
		return &core.Error{
			Kind:    core.KindDelete,
			Message: "failed to delete preview " + previewID,
			Backend: s.store.Backend(),
			Cause:   err,
		}
	}

	if s.index != nil {
		if err := s.index.DeletePreview(ctx, workflowID, previewID); err != nil && !errors.Is(err, core.ErrPreviewNotFound) {
			log.WithError(err).Error("Failed to remove preview record")
			return core.WrapError(core.KindDelete, err, "failed to remove preview record %s", previewID)
		}
	}

	s.notifier.PreviewDeleted(workflowID, previewID)
	log.Info("Workflow preview deleted")
	return nil
}

// List returns the recorded previews of a workflow, newest first.
func (s *Service) List(ctx context.Context, workflowID string) ([]*core.PreviewResult, error) {
	if err := core.ValidateID("workflowId", workflowID); err != nil {
		return nil, err
	}
	if s.index == nil {
		return []*core.PreviewResult{}, nil
	}
	return s.index.ListPreviews(ctx, workflowID)
}

func (s *Service) Get(ctx context.Context, workflowID, previewID string) (*core.PreviewResult, error) {
	if err := core.ValidateID("workflowId", workflowID); err != nil {
		return nil, err
	}
	if err := core.ValidateID("previewId", previewID); err != nil {
		return nil, err
	}
	if s.index == nil {
		return nil, core.WrapError(core.KindNotFound, core.ErrPreviewNotFound, "preview %s not found", previewID)
	}

	result, err := s.index.GetPreview(ctx, workflowID, previewID)
	if err != nil {
		if errors.Is(err, core.ErrPreviewNotFound) {
			return nil, core.WrapError(core.KindNotFound, err, "preview %s not found", previewID)
		}
		return nil, err
	}
	return result, nil
}
