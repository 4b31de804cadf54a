package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
	"workflow-preview/core"

	"github.com/sirupsen/logrus"
)

const backendName = "memory"

type storedObject struct {
	Body []byte
	Opts core.PutOptions
}

// objectStore keeps preview images in process memory.
type objectStore struct {
	mu      sync.RWMutex
	objects map[string]storedObject
	baseURL string
}

// NewObjectStore creates an in-memory object store whose URLs are baseURL/key.
func NewObjectStore(baseURL string) *objectStore {
	if baseURL == "" {
		baseURL = "memory://previews"
	}
	return &objectStore{
		objects: make(map[string]storedObject),
		baseURL: baseURL,
	}
}

func (s *objectStore) Backend() string { return backendName }

func (s *objectStore) URL(key string) string {
	return s.baseURL + "/" + key
}

func (s *objectStore) Put(ctx context.Context, key string, body []byte, opts core.PutOptions) (string, error) {
	if key == "" {
		return "", core.UploadError(backendName, key, fmt.Errorf("empty key"))
	}
	if err := ctx.Err(); err != nil {
		return "", core.UploadError(backendName, key, err)
	}

	data := make([]byte, len(body))
	copy(data, body)

	s.mu.Lock()
	s.objects[key] = storedObject{Body: data, Opts: opts}
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{"key": key, "size": len(body), "backend": backendName}).Debug("Object stored")
	return s.URL(key), nil
}

func (s *objectStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[key]; !ok {
		return fmt.Errorf("object %s: %w", key, core.ErrObjectNotFound)
	}
	delete(s.objects, key)
	return nil
}

// Get returns a copy of the stored object body.
func (s *objectStore) Get(key string) ([]byte, core.PutOptions, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, core.PutOptions{}, false
	}
	data := make([]byte, len(obj.Body))
	copy(data, obj.Body)
	return data, obj.Opts, true
}

// Keys lists stored keys in lexical order.
func (s *objectStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// indexStore implements core.PreviewIndex and core.DeletionQueue in memory.
type indexStore struct {
	mu sync.RWMutex
	// previews maps workflowID to previewID to the preview record.
	previews map[string]map[string]core.PreviewResult
	pending  map[string]core.PendingDeletion
}

// NewIndex creates an in-memory preview index.
func NewIndex() *indexStore {
	return &indexStore{
		previews: make(map[string]map[string]core.PreviewResult),
		pending:  make(map[string]core.PendingDeletion),
	}
}

func (s *indexStore) SavePreview(ctx context.Context, result *core.PreviewResult) error {
	if result.WorkflowID == "" || result.PreviewID == "" {
		return fmt.Errorf("workflow id and preview id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	workflowPreviews, ok := s.previews[result.WorkflowID]
	if !ok {
		workflowPreviews = make(map[string]core.PreviewResult)
		s.previews[result.WorkflowID] = workflowPreviews
	}
	workflowPreviews[result.PreviewID] = *result

	logrus.WithFields(logrus.Fields{"workflow_id": result.WorkflowID, "preview_id": result.PreviewID}).Debug("Preview recorded")
	return nil
}

func (s *indexStore) GetPreview(ctx context.Context, workflowID, previewID string) (*core.PreviewResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.previews[workflowID][previewID]
	if !ok {
		return nil, fmt.Errorf("preview %s of workflow %s: %w", previewID, workflowID, core.ErrPreviewNotFound)
	}
	return &result, nil
}

func (s *indexStore) ListPreviews(ctx context.Context, workflowID string) ([]*core.PreviewResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	workflowPreviews := s.previews[workflowID]
	results := make([]*core.PreviewResult, 0, len(workflowPreviews))
	for _, result := range workflowPreviews {
		r := result
		results = append(results, &r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Timestamp != results[j].Timestamp {
			return results[i].Timestamp > results[j].Timestamp
		}
		return results[i].PreviewID > results[j].PreviewID
	})
	return results, nil
}

func (s *indexStore) DeletePreview(ctx context.Context, workflowID, previewID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	workflowPreviews, ok := s.previews[workflowID]
	if !ok {
		return fmt.Errorf("preview %s of workflow %s: %w", previewID, workflowID, core.ErrPreviewNotFound)
	}
	if _, ok := workflowPreviews[previewID]; !ok {
		return fmt.Errorf("preview %s of workflow %s: %w", previewID, workflowID, core.ErrPreviewNotFound)
	}
	delete(workflowPreviews, previewID)
	if len(workflowPreviews) == 0 {
		delete(s.previews, workflowID)
	}
	return nil
}

func (s *indexStore) AddPendingDeletion(ctx context.Context, key, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending[key]
	if !ok {
		entry = core.PendingDeletion{Key: key, CreatedAt: time.Now()}
	}
	entry.Reason = reason
	entry.Attempts++
	s.pending[key] = entry
	return nil
}

func (s *indexStore) ListPendingDeletions(ctx context.Context, limit int) ([]core.PendingDeletion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]core.PendingDeletion, 0, len(s.pending))
	for _, entry := range s.pending {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Attempts != entries[j].Attempts {
			return entries[i].Attempts < entries[j].Attempts
		}
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].Key < entries[j].Key
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *indexStore) RemovePendingDeletion(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, key)
	return nil
}
