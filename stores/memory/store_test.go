package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"workflow-preview/core"
)

func TestObjectStore_PutGetDelete(t *testing.T) {
	store := NewObjectStore("https://cdn.example.com")
	ctx := context.Background()

	body := []byte("image")
	url, err := store.Put(ctx, "wf1/p1-light.webp", body, core.ImagePutOptions(core.FormatWebP))
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if url != "https://cdn.example.com/wf1/p1-light.webp" {
		t.Errorf("URL mismatch: got %q", url)
	}

	// Mutating the caller's buffer must not change the stored object.
	body[0] = 'X'
	data, opts, ok := store.Get("wf1/p1-light.webp")
	if !ok {
		t.Fatal("Get() did not find the object")
	}
	if string(data) != "image" {
		t.Errorf("stored data mismatch: got %q", data)
	}
	if opts.ContentType != "image/webp" || opts.CacheControl != core.CacheControlOneYear || !opts.PublicRead {
		t.Errorf("put options not kept: %+v", opts)
	}

	if err := store.Delete(ctx, "wf1/p1-light.webp"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := store.Delete(ctx, "wf1/p1-light.webp"); !errors.Is(err, core.ErrObjectNotFound) {
		t.Errorf("second Delete() should report ErrObjectNotFound, got %v", err)
	}
	if len(store.Keys()) != 0 {
		t.Errorf("store should be empty, has %v", store.Keys())
	}
}

func TestObjectStore_EmptyKey(t *testing.T) {
	store := NewObjectStore("")
	if _, err := store.Put(context.Background(), "", []byte("x"), core.PutOptions{}); !core.IsKind(err, core.KindUpload) {
		t.Errorf("Put() with empty key should be an upload error, got %v", err)
	}
}

func TestIndex_SaveGetListDelete(t *testing.T) {
	index := NewIndex()
	ctx := context.Background()

	older := &core.PreviewResult{PreviewID: "p1", WorkflowID: "wf1", LightModeURL: "l1", DarkModeURL: "d1", Timestamp: 1000, Format: core.FormatWebP}
	newer := &core.PreviewResult{PreviewID: "p2", WorkflowID: "wf1", LightModeURL: "l2", DarkModeURL: "d2", Timestamp: 2000, Format: core.FormatPNG}
	other := &core.PreviewResult{PreviewID: "p3", WorkflowID: "wf2", LightModeURL: "l3", DarkModeURL: "d3", Timestamp: 3000}

	for _, r := range []*core.PreviewResult{older, newer, other} {
		if err := index.SavePreview(ctx, r); err != nil {
			t.Fatalf("SavePreview() failed: %v", err)
		}
	}

	got, err := index.GetPreview(ctx, "wf1", "p2")
	if err != nil {
		t.Fatalf("GetPreview() failed: %v", err)
	}
	if *got != *newer {
		t.Errorf("GetPreview() mismatch: got %+v, want %+v", got, newer)
	}

	list, err := index.ListPreviews(ctx, "wf1")
	if err != nil {
		t.Fatalf("ListPreviews() failed: %v", err)
	}
	if len(list) != 2 || list[0].PreviewID != "p2" || list[1].PreviewID != "p1" {
		t.Errorf("ListPreviews() should return newest first, got %+v", list)
	}

	if err := index.DeletePreview(ctx, "wf1", "p2"); err != nil {
		t.Fatalf("DeletePreview() failed: %v", err)
	}
	if _, err := index.GetPreview(ctx, "wf1", "p2"); !errors.Is(err, core.ErrPreviewNotFound) {
		t.Errorf("GetPreview() after delete should report ErrPreviewNotFound, got %v", err)
	}
	if err := index.DeletePreview(ctx, "wf1", "p2"); !errors.Is(err, core.ErrPreviewNotFound) {
		t.Errorf("DeletePreview() of unknown preview should report ErrPreviewNotFound, got %v", err)
	}
	if err := index.DeletePreview(ctx, "nope", "p2"); !errors.Is(err, core.ErrPreviewNotFound) {
		t.Errorf("DeletePreview() of unknown workflow should report ErrPreviewNotFound, got %v", err)
	}

	empty, err := index.ListPreviews(ctx, "unknown")
	if err != nil || len(empty) != 0 {
		t.Errorf("ListPreviews() of unknown workflow should be empty, got %v, %v", empty, err)
	}
}

func TestIndex_PendingDeletions(t *testing.T) {
	index := NewIndex()
	ctx := context.Background()

	if err := index.AddPendingDeletion(ctx, "wf1/p1-light.webp", "timeout"); err != nil {
		t.Fatalf("AddPendingDeletion() failed: %v", err)
	}
	if err := index.AddPendingDeletion(ctx, "wf1/p1-light.webp", "timeout again"); err != nil {
		t.Fatalf("AddPendingDeletion() failed: %v", err)
	}
	if err := index.AddPendingDeletion(ctx, "wf1/p2-dark.webp", "denied"); err != nil {
		t.Fatalf("AddPendingDeletion() failed: %v", err)
	}

	entries, err := index.ListPendingDeletions(ctx, 10)
	if err != nil {
		t.Fatalf("ListPendingDeletions() failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 pending deletions, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Key == "wf1/p1-light.webp" && (e.Attempts != 2 || e.Reason != "timeout again") {
			t.Errorf("re-adding should bump attempts and reason, got %+v", e)
		}
	}

	limited, _ := index.ListPendingDeletions(ctx, 1)
	if len(limited) != 1 {
		t.Errorf("limit not applied: got %d entries", len(limited))
	}
	if len(limited) == 1 && limited[0].Key != "wf1/p2-dark.webp" {
		t.Errorf("least attempted entry should come first, got %+v", limited[0])
	}

	if err := index.RemovePendingDeletion(ctx, "wf1/p1-light.webp"); err != nil {
		t.Fatalf("RemovePendingDeletion() failed: %v", err)
	}
	entries, _ = index.ListPendingDeletions(ctx, 0)
	if len(entries) != 1 || entries[0].Key != "wf1/p2-dark.webp" {
		t.Errorf("unexpected pending deletions after remove: %+v", entries)
	}
}

func TestObjectStore_ConcurrentAccess(t *testing.T) {
	store := NewObjectStore("")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "wf1/" + string(rune('a'+i%26)) + ".png"
			store.Put(ctx, key, []byte{byte(i)}, core.PutOptions{})
			store.Get(key)
			store.Keys()
		}(i)
	}
	wg.Wait()

	if n := len(store.Keys()); n != 26 {
		t.Errorf("expected 26 distinct keys, got %d", n)
	}
}
