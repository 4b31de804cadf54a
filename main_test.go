package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"workflow-preview/config"
	"workflow-preview/core"
	"workflow-preview/preview"
	"workflow-preview/stores"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("png.Encode() failed: %v", err)
	}
	return buf.Bytes()
}

func newTestServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	store, err := stores.GetObjectStore(context.Background(), cfg.Storage)
	if err != nil {
		t.Fatalf("GetObjectStore() failed: %v", err)
	}
	index, err := stores.GetIndex(cfg.Index)
	if err != nil {
		t.Fatalf("GetIndex() failed: %v", err)
	}
	svc := preview.NewService(store, index, preview.WithDeletionQueue(index), preview.WithKeyPrefix(cfg.Storage.KeyPrefix))

	server := httptest.NewServer(setupRouter(cfg, svc, store, nil))
	t.Cleanup(server.Close)
	return server
}

func testConfig(mode config.StorageMode, localPath, publicURL string) *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{
			Mode:          mode,
			LocalPath:     localPath,
			PublicBaseURL: publicURL,
		},
		Index:          config.IndexConfig{Mode: config.IndexMemory},
		MaxUploadBytes: 1 << 20,
		AllowedOrigins: []string{"*"},
	}
}

func publish(t *testing.T, baseURL, workflowID string, img []byte) core.PreviewResult {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("workflowId", workflowID)
	for _, field := range []string{"lightModeImage", "darkModeImage"} {
		fw, _ := mw.CreateFormFile(field, field+".png")
		fw.Write(img)
	}
	mw.Close()

	resp, err := http.Post(baseURL+"/api/workflow-preview", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("publish request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("publish status = %d, body %s", resp.StatusCode, body)
	}

	var result core.PreviewResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode publish response: %v", err)
	}
	return result
}

func TestPreviewLifecycle(t *testing.T) {
	server := newTestServer(t, testConfig(config.StorageMemory, "", ""))

	result := publish(t, server.URL, "wf1", testPNG(t))
	if !strings.HasSuffix(result.LightModeURL, "/wf1/"+result.PreviewID+"-light.png") {
		t.Errorf("unexpected light URL: %s", result.LightModeURL)
	}

	resp, err := http.Get(server.URL + "/api/workflows/wf1/previews")
	if err != nil {
		t.Fatalf("list request failed: %v", err)
	}
	var list []core.PreviewResult
	json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if len(list) != 1 || list[0].PreviewID != result.PreviewID {
		t.Fatalf("unexpected list: %+v", list)
	}

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/api/workflows/wf1/previews/"+result.PreviewID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/api/workflows/wf1/previews/" + result.PreviewID)
	if err != nil {
		t.Fatalf("get request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestGenerateEndpoint(t *testing.T) {
	server := newTestServer(t, testConfig(config.StorageMemory, "", ""))

	payload := `{"state": {"blocks": {"b1": {"id": "b1", "type": "starter", "name": "Start", "position": {"x": 0, "y": 0}}}}, "scale": 1}`
	resp, err := http.Post(server.URL+"/api/workflows/wf1/previews", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("generate request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("generate status = %d, body %s", resp.StatusCode, body)
	}
	var result core.PreviewResult
	json.NewDecoder(resp.Body).Decode(&result)
	if !strings.HasSuffix(result.DarkModeURL, "-dark.png") {
		t.Errorf("server-side previews default to png, got %s", result.DarkModeURL)
	}
}

func TestFilesystemModeServesPreviews(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(config.StorageFilesystem, dir, "")
	server := newTestServer(t, cfg)
	img := testPNG(t)

	result := publish(t, server.URL, "wf1", img)

	resp, err := http.Get(server.URL + "/previews/wf1/" + result.PreviewID + "-light.png")
	if err != nil {
		t.Fatalf("file request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !bytes.Equal(body, img) {
		t.Errorf("stored preview not served: status %d, %d bytes", resp.StatusCode, len(body))
	}
	if cc := resp.Header.Get("Cache-Control"); cc != core.CacheControlOneYear {
		t.Errorf("Cache-Control = %q, want %q", cc, core.CacheControlOneYear)
	}
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t, testConfig(config.StorageMemory, "", ""))

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" || body["storage"] != "memory" {
		t.Errorf("unexpected health response: %d %v", resp.StatusCode, body)
	}
}

func TestUploadLimit(t *testing.T) {
	cfg := testConfig(config.StorageMemory, "", "")
	cfg.MaxUploadBytes = 512
	server := newTestServer(t, cfg)

	payload := `{"state": {"blocks": {}}, "padding": ` + strings.Repeat(" ", 1024) + `0}`
	resp, err := http.Post(server.URL+"/api/workflows/wf1/previews", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("generate request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", resp.StatusCode)
	}
}

func TestGenerateEndpoint_RejectsOversizedCanvas(t *testing.T) {
	server := newTestServer(t, testConfig(config.StorageMemory, "", ""))

	testCases := []struct {
		name    string
		payload string
	}{
		{"far block", `{"state": {"blocks": {"a": {"id": "a", "position": {"x": 0, "y": 0}}, "b": {"id": "b", "position": {"x": 1e300, "y": 0}}}}}`},
		{"wide canvas", `{"state": {"blocks": {"a": {"id": "a", "position": {"x": 0, "y": 0}}, "b": {"id": "b", "position": {"x": 1000000, "y": 1000000}}}}, "format": "png"}`},
		{"huge padding", `{"state": {"blocks": {}}, "padding": 9000000000000000000}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(server.URL+"/api/workflows/wf1/previews", "application/json", strings.NewReader(tc.payload))
			if err != nil {
				t.Fatalf("generate request failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestGenerateEndpoint_RejectsWebP(t *testing.T) {
	server := newTestServer(t, testConfig(config.StorageMemory, "", ""))

	payload := `{"state": {"blocks": {}}, "format": "webp"}`
	resp, err := http.Post(server.URL+"/api/workflows/wf1/previews", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("generate request failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(body["error"], "webp") {
		t.Errorf("unexpected response: %d %v", resp.StatusCode, body)
	}
}
