package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/RnLe/DeepRecall-sub014/internal/blob"
	"github.com/RnLe/DeepRecall-sub014/internal/server"
	"github.com/RnLe/DeepRecall-sub014/internal/testutil"
)

const testAdminToken = "test-admin-token"

func newTestServer(t *testing.T) (*httptest.Server, *testutil.TestEnv) {
	t.Helper()

	env := testutil.NewTestEnv(t)
	srv := server.NewServer("127.0.0.1:0", env.Service, env.Syncer, blob.NewNopLogger(),
		testAdminToken, server.DefaultMaxUploadBytes, testutil.TestDeviceID)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, env
}

// multipartUpload builds a multipart body with a file part and an
// optional metadata part.
func multipartUpload(t *testing.T, filename, mime string, content []byte, metadata string) (io.Reader, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(map[string][]string)
	h["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename=%q`, filename)}
	h["Content-Type"] = []string{mime}
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatalf("creating file part: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("writing file part: %v", err)
	}

	if metadata != "" {
		if err := w.WriteField("metadata", metadata); err != nil {
			t.Fatalf("writing metadata part: %v", err)
		}
	}

	if err := w.Close(); err != nil {
		t.Fatalf("closing multipart writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
}

func TestServer_Upload(t *testing.T) {
	t.Run("stores a markdown file", func(t *testing.T) {
		ts, _ := newTestServer(t)

		body, contentType := multipartUpload(t, "note.md", "text/markdown",
			[]byte("# Hello"), `{"role":"markdown","title":"Hello"}`)
		resp, err := http.Post(ts.URL+"/api/library/upload", contentType, body)
		if err != nil {
			t.Fatalf("POST upload: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}

		var got struct {
			Blob struct {
				SHA256   string `json:"sha256"`
				Size     int64  `json:"size"`
				Mime     string `json:"mime"`
				Filename string `json:"filename"`
			} `json:"blob"`
		}
		decodeBody(t, resp, &got)

		if len(got.Blob.SHA256) != 64 {
			t.Errorf("sha256 length = %d, want 64", len(got.Blob.SHA256))
		}
		if got.Blob.Mime != "text/markdown" {
			t.Errorf("mime = %q, want text/markdown", got.Blob.Mime)
		}
		if got.Blob.Filename != "note.md" {
			t.Errorf("filename = %q, want note.md", got.Blob.Filename)
		}
	})

	t.Run("rejects oversized uploads with 413", func(t *testing.T) {
		env := testutil.NewTestEnv(t)
		srv := server.NewServer("127.0.0.1:0", env.Service, env.Syncer, blob.NewNopLogger(),
			testAdminToken, 1024, testutil.TestDeviceID)
		ts := httptest.NewServer(srv.Handler())
		defer ts.Close()

		big := bytes.Repeat([]byte("x"), 4096)
		body, contentType := multipartUpload(t, "big.md", "text/markdown", big, "")
		resp, err := http.Post(ts.URL+"/api/library/upload", contentType, body)
		if err != nil {
			t.Fatalf("POST upload: %v", err)
		}
		if resp.StatusCode != http.StatusRequestEntityTooLarge {
			t.Fatalf("status = %d, want 413", resp.StatusCode)
		}

		var got struct {
			Error string `json:"error"`
		}
		decodeBody(t, resp, &got)
		if !strings.Contains(got.Error, "too large") {
			t.Errorf("error = %q, want it to mention too large", got.Error)
		}
	})

	t.Run("rejects unsupported mime types", func(t *testing.T) {
		ts, _ := newTestServer(t)

		body, contentType := multipartUpload(t, "evil.exe", "application/x-msdownload",
			[]byte("MZ"), "")
		resp, err := http.Post(ts.URL+"/api/library/upload", contentType, body)
		if err != nil {
			t.Fatalf("POST upload: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestServer_CreateMarkdown(t *testing.T) {
	ts, _ := newTestServer(t)

	payload := `{"content":"# My Note","title":"My Note"}`
	resp, err := http.Post(ts.URL+"/api/library/create-markdown", "application/json",
		strings.NewReader(payload))
	if err != nil {
		t.Fatalf("POST create-markdown: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got struct {
		Blob struct {
			SHA256   string `json:"sha256"`
			Filename string `json:"filename"`
		} `json:"blob"`
	}
	decodeBody(t, resp, &got)

	if got.Blob.Filename != "my_note.md" {
		t.Errorf("filename = %q, want my_note.md", got.Blob.Filename)
	}
	if len(got.Blob.SHA256) != 64 {
		t.Errorf("sha256 length = %d, want 64", len(got.Blob.SHA256))
	}
}

func TestServer_GetBlob(t *testing.T) {
	t.Run("round-trips bytes with cache headers", func(t *testing.T) {
		ts, env := newTestServer(t)

		content := []byte("served bytes")
		res, err := env.Service.StoreBlob(context.Background(), content, "s.md", "text/markdown", "", "")
		if err != nil {
			t.Fatalf("StoreBlob() error = %v", err)
		}

		resp, err := http.Get(ts.URL + "/api/blob/" + res.SHA256)
		if err != nil {
			t.Fatalf("GET blob: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "text/markdown" {
			t.Errorf("Content-Type = %q, want text/markdown", ct)
		}
		if cc := resp.Header.Get("Cache-Control"); !strings.Contains(cc, "immutable") {
			t.Errorf("Cache-Control = %q, want immutable", cc)
		}

		got, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("reading body: %v", err)
		}
		if !bytes.Equal(got, content) {
			t.Error("fetched bytes differ from stored content")
		}
	})

	t.Run("unknown hash is 404", func(t *testing.T) {
		ts, _ := newTestServer(t)

		hash := blob.HashBytes([]byte("never uploaded"))
		resp, err := http.Get(ts.URL + "/api/blob/" + hash)
		if err != nil {
			t.Fatalf("GET blob: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})
}

func TestServer_ListFiles(t *testing.T) {
	ts, env := newTestServer(t)

	for i := 0; i < 2; i++ {
		content := []byte(fmt.Sprintf("file %d", i))
		if _, err := env.Service.StoreBlob(context.Background(), content, fmt.Sprintf("f%d.md", i), "text/markdown", "", ""); err != nil {
			t.Fatalf("StoreBlob() error = %v", err)
		}
	}

	resp, err := http.Get(ts.URL + "/api/files")
	if err != nil {
		t.Fatalf("GET files: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got []struct {
		SHA256   string `json:"sha256"`
		Filename string `json:"filename"`
	}
	decodeBody(t, resp, &got)
	if len(got) != 2 {
		t.Errorf("got %d files, want 2", len(got))
	}
}

func TestServer_WriteBlob(t *testing.T) {
	ts, env := newTestServer(t)

	hash := blob.HashBytes([]byte("remote content"))
	payload := fmt.Sprintf(`{"sha256":%q,"size":14,"mime":"text/markdown","filename":"r.md","deviceId":"device-remote"}`, hash)
	resp, err := http.Post(ts.URL+"/api/writes/blobs", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("POST writes/blobs: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got struct {
		Success bool `json:"success"`
	}
	decodeBody(t, resp, &got)
	if !got.Success {
		t.Error("success = false")
	}

	meta, err := env.Coord.FindMeta(context.Background(), hash)
	if err != nil {
		t.Fatalf("FindMeta() error = %v", err)
	}
	if meta == nil {
		t.Fatal("coordination metadata not written")
	}

	// Bad hash shape is a validation error.
	resp, err = http.Post(ts.URL+"/api/writes/blobs", "application/json",
		strings.NewReader(`{"sha256":"nope","deviceId":"d"}`))
	if err != nil {
		t.Fatalf("POST writes/blobs: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func adminRequest(t *testing.T, method, url, body, token string) *http.Response {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func TestServer_AdminAuth(t *testing.T) {
	ts, _ := newTestServer(t)

	t.Run("missing token is 401", func(t *testing.T) {
		resp := adminRequest(t, http.MethodGet, ts.URL+"/api/admin/stats", "", "")
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
	})

	t.Run("wrong token is 401", func(t *testing.T) {
		resp := adminRequest(t, http.MethodGet, ts.URL+"/api/admin/stats", "", "wrong-token")
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
	})

	t.Run("valid token is accepted", func(t *testing.T) {
		resp := adminRequest(t, http.MethodGet, ts.URL+"/api/admin/stats", "", testAdminToken)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
	})
}

func TestServer_SyncBlob(t *testing.T) {
	ts, env := newTestServer(t)

	t.Run("publishes a local blob", func(t *testing.T) {
		res, err := env.Service.StoreBlob(context.Background(), []byte("sync via api"), "s.md", "text/markdown", "", "")
		if err != nil {
			t.Fatalf("StoreBlob() error = %v", err)
		}

		payload := fmt.Sprintf(`{"sha256":%q,"deviceId":"device-two"}`, res.SHA256)
		resp := adminRequest(t, http.MethodPost, ts.URL+"/api/admin/sync-blob", payload, testAdminToken)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}

		var got struct {
			Success bool   `json:"success"`
			SHA256  string `json:"sha256"`
		}
		decodeBody(t, resp, &got)
		if !got.Success || got.SHA256 != res.SHA256 {
			t.Errorf("response = %+v", got)
		}
	})

	t.Run("locally absent blob still succeeds", func(t *testing.T) {
		hash := blob.HashBytes([]byte("on another device"))
		payload := fmt.Sprintf(`{"sha256":%q,"deviceId":"device-two"}`, hash)
		resp := adminRequest(t, http.MethodPost, ts.URL+"/api/admin/sync-blob", payload, testAdminToken)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}

		var got struct {
			Success bool `json:"success"`
		}
		decodeBody(t, resp, &got)
		if !got.Success {
			t.Error("success = false for peer-published blob")
		}
	})
}

func TestServer_AdminBlobOps(t *testing.T) {
	ts, env := newTestServer(t)
	ctx := context.Background()

	res, err := env.Service.StoreBlob(ctx, []byte("admin target"), "a.md", "text/markdown", "", "")
	if err != nil {
		t.Fatalf("StoreBlob() error = %v", err)
	}

	t.Run("list includes paths and health", func(t *testing.T) {
		resp := adminRequest(t, http.MethodGet, ts.URL+"/api/admin/blobs", "", testAdminToken)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}

		var got struct {
			Blobs []struct {
				SHA256 string `json:"sha256"`
				Health string `json:"health"`
				Path   string `json:"path"`
			} `json:"blobs"`
		}
		decodeBody(t, resp, &got)
		if len(got.Blobs) != 1 {
			t.Fatalf("got %d blobs, want 1", len(got.Blobs))
		}
		if got.Blobs[0].Health != "healthy" {
			t.Errorf("health = %q, want healthy", got.Blobs[0].Health)
		}
		if got.Blobs[0].Path == "" {
			t.Error("path missing from admin listing")
		}
	})

	t.Run("rename updates the filename", func(t *testing.T) {
		resp := adminRequest(t, http.MethodPatch, ts.URL+"/api/admin/blobs/"+res.SHA256,
			`{"filename":"renamed.md"}`, testAdminToken)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}

		b, err := env.Service.GetBlobBySHA256(res.SHA256)
		if err != nil {
			t.Fatalf("GetBlobBySHA256() error = %v", err)
		}
		if b.Filename != "renamed.md" {
			t.Errorf("filename = %q, want renamed.md", b.Filename)
		}
	})

	t.Run("delete removes metadata only", func(t *testing.T) {
		resp := adminRequest(t, http.MethodDelete, ts.URL+"/api/admin/blobs/"+res.SHA256, "", testAdminToken)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}

		ok, err := env.Store.Has(res.SHA256)
		if err != nil {
			t.Fatalf("Store.Has() error = %v", err)
		}
		if !ok {
			t.Error("bytes removed by metadata delete")
		}

		// Deleting again is 404.
		resp = adminRequest(t, http.MethodDelete, ts.URL+"/api/admin/blobs/"+res.SHA256, "", testAdminToken)
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})
}
