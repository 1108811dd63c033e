package blob_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/RnLe/DeepRecall-sub014/internal/blob"
	"github.com/RnLe/DeepRecall-sub014/internal/testutil"
)

func TestService_StoreBlob(t *testing.T) {
	ctx := context.Background()

	t.Run("stores new content", func(t *testing.T) {
		env := testutil.NewTestEnv(t)

		content := []byte("hello recall")
		res, err := env.Service.StoreBlob(ctx, content, "hello.md", "text/markdown", "", "")
		if err != nil {
			t.Fatalf("StoreBlob() error = %v", err)
		}

		if res.SHA256 != blob.HashBytes(content) {
			t.Errorf("SHA256 = %q, want digest of content", res.SHA256)
		}
		if len(res.SHA256) != 64 {
			t.Errorf("SHA256 length = %d, want 64", len(res.SHA256))
		}
		if res.Size != int64(len(content)) {
			t.Errorf("Size = %d, want %d", res.Size, len(content))
		}
		if res.Deduplicated {
			t.Error("Deduplicated = true for first store")
		}

		b, err := env.Service.GetBlobBySHA256(res.SHA256)
		if err != nil {
			t.Fatalf("GetBlobBySHA256() error = %v", err)
		}
		if b == nil {
			t.Fatal("blob not recorded in catalog")
		}
		if b.Health != blob.HealthHealthy {
			t.Errorf("Health = %q, want healthy", b.Health)
		}
	})

	t.Run("identical content deduplicates", func(t *testing.T) {
		env := testutil.NewTestEnv(t)

		content := []byte("same bytes")
		first, err := env.Service.StoreBlob(ctx, content, "a.md", "text/markdown", "", "")
		if err != nil {
			t.Fatalf("first StoreBlob() error = %v", err)
		}

		second, err := env.Service.StoreBlob(ctx, content, "b.md", "text/markdown", "", "")
		if err != nil {
			t.Fatalf("second StoreBlob() error = %v", err)
		}

		if second.SHA256 != first.SHA256 {
			t.Errorf("hashes differ: %q vs %q", first.SHA256, second.SHA256)
		}
		if !second.Deduplicated {
			t.Error("Deduplicated = false for repeated store")
		}

		blobs, err := env.Service.ListFiles()
		if err != nil {
			t.Fatalf("ListFiles() error = %v", err)
		}
		if len(blobs) != 1 {
			t.Errorf("catalog has %d blobs, want 1", len(blobs))
		}
	})

	t.Run("empty content is a validation error", func(t *testing.T) {
		env := testutil.NewTestEnv(t)

		_, err := env.Service.StoreBlob(ctx, nil, "empty.md", "text/markdown", "", "")
		var vErr *blob.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("StoreBlob() error = %v, want ValidationError", err)
		}
	})

	t.Run("publishes coordination and mirrors bytes", func(t *testing.T) {
		env := testutil.NewTestEnv(t)

		res, err := env.Service.StoreBlob(ctx, []byte("shared"), "s.md", "text/markdown", "", "")
		if err != nil {
			t.Fatalf("StoreBlob() error = %v", err)
		}

		meta, err := env.Coord.FindMeta(ctx, res.SHA256)
		if err != nil {
			t.Fatalf("FindMeta() error = %v", err)
		}
		if meta == nil {
			t.Fatal("coordination metadata not published")
		}

		devices, err := env.Coord.DevicesForBlob(ctx, res.SHA256)
		if err != nil {
			t.Fatalf("DevicesForBlob() error = %v", err)
		}
		if len(devices) != 1 || devices[0].DeviceID != testutil.TestDeviceID {
			t.Errorf("availability rows = %+v, want one for %s", devices, testutil.TestDeviceID)
		}

		ok, err := env.Mirror.Has(res.SHA256)
		if err != nil {
			t.Fatalf("Mirror.Has() error = %v", err)
		}
		if !ok {
			t.Error("bytes not pushed to mirror")
		}
	})
}

func TestService_FetchBlob(t *testing.T) {
	ctx := context.Background()

	t.Run("round-trips stored bytes", func(t *testing.T) {
		env := testutil.NewTestEnv(t)

		content := []byte("round trip payload")
		res, err := env.Service.StoreBlob(ctx, content, "p.md", "text/markdown", "", "")
		if err != nil {
			t.Fatalf("StoreBlob() error = %v", err)
		}

		rc, b, err := env.Service.FetchBlob(ctx, res.SHA256)
		if err != nil {
			t.Fatalf("FetchBlob() error = %v", err)
		}
		defer rc.Close()

		got, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("reading blob: %v", err)
		}
		if !bytes.Equal(got, content) {
			t.Errorf("fetched bytes differ from stored content")
		}
		if b.Mime != "text/markdown" {
			t.Errorf("Mime = %q, want text/markdown", b.Mime)
		}
	})

	t.Run("unknown hash is not found", func(t *testing.T) {
		env := testutil.NewTestEnv(t)

		hash := blob.HashBytes([]byte("never stored"))
		_, _, err := env.Service.FetchBlob(ctx, hash)
		var nfErr *blob.NotFoundError
		if !errors.As(err, &nfErr) {
			t.Fatalf("FetchBlob() error = %v, want NotFoundError", err)
		}

		b, err := env.Service.GetBlobBySHA256(hash)
		if err != nil {
			t.Fatalf("GetBlobBySHA256() error = %v", err)
		}
		if b != nil {
			t.Errorf("GetBlobBySHA256() = %+v, want nil", b)
		}
	})

	t.Run("falls through to mirror when local copy is lost", func(t *testing.T) {
		env := testutil.NewTestEnv(t)

		content := []byte("mirrored content")
		res, err := env.Service.StoreBlob(ctx, content, "m.md", "text/markdown", "", "")
		if err != nil {
			t.Fatalf("StoreBlob() error = %v", err)
		}

		env.Store.Delete(res.SHA256)

		rc, _, err := env.Service.FetchBlob(ctx, res.SHA256)
		if err != nil {
			t.Fatalf("FetchBlob() error = %v", err)
		}
		defer rc.Close()

		got, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("reading blob: %v", err)
		}
		if !bytes.Equal(got, content) {
			t.Errorf("mirror bytes differ from stored content")
		}
	})

	t.Run("mirror outage is not reported as not found", func(t *testing.T) {
		env := testutil.NewTestEnv(t)

		res, err := env.Service.StoreBlob(ctx, []byte("unlucky"), "u.md", "text/markdown", "", "")
		if err != nil {
			t.Fatalf("StoreBlob() error = %v", err)
		}

		env.Store.Delete(res.SHA256)
		env.Mirror.FailWith = errors.New("connection refused")

		_, _, err = env.Service.FetchBlob(ctx, res.SHA256)
		if err == nil {
			t.Fatal("FetchBlob() error = nil, want mirror failure")
		}
		var nfErr *blob.NotFoundError
		if errors.As(err, &nfErr) {
			t.Errorf("FetchBlob() error = %v, want a non-NotFoundError failure", err)
		}
		if !errors.Is(err, env.Mirror.FailWith) {
			t.Errorf("FetchBlob() error = %v, want wrapped mirror error", err)
		}
	})
}

func TestService_CreateMarkdownBlob(t *testing.T) {
	ctx := context.Background()

	t.Run("slugs the title", func(t *testing.T) {
		env := testutil.NewTestEnv(t)

		res, filename, err := env.Service.CreateMarkdownBlob(ctx, "# Heading", "My Note", "")
		if err != nil {
			t.Fatalf("CreateMarkdownBlob() error = %v", err)
		}
		if filename != "my_note.md" {
			t.Errorf("filename = %q, want my_note.md", filename)
		}
		if len(res.SHA256) != 64 {
			t.Errorf("SHA256 length = %d, want 64", len(res.SHA256))
		}

		b, err := env.Service.GetBlobBySHA256(res.SHA256)
		if err != nil {
			t.Fatalf("GetBlobBySHA256() error = %v", err)
		}
		if b.Mime != "text/markdown" {
			t.Errorf("Mime = %q, want text/markdown", b.Mime)
		}
	})

	t.Run("empty content is rejected", func(t *testing.T) {
		env := testutil.NewTestEnv(t)

		_, _, err := env.Service.CreateMarkdownBlob(ctx, "", "Empty", "")
		var vErr *blob.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("CreateMarkdownBlob() error = %v, want ValidationError", err)
		}
	})
}

func TestService_DeleteBlob(t *testing.T) {
	ctx := context.Background()

	t.Run("removes metadata but keeps bytes", func(t *testing.T) {
		env := testutil.NewTestEnv(t)

		res, err := env.Service.StoreBlob(ctx, []byte("keep my bytes"), "k.md", "text/markdown", "", "")
		if err != nil {
			t.Fatalf("StoreBlob() error = %v", err)
		}

		if err := env.Service.DeleteBlob(res.SHA256); err != nil {
			t.Fatalf("DeleteBlob() error = %v", err)
		}

		b, err := env.Service.GetBlobBySHA256(res.SHA256)
		if err != nil {
			t.Fatalf("GetBlobBySHA256() error = %v", err)
		}
		if b != nil {
			t.Error("catalog record still present after delete")
		}

		ok, err := env.Store.Has(res.SHA256)
		if err != nil {
			t.Fatalf("Store.Has() error = %v", err)
		}
		if !ok {
			t.Error("bytes removed by metadata delete")
		}
	})

	t.Run("deleting unknown hash is not found", func(t *testing.T) {
		env := testutil.NewTestEnv(t)

		err := env.Service.DeleteBlob(blob.HashBytes([]byte("ghost")))
		var nfErr *blob.NotFoundError
		if !errors.As(err, &nfErr) {
			t.Fatalf("DeleteBlob() error = %v, want NotFoundError", err)
		}
	})
}

func TestService_RenameBlob(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewTestEnv(t)

	res, err := env.Service.StoreBlob(ctx, []byte("rename me"), "old.md", "text/markdown", "", "")
	if err != nil {
		t.Fatalf("StoreBlob() error = %v", err)
	}

	if err := env.Service.RenameBlob(res.SHA256, "new.md"); err != nil {
		t.Fatalf("RenameBlob() error = %v", err)
	}

	b, err := env.Service.GetBlobBySHA256(res.SHA256)
	if err != nil {
		t.Fatalf("GetBlobBySHA256() error = %v", err)
	}
	if b.Filename != "new.md" {
		t.Errorf("Filename = %q, want new.md", b.Filename)
	}

	if err := env.Service.RenameBlob(res.SHA256, ""); err == nil {
		t.Error("RenameBlob() with empty filename did not fail")
	}
}

func TestService_Stats(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewTestEnv(t)

	if _, err := env.Service.StoreBlob(ctx, []byte("one"), "1.md", "text/markdown", "", ""); err != nil {
		t.Fatalf("StoreBlob() error = %v", err)
	}
	if _, err := env.Service.StoreBlob(ctx, []byte("two two"), "2.md", "text/markdown", "", ""); err != nil {
		t.Fatalf("StoreBlob() error = %v", err)
	}

	report, err := env.Service.Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if report.TotalBlobs != 2 {
		t.Errorf("TotalBlobs = %d, want 2", report.TotalBlobs)
	}
	if report.Healthy != 2 {
		t.Errorf("Healthy = %d, want 2", report.Healthy)
	}
	if report.TotalSize != int64(len("one")+len("two two")) {
		t.Errorf("TotalSize = %d, want %d", report.TotalSize, len("one")+len("two two"))
	}
}
