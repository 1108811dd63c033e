package catalog_test

import (
	"testing"

	"github.com/RnLe/DeepRecall-sub014/internal/blob"
	"github.com/RnLe/DeepRecall-sub014/internal/testutil"
)

func testBlob(hash string) *blob.Blob {
	return &blob.Blob{
		SHA256:    hash,
		Size:      42,
		Mime:      "text/markdown",
		Filename:  "note.md",
		MtimeMS:   1000,
		CreatedMS: 1000,
		Health:    blob.HealthHealthy,
	}
}

func TestSQLiteCatalog_Blobs(t *testing.T) {
	t.Run("insert and find", func(t *testing.T) {
		cat := testutil.NewTestCatalog(t)

		want := testBlob("aa11")
		if err := cat.InsertBlob(want); err != nil {
			t.Fatalf("InsertBlob() error = %v", err)
		}

		got, err := cat.FindBlobBySHA256("aa11")
		if err != nil {
			t.Fatalf("FindBlobBySHA256() error = %v", err)
		}
		if got == nil {
			t.Fatal("blob not found")
		}
		if got.Filename != "note.md" || got.Size != 42 || got.Health != blob.HealthHealthy {
			t.Errorf("FindBlobBySHA256() = %+v, want %+v", got, want)
		}
	})

	t.Run("find absent returns nil", func(t *testing.T) {
		cat := testutil.NewTestCatalog(t)

		got, err := cat.FindBlobBySHA256("nope")
		if err != nil {
			t.Fatalf("FindBlobBySHA256() error = %v", err)
		}
		if got != nil {
			t.Errorf("FindBlobBySHA256() = %+v, want nil", got)
		}
	})

	t.Run("update health and filename", func(t *testing.T) {
		cat := testutil.NewTestCatalog(t)

		if err := cat.InsertBlob(testBlob("bb22")); err != nil {
			t.Fatalf("InsertBlob() error = %v", err)
		}

		if err := cat.UpdateHealth("bb22", blob.HealthMissing); err != nil {
			t.Fatalf("UpdateHealth() error = %v", err)
		}
		if err := cat.UpdateFilename("bb22", "renamed.md"); err != nil {
			t.Fatalf("UpdateFilename() error = %v", err)
		}

		got, err := cat.FindBlobBySHA256("bb22")
		if err != nil {
			t.Fatalf("FindBlobBySHA256() error = %v", err)
		}
		if got.Health != blob.HealthMissing {
			t.Errorf("Health = %q, want missing", got.Health)
		}
		if got.Filename != "renamed.md" {
			t.Errorf("Filename = %q, want renamed.md", got.Filename)
		}
	})

	t.Run("delete removes blob and paths", func(t *testing.T) {
		cat := testutil.NewTestCatalog(t)

		if err := cat.InsertBlob(testBlob("cc33")); err != nil {
			t.Fatalf("InsertBlob() error = %v", err)
		}
		if err := cat.InsertPath("cc33", "/data/cc33", 1000); err != nil {
			t.Fatalf("InsertPath() error = %v", err)
		}

		if err := cat.DeleteBlob("cc33"); err != nil {
			t.Fatalf("DeleteBlob() error = %v", err)
		}

		got, err := cat.FindBlobBySHA256("cc33")
		if err != nil {
			t.Fatalf("FindBlobBySHA256() error = %v", err)
		}
		if got != nil {
			t.Error("blob still present after delete")
		}

		paths, err := cat.FindPathsBySHA256("cc33")
		if err != nil {
			t.Fatalf("FindPathsBySHA256() error = %v", err)
		}
		if len(paths) != 0 {
			t.Errorf("paths = %+v, want none", paths)
		}
	})
}

func TestSQLiteCatalog_Paths(t *testing.T) {
	t.Run("newest path first", func(t *testing.T) {
		cat := testutil.NewTestCatalog(t)

		if err := cat.InsertBlob(testBlob("dd44")); err != nil {
			t.Fatalf("InsertBlob() error = %v", err)
		}
		if err := cat.InsertPath("dd44", "/old/location", 1000); err != nil {
			t.Fatalf("InsertPath() error = %v", err)
		}
		if err := cat.InsertPath("dd44", "/new/location", 2000); err != nil {
			t.Fatalf("InsertPath() error = %v", err)
		}

		paths, err := cat.FindPathsBySHA256("dd44")
		if err != nil {
			t.Fatalf("FindPathsBySHA256() error = %v", err)
		}
		if len(paths) != 2 {
			t.Fatalf("got %d paths, want 2", len(paths))
		}
		if paths[0].Path != "/new/location" {
			t.Errorf("first path = %q, want /new/location", paths[0].Path)
		}
	})

	t.Run("re-recording a path updates its row", func(t *testing.T) {
		cat := testutil.NewTestCatalog(t)

		if err := cat.InsertBlob(testBlob("ee55")); err != nil {
			t.Fatalf("InsertBlob() error = %v", err)
		}
		if err := cat.InsertPath("ee55", "/same/path", 1000); err != nil {
			t.Fatalf("InsertPath() error = %v", err)
		}
		if err := cat.InsertPath("ee55", "/same/path", 2000); err != nil {
			t.Fatalf("second InsertPath() error = %v", err)
		}

		paths, err := cat.FindPathsBySHA256("ee55")
		if err != nil {
			t.Fatalf("FindPathsBySHA256() error = %v", err)
		}
		if len(paths) != 1 {
			t.Fatalf("got %d paths, want 1", len(paths))
		}
		if paths[0].RecordedMS != 2000 {
			t.Errorf("RecordedMS = %d, want 2000", paths[0].RecordedMS)
		}
	})

	t.Run("list joins the newest path", func(t *testing.T) {
		cat := testutil.NewTestCatalog(t)

		if err := cat.InsertBlob(testBlob("ff66")); err != nil {
			t.Fatalf("InsertBlob() error = %v", err)
		}
		if err := cat.InsertPath("ff66", "/a", 1000); err != nil {
			t.Fatalf("InsertPath() error = %v", err)
		}
		if err := cat.InsertPath("ff66", "/b", 3000); err != nil {
			t.Fatalf("InsertPath() error = %v", err)
		}
		// A blob with no path at all.
		if err := cat.InsertBlob(testBlob("0077")); err != nil {
			t.Fatalf("InsertBlob() error = %v", err)
		}

		records, err := cat.ListBlobsWithPaths()
		if err != nil {
			t.Fatalf("ListBlobsWithPaths() error = %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("got %d records, want 2", len(records))
		}

		byHash := make(map[string]string)
		for _, r := range records {
			byHash[r.SHA256] = r.Path
		}
		if byHash["ff66"] != "/b" {
			t.Errorf("path for ff66 = %q, want /b", byHash["ff66"])
		}
		if byHash["0077"] != "" {
			t.Errorf("path for 0077 = %q, want empty", byHash["0077"])
		}
	})
}

func TestSQLiteCatalog_Outbox(t *testing.T) {
	t.Run("enqueue assigns an id and upserts per device", func(t *testing.T) {
		cat := testutil.NewTestCatalog(t)

		first := &blob.OutboxEntry{SHA256: "aa", DeviceID: "dev-1", Payload: "{}", CreatedMS: 1000}
		if err := cat.EnqueueCoordination(first); err != nil {
			t.Fatalf("EnqueueCoordination() error = %v", err)
		}
		if first.ID == 0 {
			t.Error("entry ID not assigned")
		}

		// Same hash and device replaces the payload instead of queueing twice.
		second := &blob.OutboxEntry{SHA256: "aa", DeviceID: "dev-1", Payload: `{"v":2}`, CreatedMS: 2000}
		if err := cat.EnqueueCoordination(second); err != nil {
			t.Fatalf("second EnqueueCoordination() error = %v", err)
		}

		pending, err := cat.PendingCoordination(10)
		if err != nil {
			t.Fatalf("PendingCoordination() error = %v", err)
		}
		if len(pending) != 1 {
			t.Fatalf("got %d pending entries, want 1", len(pending))
		}
		if pending[0].Payload != `{"v":2}` {
			t.Errorf("Payload = %q, want replaced payload", pending[0].Payload)
		}
	})

	t.Run("attempt bookkeeping and delete", func(t *testing.T) {
		cat := testutil.NewTestCatalog(t)

		e := &blob.OutboxEntry{SHA256: "bb", DeviceID: "dev-1", Payload: "{}", CreatedMS: 1000}
		if err := cat.EnqueueCoordination(e); err != nil {
			t.Fatalf("EnqueueCoordination() error = %v", err)
		}

		if err := cat.MarkCoordinationAttempt(e.ID, 5000); err != nil {
			t.Fatalf("MarkCoordinationAttempt() error = %v", err)
		}

		pending, err := cat.PendingCoordination(10)
		if err != nil {
			t.Fatalf("PendingCoordination() error = %v", err)
		}
		if pending[0].Attempts != 1 || pending[0].LastAttemptMS != 5000 {
			t.Errorf("entry = %+v, want attempts=1 last_attempt=5000", pending[0])
		}

		if err := cat.DeleteCoordination(e.ID); err != nil {
			t.Fatalf("DeleteCoordination() error = %v", err)
		}
		pending, err = cat.PendingCoordination(10)
		if err != nil {
			t.Fatalf("PendingCoordination() error = %v", err)
		}
		if len(pending) != 0 {
			t.Errorf("got %d pending entries after delete, want 0", len(pending))
		}
	})
}

func TestSQLiteCatalog_HealthReport(t *testing.T) {
	cat := testutil.NewTestCatalog(t)

	states := []blob.Health{blob.HealthHealthy, blob.HealthHealthy, blob.HealthMissing, blob.HealthModified}
	for i, h := range states {
		b := testBlob(string(rune('a'+i)) + "000")
		b.Health = h
		b.Size = 10
		if err := cat.InsertBlob(b); err != nil {
			t.Fatalf("InsertBlob() error = %v", err)
		}
	}

	report, err := cat.HealthReport()
	if err != nil {
		t.Fatalf("HealthReport() error = %v", err)
	}
	if report.TotalBlobs != 4 || report.Healthy != 2 || report.Missing != 1 || report.Modified != 1 || report.Relocated != 0 {
		t.Errorf("HealthReport() = %+v", report)
	}
	if report.TotalSize != 40 {
		t.Errorf("TotalSize = %d, want 40", report.TotalSize)
	}
}

func TestSQLiteCatalog_Operations(t *testing.T) {
	cat := testutil.NewTestCatalog(t)

	id, err := cat.CreateOperation("StoreBlob", "/tmp/file.md")
	if err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	if id == 0 {
		t.Error("operation ID not assigned")
	}

	if err := cat.FinishOperation(id, "success"); err != nil {
		t.Fatalf("FinishOperation() error = %v", err)
	}
}
