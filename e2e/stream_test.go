package e2e

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/vidvault/api/internal/storage"
)

// seedStreamable creates a ready item with a reconstituted output of
// exactly size bytes, each byte being its offset modulo 256.
func seedStreamable(t *testing.T, ta *testApp, id string, size int) []byte {
	t.Helper()

	dir := seedReadyItem(t, ta.store, id, false)
	content := make([]byte, size)
	for i := range content {
		content[i] = byte(i)
	}
	if err := os.WriteFile(filepath.Join(dir, storage.ReconstitutedName), content, 0o644); err != nil {
		t.Fatal(err)
	}
	return content
}

func TestStream_Full(t *testing.T) {
	ta := setupApp(t)
	content := seedStreamable(t, ta, "item-stream", 1000)

	resp, err := doRequest(ta.app, http.MethodGet, "/stream/item-stream", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	if got := resp.Header.Get("Accept-Ranges"); got != "bytes" {
		t.Errorf("Accept-Ranges = %q, want bytes", got)
	}
	if got := resp.Header.Get("Content-Type"); got != "video/mp4" {
		t.Errorf("Content-Type = %q, want video/mp4", got)
	}
	body := readBody(t, resp)
	if len(body) != 1000 {
		t.Fatalf("body length = %d, want 1000", len(body))
	}
	if !bytes.Equal([]byte(body), content) {
		t.Error("streamed body does not match the file")
	}
}

func TestStream_Range(t *testing.T) {
	ta := setupApp(t)
	content := seedStreamable(t, ta, "item-range", 1000)

	resp, err := doRequest(ta.app, http.MethodGet, "/stream/item-range", "", map[string]string{
		"Range": "bytes=100-199",
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusPartialContent)

	if got := resp.Header.Get("Content-Range"); got != "bytes 100-199/1000" {
		t.Errorf("Content-Range = %q, want bytes 100-199/1000", got)
	}
	body := readBody(t, resp)
	if len(body) != 100 {
		t.Fatalf("body length = %d, want 100", len(body))
	}
	if !bytes.Equal([]byte(body), content[100:200]) {
		t.Error("ranged body does not match the slice")
	}
}

func TestStream_SuffixRange(t *testing.T) {
	ta := setupApp(t)
	content := seedStreamable(t, ta, "item-suffix", 1000)

	resp, err := doRequest(ta.app, http.MethodGet, "/stream/item-suffix", "", map[string]string{
		"Range": "bytes=-100",
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusPartialContent)

	if got := resp.Header.Get("Content-Range"); got != "bytes 900-999/1000" {
		t.Errorf("Content-Range = %q, want bytes 900-999/1000", got)
	}
	if body := readBody(t, resp); !bytes.Equal([]byte(body), content[900:]) {
		t.Error("suffix body does not match the tail")
	}
}

func TestStream_UnsatisfiableRange(t *testing.T) {
	ta := setupApp(t)
	seedStreamable(t, ta, "item-bad-range", 1000)

	resp, err := doRequest(ta.app, http.MethodGet, "/stream/item-bad-range", "", map[string]string{
		"Range": "bytes=5000-6000",
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusRequestedRangeNotSatisfiable)

	if got := resp.Header.Get("Content-Range"); got != "bytes */1000" {
		t.Errorf("Content-Range = %q, want bytes */1000", got)
	}
}

func TestStream_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/stream/ghost", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestStreamInfo(t *testing.T) {
	ta := setupApp(t)
	seedStreamable(t, ta, "item-info", 1234)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/stream/item-info/info", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	body := parseJSON(t, resp)
	if body["filename"] != storage.ReconstitutedName {
		t.Errorf("filename = %v, want %s", body["filename"], storage.ReconstitutedName)
	}
	if size, _ := body["size"].(float64); int(size) != 1234 {
		t.Errorf("size = %v, want 1234", body["size"])
	}
}

func TestReconstitute(t *testing.T) {
	ta := setupApp(t)
	dir := seedReadyItem(t, ta.store, "item-merge", false)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/reconstitute", `{"id":"item-merge"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	body := parseJSON(t, resp)
	if body["filename"] != storage.ReconstitutedName {
		t.Errorf("filename = %v, want %s", body["filename"], storage.ReconstitutedName)
	}
	if body["streamUrl"] != "/stream/item-merge" {
		t.Errorf("streamUrl = %v", body["streamUrl"])
	}
	if _, err := os.Stat(filepath.Join(dir, storage.ReconstitutedName)); err != nil {
		t.Errorf("reconstituted output missing: %v", err)
	}
}

func TestReconstitute_MissingArtifacts(t *testing.T) {
	ta := setupApp(t)
	if _, err := ta.store.CreateItem("item-empty"); err != nil {
		t.Fatal(err)
	}

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/reconstitute", `{"id":"item-empty"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusConflict)
}

func TestReconstitute_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/reconstitute", `{"id":"ghost"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestReconstitute_MissingID(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/reconstitute", `{}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestStream_MultipleRanges(t *testing.T) {
	ta := setupApp(t)
	seedStreamable(t, ta, "item-seek", 1000)

	// A player seeking through the file issues successive open-ended
	// range requests.
	for _, start := range []int{0, 250, 999} {
		resp, err := doRequest(ta.app, http.MethodGet, "/stream/item-seek", "", map[string]string{
			"Range": fmt.Sprintf("bytes=%d-", start),
		})
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		assertStatus(t, resp, http.StatusPartialContent)
		want := fmt.Sprintf("bytes %d-999/1000", start)
		if got := resp.Header.Get("Content-Range"); got != want {
			t.Errorf("Content-Range = %q, want %q", got, want)
		}
		if body := readBody(t, resp); len(body) != 1000-start {
			t.Errorf("body length = %d, want %d", len(body), 1000-start)
		}
	}
}
