package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"github.com/vidvault/api/internal/auth"
	"github.com/vidvault/api/internal/diff"
	"github.com/vidvault/api/internal/handler"
	"github.com/vidvault/api/internal/media"
	"github.com/vidvault/api/internal/media/mediatest"
	"github.com/vidvault/api/internal/middleware"
	"github.com/vidvault/api/internal/reconstitute"
	"github.com/vidvault/api/internal/registry"
	"github.com/vidvault/api/internal/service"
	"github.com/vidvault/api/internal/storage"
)

const testJWTSecret = "test-secret-for-e2e"

// fakeEnqueuer accepts every task without touching Redis, so uploads are
// acknowledged but no pipeline runs.
type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "fake", Type: task.Type()}, nil
}

// testApp holds all components needed for testing.
type testApp struct {
	app      *fiber.App
	store    *storage.Store
	jobs     *registry.Jobs
	runner   *mediatest.FakeRunner
	enqueuer *fakeEnqueuer
}

// setupApp creates a Fiber app wired like main.go but backed by a temp
// storage root, a fake media runner and a fake task queue, so tests run
// without Redis or ffmpeg installed.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	jobs := registry.NewJobs()
	downloads := registry.NewDownloads()
	enqueuer := &fakeEnqueuer{}
	runner := &mediatest.FakeRunner{}

	engine := media.NewEngine("ffmpeg", "ffprobe", runner)
	merger := reconstitute.NewMerger(engine, diff.NewEngine(engine))

	validate := validator.New()

	settingsService := service.NewSettingsService(filepath.Join(t.TempDir(), "settings.json"))
	storeService := service.NewStoreService(store, jobs, enqueuer)
	streamService := service.NewStreamService(store, merger)
	downloadService := service.NewDownloadService(downloads, runner, "test/model", t.TempDir())

	storeHandler := handler.NewStoreHandler(storeService, 50)
	streamHandler := handler.NewStreamHandler(streamService, validate)
	settingsHandler := handler.NewSettingsHandler(settingsService)
	downloadHandler := handler.NewDownloadHandler(downloadService)

	authMiddleware := middleware.NewAuthMiddleware(testJWTSecret)

	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024,
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"ffmpeg":  false,
				"ffprobe": false,
				"whisper": false,
				"redis":   false,
				"auth":    authMiddleware.Enabled(),
			},
		})
	})

	api := app.Group("/api", authMiddleware.Authenticate())

	api.Post("/store", storeHandler.Store)
	api.Get("/stored", storeHandler.List)
	api.Get("/stored/:id/status", storeHandler.Status)
	api.Post("/stored/:id/retry", storeHandler.Retry)

	api.Post("/reconstitute", streamHandler.Reconstitute)
	api.Get("/stream/:id/info", streamHandler.Info)

	api.Get("/settings", settingsHandler.Get)
	api.Put("/settings", settingsHandler.Update)

	api.Post("/t2v/download", downloadHandler.Start)
	api.Get("/t2v/download/status", downloadHandler.Status)

	app.Get("/stream/:id", streamHandler.Stream)

	return &testApp{
		app:      app,
		store:    store,
		jobs:     jobs,
		runner:   runner,
		enqueuer: enqueuer,
	}
}

// seedReadyItem creates a stored item with a complete artifact set and
// manifest, as the pipeline would leave it.
func seedReadyItem(t *testing.T, store *storage.Store, id string, withDiff bool) string {
	t.Helper()

	dir, err := store.CreateItem(id)
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	m := &storage.Manifest{
		OriginalVideo:  writeArtifact(t, dir, "input.mp4"),
		Audio:          writeArtifact(t, dir, "audio.aac"),
		Script:         writeArtifact(t, dir, storage.ScriptName),
		ResultantVideo: writeArtifact(t, dir, storage.ResultantName),
	}
	if withDiff {
		p := writeArtifact(t, dir, storage.DiffName)
		m.DiffVideo = &p
	}
	if err := storage.WriteManifestDir(dir, m); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return dir
}

func writeArtifact(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("artifact "+name), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

// generateToken creates an HMAC JWT for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	token, err := auth.GenerateToken("test-user-123", "test@example.com", testJWTSecret)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// uploadVideo performs an authenticated multipart upload to /api/store.
func uploadVideo(t *testing.T, app *fiber.App, filename string, content []byte) (*http.Response, error) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("video", filename)
	if err != nil {
		t.Fatalf("multipart: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("multipart write: %v", err)
	}
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, "/api/store", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+generateToken(t))
	return app.Test(req, -1)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
