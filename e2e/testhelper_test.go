package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/aimovie/api/internal/client"
	"github.com/aimovie/api/internal/concurrency"
	"github.com/aimovie/api/internal/handler"
	"github.com/aimovie/api/internal/middleware"
	"github.com/aimovie/api/internal/pipeline"
	"github.com/aimovie/api/internal/service"
	"github.com/aimovie/api/internal/store"
	"github.com/aimovie/api/internal/telemetry"
)

// testApp holds all components needed for testing
type testApp struct {
	app     *fiber.App
	control *concurrency.Controller
}

// setupApp creates a Fiber app wired like main.go without redis: in-memory
// job store, in-process dispatch and the zero-delay mock generation client.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	validate := validator.New()

	probe := telemetry.NewSystemProbe()
	control := concurrency.NewController(concurrency.Settings{
		MaxParallelWorkers: 3,
		ConcurrentScenes:   3,
		EnableParallel:     true,
	}, probe)

	genClient := client.NewMockClient(0)
	jobStore := store.NewMemoryStore()

	workRoot := t.TempDir()
	orch := pipeline.NewOrchestrator(jobStore, genClient, nil, control, pipeline.RetryPolicy{
		StageRetries: 1,
		SceneRetries: 2,
		Backoff:      time.Millisecond,
	}, pipeline.Options{})

	videoService := service.NewVideoService(jobStore, service.NewGoDispatcher(orch), orch, workRoot)

	videoHandler := handler.NewVideoHandler(videoService, validate, filepath.Join(workRoot, "uploads"))
	concurrencyHandler := handler.NewConcurrencyHandler(control, probe)

	rateLimiter := middleware.NewRateLimiter(nil) // no redis → pass-through

	app := fiber.New(fiber.Config{
		BodyLimit: 20 * 1024 * 1024,
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": time.Now().Unix()})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"dashscope": genClient.IsConfigured(),
				"oss":       false,
				"redis":     false,
			},
		})
	})

	api := app.Group("/api")
	api.Post("/generate-video", rateLimiter.GenerateLimit(10000), videoHandler.Generate)
	api.Get("/video-status/:video_id", videoHandler.Status)
	api.Post("/cancel-video/:video_id", videoHandler.Cancel)

	cfgGroup := app.Group("/config")
	cfgGroup.Get("/concurrent-workers", concurrencyHandler.Get)
	cfgGroup.Post("/concurrent-workers", concurrencyHandler.Set)

	return &testApp{app: app, control: control}
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

// doMultipart posts multipart form data, with an optional file part.
func doMultipart(t *testing.T, app *fiber.App, path string, fields map[string]string, fileField, fileName string, fileContent []byte) (*http.Response, error) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field %s: %v", k, err)
		}
	}
	if fileField != "" {
		fw, err := w.CreateFormFile(fileField, fileName)
		if err != nil {
			t.Fatalf("failed to create file part: %v", err)
		}
		if _, err := fw.Write(fileContent); err != nil {
			t.Fatalf("failed to write file part: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	return app.Test(req, -1)
}

// submitVideo posts a valid text generation request and returns the video id.
func submitVideo(t *testing.T, app *fiber.App) string {
	t.Helper()

	resp, err := doMultipart(t, app, "/api/generate-video", map[string]string{
		"description":     "a cat delivering food in the city",
		"api_key":         "sk-test",
		"generation_type": "text",
	}, "", "", nil)
	if err != nil {
		t.Fatalf("submit request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)

	result := parseJSON(t, resp)
	id, _ := result["video_id"].(string)
	if id == "" {
		t.Fatalf("no video_id in response: %v", result)
	}
	return id
}

// pollUntilDone polls the status endpoint until the job settles.
func pollUntilDone(t *testing.T, app *fiber.App, videoID string) map[string]interface{} {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := doRequest(app, http.MethodGet, "/api/video-status/"+videoID, "", nil)
		if err != nil {
			t.Fatalf("status request failed: %v", err)
		}
		result := parseJSON(t, resp)

		switch result["status"] {
		case "completed", "failed":
			return result
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s did not settle in time", videoID)
	return nil
}

// pngPixel is a valid 1x1 PNG used as an upload fixture.
var pngPixel = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x62, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
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
