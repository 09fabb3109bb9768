package e2e

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
)

func TestGenerateVideo_TextSuccess(t *testing.T) {
	ta := setupApp(t)

	resp, err := doMultipart(t, ta.app, "/api/generate-video", map[string]string{
		"description":     "a cat delivering food in the city",
		"api_key":         "sk-test",
		"generation_type": "text",
	}, "", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusAccepted)

	result := parseJSON(t, resp)
	if result["success"] != true {
		t.Errorf("expected success true, got %v", result["success"])
	}
	if result["video_id"] == nil || result["video_id"] == "" {
		t.Error("expected 'video_id' in response")
	}
	redirect, _ := result["redirect"].(string)
	if redirect == "" {
		t.Error("expected 'redirect' in response")
	}
}

func TestGenerateVideo_RunsToCompletion(t *testing.T) {
	ta := setupApp(t)

	videoID := submitVideo(t, ta.app)
	final := pollUntilDone(t, ta.app, videoID)

	if final["status"] != "completed" {
		t.Fatalf("expected status 'completed', got %v (message: %v)", final["status"], final["message"])
	}
	if final["progress"] != float64(100) {
		t.Errorf("expected progress 100, got %v", final["progress"])
	}
	if final["video_url"] == nil || final["video_url"] == "" {
		t.Error("expected 'video_url' for a completed job")
	}

	results, ok := final["stage_results"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected stage_results, got %v", final["stage_results"])
	}
	for _, key := range []string{"title", "copywriting", "scene_count", "final_video"} {
		if results[key] == nil || results[key] == "" {
			t.Errorf("expected stage result %q", key)
		}
	}
}

func TestGenerateVideo_MissingDescription(t *testing.T) {
	ta := setupApp(t)

	resp, err := doMultipart(t, ta.app, "/api/generate-video", map[string]string{
		"api_key":         "sk-test",
		"generation_type": "text",
	}, "", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)

	result := parseJSON(t, resp)
	if result["success"] != false {
		t.Errorf("expected success false, got %v", result["success"])
	}
}

func TestGenerateVideo_ImageTypeWithoutImage(t *testing.T) {
	ta := setupApp(t)

	resp, err := doMultipart(t, ta.app, "/api/generate-video", map[string]string{
		"description":     "animate this character",
		"api_key":         "sk-test",
		"generation_type": "image",
	}, "", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)

	result := parseJSON(t, resp)
	if result["success"] != false {
		t.Errorf("expected success false, got %v", result["success"])
	}
	if result["video_id"] != nil && result["video_id"] != "" {
		t.Errorf("no job should be created, got video_id %v", result["video_id"])
	}
}

func TestGenerateVideo_ImageTypeWithUndecodableImage(t *testing.T) {
	ta := setupApp(t)

	resp, err := doMultipart(t, ta.app, "/api/generate-video", map[string]string{
		"description":     "animate this character",
		"api_key":         "sk-test",
		"generation_type": "image",
	}, "image", "notanimage.png", []byte("definitely not a png"))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)

	result := parseJSON(t, resp)
	if result["success"] != false {
		t.Errorf("expected success false, got %v", result["success"])
	}
}

func TestGenerateVideo_ImageSuccess(t *testing.T) {
	ta := setupApp(t)

	resp, err := doMultipart(t, ta.app, "/api/generate-video", map[string]string{
		"description":     "animate this character",
		"api_key":         "sk-test",
		"generation_type": "image",
	}, "image", "character.png", pngPixel)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusAccepted)

	result := parseJSON(t, resp)
	videoID, _ := result["video_id"].(string)
	if videoID == "" {
		t.Fatalf("expected video_id, got %v", result)
	}

	final := pollUntilDone(t, ta.app, videoID)
	if final["status"] != "completed" {
		t.Errorf("expected status 'completed', got %v (message: %v)", final["status"], final["message"])
	}
}

func TestCancelVideo_UnknownID(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/cancel-video/"+uuid.New().String(), "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusNotFound)
}
