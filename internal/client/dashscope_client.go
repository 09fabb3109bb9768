package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/aimovie/api/internal/config"
)

// DashScopeClient implements GenerationClient against the DashScope API.
// Video synthesis is asynchronous: a submit call returns a task id which is
// polled until the task settles. Stitching, music mixing and the quality
// probe run locally through ffmpeg.
type DashScopeClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	textModel  string
	t2vModel   string
	i2vModel   string
	voiceModel string
}

type textGenerationRequest struct {
	Model string `json:"model"`
	Input struct {
		Messages []chatMessage `json:"messages"`
	} `json:"input"`
	Parameters struct {
		ResultFormat string `json:"result_format"`
	} `json:"parameters"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type textGenerationResponse struct {
	Output struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	RequestID string `json:"request_id"`
}

type videoSynthesisRequest struct {
	Model string `json:"model"`
	Input struct {
		Prompt string `json:"prompt"`
		ImgURL string `json:"img_url,omitempty"`
	} `json:"input"`
	Parameters struct {
		Size string `json:"size,omitempty"`
	} `json:"parameters"`
}

type speechSynthesisRequest struct {
	Model string `json:"model"`
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
}

type speechSynthesisResponse struct {
	Output struct {
		AudioURL string `json:"audio_url"`
	} `json:"output"`
}

type taskResponse struct {
	Output struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
		VideoURL   string `json:"video_url,omitempty"`
		Message    string `json:"message,omitempty"`
	} `json:"output"`
	RequestID string `json:"request_id"`
}

// NewDashScopeClient creates a new DashScope API client
func NewDashScopeClient(cfg *config.DashScopeConfig) *DashScopeClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &DashScopeClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		textModel:  cfg.TextModel,
		t2vModel:   cfg.T2VModel,
		i2vModel:   cfg.I2VModel,
		voiceModel: cfg.VoiceModel,
	}
}

// WithAPIKey returns a copy of the client authenticating with the given key.
func (c *DashScopeClient) WithAPIKey(apiKey string) GenerationClient {
	if apiKey == "" {
		return c
	}
	clone := *c
	clone.apiKey = apiKey
	return &clone
}

// IsConfigured returns true if the client has valid configuration
func (c *DashScopeClient) IsConfigured() bool {
	return c.apiKey != ""
}

// ParseInput extracts topic, style and keywords from the raw description.
func (c *DashScopeClient) ParseInput(ctx context.Context, inputText string) (*ParsedInput, error) {
	system := "You analyze a video request. Reply with JSON only: " +
		`{"topic": "...", "style": "...", "keywords": ["..."]}`
	content, err := c.chat(ctx, "dashscope.parse_input", system, inputText)
	if err != nil {
		return nil, err
	}

	var parsed ParsedInput
	if err := json.Unmarshal([]byte(extractJSON(content)), &parsed); err != nil {
		// Model ignored the format; treat the whole input as the topic.
		return &ParsedInput{Topic: strings.TrimSpace(inputText)}, nil
	}
	if parsed.Topic == "" {
		parsed.Topic = strings.TrimSpace(inputText)
	}
	return &parsed, nil
}

// GenerateScript writes the short-video copywriting for a topic.
func (c *DashScopeClient) GenerateScript(ctx context.Context, topic string) (*Script, error) {
	system := "You write short-form video scripts. Reply with JSON only: " +
		`{"title": "...", "copywriting": "..."}. Keep the copywriting under 200 words.`
	content, err := c.chat(ctx, "dashscope.generate_script", system, topic)
	if err != nil {
		return nil, err
	}

	var script Script
	if err := json.Unmarshal([]byte(extractJSON(content)), &script); err != nil {
		return &Script{Title: topic, Copywriting: strings.TrimSpace(content)}, nil
	}
	if script.Copywriting == "" {
		return nil, Permanent("dashscope.generate_script", fmt.Errorf("empty copywriting in response"))
	}
	return &script, nil
}

// GenerateStoryboard splits the copywriting into scenes with visual prompts.
func (c *DashScopeClient) GenerateStoryboard(ctx context.Context, topic, copywriting string) ([]Scene, error) {
	system := "You split a video script into scenes. Reply with JSON only: " +
		`{"scenes": [{"dialogue": "...", "prompt": "..."}]}. At most 5 scenes; ` +
		"dialogue is the narration, prompt describes the visuals."
	user := fmt.Sprintf("Topic: %s\n\nScript:\n%s", topic, copywriting)
	content, err := c.chat(ctx, "dashscope.generate_storyboard", system, user)
	if err != nil {
		return nil, err
	}

	var result struct {
		Scenes []Scene `json:"scenes"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &result); err != nil {
		return nil, Permanent("dashscope.generate_storyboard", fmt.Errorf("unparseable storyboard: %w", err))
	}
	for i := range result.Scenes {
		result.Scenes[i].Index = i
	}
	return result.Scenes, nil
}

// SynthesizeVoice renders the scene dialogue to an audio clip under dir.
func (c *DashScopeClient) SynthesizeVoice(ctx context.Context, scene Scene, dir string) (string, error) {
	const op = "dashscope.synthesize_voice"

	req := speechSynthesisRequest{Model: c.voiceModel}
	req.Input.Text = scene.Dialogue

	var resp speechSynthesisResponse
	if err := c.post(ctx, op, "/services/audio/tts/generation", req, false, &resp); err != nil {
		return "", err
	}
	if resp.Output.AudioURL == "" {
		return "", Permanent(op, fmt.Errorf("no audio url in response"))
	}

	dest := filepath.Join(dir, fmt.Sprintf("voice_%02d.mp3", scene.Index))
	if err := c.download(ctx, op, resp.Output.AudioURL, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// SynthesizeSceneVideo submits an async video synthesis task for the scene
// and polls it to completion. A non-empty refImagePath switches to the
// image-to-video model with the image as the first frame.
func (c *DashScopeClient) SynthesizeSceneVideo(ctx context.Context, scene Scene, refImagePath, dir string) (string, error) {
	const op = "dashscope.synthesize_scene_video"

	req := videoSynthesisRequest{Model: c.t2vModel}
	req.Input.Prompt = scene.Prompt
	req.Parameters.Size = "1280*720"
	if refImagePath != "" {
		req.Model = c.i2vModel
		imgURL, err := encodeImageDataURL(refImagePath)
		if err != nil {
			return "", Permanent(op, err)
		}
		req.Input.ImgURL = imgURL
	}

	var submitted taskResponse
	if err := c.post(ctx, op, "/services/aigc/video-generation/video-synthesis", req, true, &submitted); err != nil {
		return "", err
	}
	if submitted.Output.TaskID == "" {
		return "", Permanent(op, fmt.Errorf("no task id in response"))
	}

	task, err := c.pollTask(ctx, submitted.Output.TaskID, 5*time.Second)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(dir, fmt.Sprintf("scene_%02d.mp4", scene.Index))
	if err := c.download(ctx, op, task.Output.VideoURL, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// pollTask polls an async task until it settles or ctx expires.
func (c *DashScopeClient) pollTask(ctx context.Context, taskID string, interval time.Duration) (*taskResponse, error) {
	const op = "dashscope.poll_task"
	attempt := 0

	for {
		attempt++
		var task taskResponse
		if err := c.get(ctx, op, "/tasks/"+taskID, &task); err != nil {
			return nil, err
		}

		log.Printf("[DashScope] Poll task #%d (task=%s) — status: %s", attempt, taskID, task.Output.TaskStatus)

		switch task.Output.TaskStatus {
		case "SUCCEEDED":
			if task.Output.VideoURL == "" {
				return nil, Permanent(op, fmt.Errorf("task %s succeeded without a video url", taskID))
			}
			return &task, nil
		case "FAILED", "CANCELED":
			msg := task.Output.Message
			if msg == "" {
				msg = task.Output.TaskStatus
			}
			return nil, classifyMessage(op, fmt.Errorf("task %s failed: %s", taskID, msg))
		}

		select {
		case <-ctx.Done():
			log.Printf("[DashScope] Poll task (task=%s) — context cancelled", taskID)
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// StitchScenes concatenates scene clips with their voice tracks into one
// video via ffmpeg's concat demuxer.
func (c *DashScopeClient) StitchScenes(ctx context.Context, videoClips, voiceClips []string, dir string) (string, error) {
	const op = "dashscope.stitch_scenes"
	if len(videoClips) == 0 {
		return "", Permanent(op, fmt.Errorf("no scene clips to stitch"))
	}

	// Mux each scene with its voice track first, then concat the parts.
	parts := make([]string, len(videoClips))
	for i, clip := range videoClips {
		part := filepath.Join(dir, fmt.Sprintf("part_%02d.mp4", i))
		args := []string{"-y", "-i", clip}
		if i < len(voiceClips) && voiceClips[i] != "" {
			args = append(args, "-i", voiceClips[i], "-map", "0:v", "-map", "1:a", "-c:v", "copy", "-c:a", "aac", "-shortest")
		} else {
			args = append(args, "-c", "copy")
		}
		args = append(args, part)
		if err := runFFmpeg(ctx, op, args); err != nil {
			return "", err
		}
		parts[i] = part
	}

	listFile := filepath.Join(dir, "concat.txt")
	var list strings.Builder
	for _, part := range parts {
		fmt.Fprintf(&list, "file '%s'\n", part)
	}
	if err := os.WriteFile(listFile, []byte(list.String()), 0o644); err != nil {
		return "", Permanent(op, fmt.Errorf("failed to write concat list: %w", err))
	}

	out := filepath.Join(dir, "stitched.mp4")
	if err := runFFmpeg(ctx, op, []string{"-y", "-f", "concat", "-safe", "0", "-i", listFile, "-c", "copy", out}); err != nil {
		return "", err
	}
	return out, nil
}

// MixBackgroundMusic overlays the background track onto the video. An empty
// bgmPath leaves the video unchanged.
func (c *DashScopeClient) MixBackgroundMusic(ctx context.Context, videoPath, bgmPath, dir string) (string, error) {
	const op = "dashscope.mix_background_music"
	if bgmPath == "" {
		log.Printf("[DashScope] No background music configured, keeping original audio")
		return videoPath, nil
	}

	out := filepath.Join(dir, "with_music.mp4")
	args := []string{
		"-y", "-i", videoPath, "-stream_loop", "-1", "-i", bgmPath,
		"-filter_complex", "[1:a]volume=0.2[bg];[0:a][bg]amix=inputs=2:duration=first[a]",
		"-map", "0:v", "-map", "[a]", "-c:v", "copy", "-c:a", "aac", out,
	}
	if err := runFFmpeg(ctx, op, args); err != nil {
		return "", err
	}
	return out, nil
}

// CheckQuality probes the final video and reports its basic properties.
func (c *DashScopeClient) CheckQuality(ctx context.Context, videoPath string) (string, error) {
	const op = "dashscope.check_quality"

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:format=duration",
		"-of", "csv=p=0",
		videoPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return "", Permanent(op, fmt.Errorf("ffprobe failed for %s: %w", videoPath, err))
	}
	return fmt.Sprintf("probe: %s", strings.TrimSpace(string(out))), nil
}

// chat sends a single system+user exchange to the text generation endpoint.
func (c *DashScopeClient) chat(ctx context.Context, op, system, user string) (string, error) {
	req := textGenerationRequest{Model: c.textModel}
	req.Input.Messages = []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
	req.Parameters.ResultFormat = "message"

	var resp textGenerationResponse
	if err := c.post(ctx, op, "/services/aigc/text-generation/generation", req, false, &resp); err != nil {
		return "", err
	}
	if len(resp.Output.Choices) == 0 {
		return "", Permanent(op, fmt.Errorf("no choices in response"))
	}
	return resp.Output.Choices[0].Message.Content, nil
}

// post sends a POST request with JSON body
func (c *DashScopeClient) post(ctx context.Context, op, endpoint string, body interface{}, async bool, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return Permanent(op, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return Permanent(op, fmt.Errorf("failed to create request: %w", err))
	}
	if async {
		req.Header.Set("X-DashScope-Async", "enable")
	}

	return c.doRequest(op, req, result)
}

// get sends a GET request and parses JSON response
func (c *DashScopeClient) get(ctx context.Context, op, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return Permanent(op, fmt.Errorf("failed to create request: %w", err))
	}

	return c.doRequest(op, req, result)
}

// doRequest executes an HTTP request and parses the response
func (c *DashScopeClient) doRequest(op string, req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	log.Printf("[DashScope] → %s %s", req.Method, req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[DashScope] ✗ %s %s — request failed: %v", req.Method, req.URL.String(), err)
		return Transient(op, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[DashScope] ✗ %s %s — failed to read response: %v", req.Method, req.URL.String(), err)
		return Transient(op, fmt.Errorf("failed to read response: %w", err))
	}

	log.Printf("[DashScope] ← %d %s %s", resp.StatusCode, req.Method, req.URL.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyHTTP(op, resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		log.Printf("[DashScope] ✗ unmarshal error for %s %s: %v (body: %s)", req.Method, req.URL.String(), err, string(respBody))
		return Permanent(op, fmt.Errorf("failed to unmarshal response: %w", err))
	}

	return nil
}

// download fetches a generated artifact URL into a local file.
func (c *DashScopeClient) download(ctx context.Context, op, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Permanent(op, fmt.Errorf("failed to create download request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Transient(op, fmt.Errorf("download failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyHTTP(op, resp.StatusCode, "artifact download failed")
	}

	f, err := os.Create(dest)
	if err != nil {
		return Permanent(op, fmt.Errorf("failed to create %s: %w", dest, err))
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return Transient(op, fmt.Errorf("failed to write %s: %w", dest, err))
	}
	return nil
}

// classifyMessage classifies a failed-task message the same way HTTP bodies
// are classified.
func classifyMessage(op string, err error) *ServiceError {
	lower := strings.ToLower(err.Error())
	for _, kw := range retryableKeywords {
		if strings.Contains(lower, kw) {
			return Transient(op, err)
		}
	}
	return Permanent(op, err)
}

// extractJSON strips markdown code fences models like to wrap JSON in.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
	}
	return strings.TrimSpace(content)
}

func runFFmpeg(ctx context.Context, op string, args []string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return Permanent(op, fmt.Errorf("ffmpeg failed: %v: %s", err, lastLine(stderr.String())))
	}
	return nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}

// encodeImageDataURL inlines a local reference image as a data URL for the
// image-to-video request.
func encodeImageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read reference image: %w", err)
	}
	mime := "image/jpeg"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		mime = "image/png"
	case ".gif":
		mime = "image/gif"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data)), nil
}
