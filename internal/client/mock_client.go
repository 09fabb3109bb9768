package client

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// MockClient implements GenerationClient without any external service. It
// is wired in when DashScope is unconfigured and carries the development
// and test flows: every step produces a small placeholder artifact after an
// optional delay.
type MockClient struct {
	// Delay is slept per step, context permitting. Zero keeps tests fast.
	Delay time.Duration

	// SceneCount controls how many storyboard scenes are produced.
	SceneCount int

	// SceneErrors injects a failure for SynthesizeSceneVideo by scene
	// index. Used by tests to script scene-level outcomes.
	SceneErrors map[int]error
}

func NewMockClient(delay time.Duration) *MockClient {
	return &MockClient{Delay: delay, SceneCount: 3}
}

func (c *MockClient) WithAPIKey(apiKey string) GenerationClient { return c }

func (c *MockClient) IsConfigured() bool { return false }

func (c *MockClient) ParseInput(ctx context.Context, inputText string) (*ParsedInput, error) {
	if err := c.step(ctx); err != nil {
		return nil, err
	}
	return &ParsedInput{Topic: inputText, Style: "realistic"}, nil
}

func (c *MockClient) GenerateScript(ctx context.Context, topic string) (*Script, error) {
	if err := c.step(ctx); err != nil {
		return nil, err
	}
	return &Script{
		Title:       "Mock: " + topic,
		Copywriting: fmt.Sprintf("A short film about %s. Scene after scene unfolds. The story ends.", topic),
	}, nil
}

func (c *MockClient) GenerateStoryboard(ctx context.Context, topic, copywriting string) ([]Scene, error) {
	if err := c.step(ctx); err != nil {
		return nil, err
	}
	n := c.SceneCount
	if n <= 0 {
		n = 3
	}
	scenes := make([]Scene, n)
	for i := range scenes {
		scenes[i] = Scene{
			Index:    i,
			Dialogue: fmt.Sprintf("Narration for scene %d of %s.", i+1, topic),
			Prompt:   fmt.Sprintf("Shot %d, %s", i+1, topic),
		}
	}
	return scenes, nil
}

func (c *MockClient) SynthesizeVoice(ctx context.Context, scene Scene, dir string) (string, error) {
	if err := c.step(ctx); err != nil {
		return "", err
	}
	return c.writeArtifact(dir, fmt.Sprintf("voice_%02d.mp3", scene.Index))
}

func (c *MockClient) SynthesizeSceneVideo(ctx context.Context, scene Scene, refImagePath, dir string) (string, error) {
	if err := c.step(ctx); err != nil {
		return "", err
	}
	if err, ok := c.SceneErrors[scene.Index]; ok {
		return "", err
	}
	return c.writeArtifact(dir, fmt.Sprintf("scene_%02d.mp4", scene.Index))
}

func (c *MockClient) StitchScenes(ctx context.Context, videoClips, voiceClips []string, dir string) (string, error) {
	if err := c.step(ctx); err != nil {
		return "", err
	}
	if len(videoClips) == 0 {
		return "", Permanent("mock.stitch_scenes", fmt.Errorf("no scene clips to stitch"))
	}
	return c.writeArtifact(dir, "stitched.mp4")
}

func (c *MockClient) MixBackgroundMusic(ctx context.Context, videoPath, bgmPath, dir string) (string, error) {
	if err := c.step(ctx); err != nil {
		return "", err
	}
	if bgmPath == "" {
		return videoPath, nil
	}
	return c.writeArtifact(dir, "with_music.mp4")
}

func (c *MockClient) CheckQuality(ctx context.Context, videoPath string) (string, error) {
	if err := c.step(ctx); err != nil {
		return "", err
	}
	return "probe: 1280,720,12.0 (mock)", nil
}

func (c *MockClient) step(ctx context.Context) error {
	if c.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.Delay):
		return nil
	}
}

func (c *MockClient) writeArtifact(dir, name string) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("mock artifact\n"), 0o644); err != nil {
		return "", fmt.Errorf("failed to write mock artifact: %w", err)
	}
	log.Printf("[MockClient] wrote %s", path)
	return path, nil
}
