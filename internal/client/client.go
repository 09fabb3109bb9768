package client

import "context"

// Scene is one storyboard entry: what is said and what is shown.
type Scene struct {
	Index    int    `json:"index"`
	Dialogue string `json:"dialogue"`
	Prompt   string `json:"prompt"`
}

// ParsedInput is the structured reading of the user's description.
type ParsedInput struct {
	Topic    string   `json:"topic"`
	Style    string   `json:"style,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// Script is the titled copywriting produced for a topic.
type Script struct {
	Title       string `json:"title"`
	Copywriting string `json:"copywriting"`
}

// GenerationClient defines the interface for the external generation
// services the pipeline calls. Path-returning methods write their artifact
// under dir and return the file path.
type GenerationClient interface {
	ParseInput(ctx context.Context, inputText string) (*ParsedInput, error)
	GenerateScript(ctx context.Context, topic string) (*Script, error)
	GenerateStoryboard(ctx context.Context, topic, copywriting string) ([]Scene, error)
	SynthesizeVoice(ctx context.Context, scene Scene, dir string) (string, error)
	SynthesizeSceneVideo(ctx context.Context, scene Scene, refImagePath, dir string) (string, error)
	StitchScenes(ctx context.Context, videoClips, voiceClips []string, dir string) (string, error)
	MixBackgroundMusic(ctx context.Context, videoPath, bgmPath, dir string) (string, error)
	CheckQuality(ctx context.Context, videoPath string) (string, error)

	// WithAPIKey returns a client using the given credential instead of the
	// configured one. The receiver is not modified.
	WithAPIKey(apiKey string) GenerationClient

	// IsConfigured returns true if the client has valid configuration
	IsConfigured() bool
}
