package model

import "time"

// Job is the record a poller sees: one per video generation request,
// written only by the orchestrator that owns it.
type Job struct {
	ID             string            `json:"id"`
	InputText      string            `json:"inputText"`
	GenerationType GenerationType    `json:"generationType"`
	ImagePath      string            `json:"imagePath,omitempty"`
	Status         JobStatus         `json:"status"`
	Stage          Stage             `json:"stage,omitempty"`
	Progress       int               `json:"progress"`
	Message        string            `json:"message,omitempty"`
	StageResults   map[string]string `json:"stageResults,omitempty"`
	Error          *string           `json:"error,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	StartedAt      *time.Time        `json:"startedAt,omitempty"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty"`
}

// Stage result keys
const (
	ResultTitle         = "title"
	ResultCopywriting   = "copywriting"
	ResultSceneCount    = "scene_count"
	ResultStitchedVideo = "stitched_video"
	ResultFinalVideo    = "final_video"
	ResultVideoURL      = "video_url"
	ResultQualityReport = "quality_report"
)

// GenerationPayload is what the dispatcher hands to the pipeline. The api
// key travels only here, never inside the stored Job.
type GenerationPayload struct {
	JobID          string         `json:"jobId"`
	InputText      string         `json:"inputText"`
	GenerationType GenerationType `json:"generationType"`
	ImagePath      string         `json:"imagePath,omitempty"`
	APIKey         string         `json:"apiKey,omitempty"`
	WorkDir        string         `json:"workDir"`
}

// SceneTask tracks one scene through voice and video synthesis. Tasks live
// only for the duration of the scene stage; they are never persisted.
type SceneTask struct {
	Index    int
	Dialogue string
	Prompt   string
	Status   SceneStatus
	Attempt  int
	Artifact *SceneArtifact
}

// SceneArtifact holds the per-scene clip paths produced by synthesis.
type SceneArtifact struct {
	VoiceClip string
	VideoClip string
}
