package model

// Job status
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether a job in this status can never change again.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Generation types
type GenerationType string

const (
	GenerationText  GenerationType = "text"
	GenerationImage GenerationType = "image"
)

var ValidGenerationTypes = []GenerationType{GenerationText, GenerationImage}

// Pipeline stages, in execution order
type Stage string

const (
	StageParsing     Stage = "parsing_input"
	StageScript      Stage = "generating_script"
	StageStoryboard  Stage = "generating_storyboard"
	StageScenes      Stage = "generating_scenes"
	StageStitching   Stage = "stitching_videos"
	StageMusic       Stage = "adding_music"
	StageQuality     Stage = "quality_check"
	StagePostProcess Stage = "post_processing"
)

var StageOrder = []Stage{
	StageParsing, StageScript, StageStoryboard, StageScenes,
	StageStitching, StageMusic, StageQuality, StagePostProcess,
}

// StageMessages maps each stage to the human-readable progress message
// surfaced through the status endpoint.
var StageMessages = map[Stage]string{
	StageParsing:     "Analyzing input",
	StageScript:      "Writing the script",
	StageStoryboard:  "Building the storyboard",
	StageScenes:      "Generating scenes",
	StageStitching:   "Stitching scene videos",
	StageMusic:       "Adding background music",
	StageQuality:     "Checking video quality",
	StagePostProcess: "Finalizing video",
}

// Scene task status
type SceneStatus string

const (
	ScenePending SceneStatus = "pending"
	SceneRunning SceneStatus = "running"
	SceneDone    SceneStatus = "done"
	SceneFailed  SceneStatus = "failed"
)
