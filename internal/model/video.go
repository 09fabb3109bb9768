package model

// SubmitInput is the validated form data handed from the handler to the
// service layer.
type SubmitInput struct {
	Description    string         `validate:"required,min=1,max=2000"`
	APIKey         string         `validate:"required"`
	GenerationType GenerationType `validate:"required,oneof=text image"`
	ImagePath      string
}

// SubmitResponse is the body of POST /api/generate-video.
type SubmitResponse struct {
	Success  bool   `json:"success"`
	VideoID  string `json:"video_id,omitempty"`
	Redirect string `json:"redirect,omitempty"`
	Message  string `json:"message"`
}

// StatusResponse is the body of GET /api/video-status/:video_id.
type StatusResponse struct {
	Success      bool              `json:"success"`
	Status       JobStatus         `json:"status,omitempty"`
	Progress     int               `json:"progress"`
	Message      string            `json:"message"`
	CurrentStep  Stage             `json:"current_step,omitempty"`
	StageResults map[string]string `json:"stage_results,omitempty"`
	VideoURL     string            `json:"video_url,omitempty"`
}

// CancelResponse is the body of POST /api/cancel-video/:video_id.
type CancelResponse struct {
	Success bool      `json:"success"`
	Status  JobStatus `json:"status"`
}
