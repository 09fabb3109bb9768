package handler

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/aimovie/api/internal/model"
	"github.com/aimovie/api/internal/service"
	"github.com/aimovie/api/internal/store"
	"github.com/aimovie/api/pkg/response"
)

const maxImageSize = 10 * 1024 * 1024 // 10MB

type VideoHandler struct {
	service   *service.VideoService
	validator *validator.Validate
	uploadDir string
}

func NewVideoHandler(svc *service.VideoService, v *validator.Validate, uploadDir string) *VideoHandler {
	return &VideoHandler{
		service:   svc,
		validator: v,
		uploadDir: uploadDir,
	}
}

// Generate handles POST /api/generate-video
// Accepts multipart form data: description, api_key, generation_type and,
// for image generation, the reference image. Validation failures return
// success:false without creating a job.
func (h *VideoHandler) Generate(c *fiber.Ctx) error {
	description := c.FormValue("description")
	if description == "" {
		return submitError(c, "description is required")
	}

	apiKey := c.FormValue("api_key")
	if apiKey == "" {
		return submitError(c, "api_key is required")
	}

	genType := model.GenerationType(c.FormValue("generation_type", string(model.GenerationText)))

	input := &model.SubmitInput{
		Description:    description,
		APIKey:         apiKey,
		GenerationType: genType,
	}
	if err := h.validator.Struct(input); err != nil {
		return submitError(c, fmt.Sprintf("invalid request: %v", err))
	}

	if genType == model.GenerationImage {
		imagePath, err := h.saveReferenceImage(c)
		if err != nil {
			return submitError(c, err.Error())
		}
		input.ImagePath = imagePath
	}

	jobID, err := h.service.Submit(c.Context(), input)
	if err != nil {
		return response.ServiceError(c, "Failed to start video generation")
	}

	return c.Status(fiber.StatusAccepted).JSON(model.SubmitResponse{
		Success:  true,
		VideoID:  jobID,
		Redirect: "/api/video-status/" + jobID,
		Message:  "Video generation started",
	})
}

// Status handles GET /api/video-status/:video_id
// Terminal jobs answer identically on every poll.
func (h *VideoHandler) Status(c *fiber.Ctx) error {
	videoID := c.Params("video_id")

	job, err := h.service.Status(c.Context(), videoID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(model.StatusResponse{
				Success: false,
				Message: "Video not found",
			})
		}
		return response.ServiceError(c, "Failed to read video status")
	}

	resp := model.StatusResponse{
		Success:      true,
		Status:       job.Status,
		Progress:     job.Progress,
		Message:      job.Message,
		CurrentStep:  job.Stage,
		StageResults: job.StageResults,
	}
	if url, ok := job.StageResults[model.ResultVideoURL]; ok {
		resp.VideoURL = url
	} else if job.Status == model.JobStatusCompleted {
		resp.VideoURL = job.StageResults[model.ResultFinalVideo]
	}
	return c.JSON(resp)
}

// Cancel handles POST /api/cancel-video/:video_id
func (h *VideoHandler) Cancel(c *fiber.Ctx) error {
	videoID := c.Params("video_id")

	job, err := h.service.Cancel(c.Context(), videoID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Video not found")
		}
		if errors.Is(err, service.ErrAlreadyFinished) {
			return response.Conflict(c, fmt.Sprintf("Video generation already %s", job.Status))
		}
		return response.ServiceError(c, "Failed to cancel video generation")
	}

	return c.JSON(model.CancelResponse{
		Success: true,
		Status:  job.Status,
	})
}

// saveReferenceImage validates the uploaded image by decoding its header
// and stores it for the pipeline.
func (h *VideoHandler) saveReferenceImage(c *fiber.Ctx) (string, error) {
	file, err := c.FormFile("image")
	if err != nil {
		return "", errors.New("image is required for image generation")
	}
	if file.Size > maxImageSize {
		return "", errors.New("image exceeds 10MB limit")
	}

	f, err := file.Open()
	if err != nil {
		return "", errors.New("failed to open image")
	}
	defer f.Close()

	_, format, err := image.DecodeConfig(f)
	if err != nil {
		return "", errors.New("image is not a decodable image file")
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", errors.New("failed to read image")
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", errors.New("failed to store image")
	}
	dest := filepath.Join(h.uploadDir, fmt.Sprintf("%s.%s", uuid.New().String(), format))
	out, err := os.Create(dest)
	if err != nil {
		return "", errors.New("failed to store image")
	}
	defer out.Close()
	if _, err := io.Copy(out, f); err != nil {
		os.Remove(dest)
		return "", errors.New("failed to store image")
	}
	return dest, nil
}

func submitError(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(model.SubmitResponse{
		Success: false,
		Message: message,
	})
}
