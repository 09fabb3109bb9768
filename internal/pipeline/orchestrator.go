package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aimovie/api/internal/client"
	"github.com/aimovie/api/internal/concurrency"
	"github.com/aimovie/api/internal/model"
	"github.com/aimovie/api/internal/store"
	"github.com/aimovie/api/internal/workerpool"
)

// Per-stage progress checkpoints. The scene stage interpolates between its
// band edges as scenes complete; everything else jumps on stage entry.
var stageProgress = map[model.Stage]int{
	model.StageParsing:     5,
	model.StageScript:      15,
	model.StageStoryboard:  25,
	model.StageScenes:      sceneBandStart,
	model.StageStitching:   sceneBandEnd,
	model.StageMusic:       82,
	model.StageQuality:     88,
	model.StagePostProcess: 94,
}

const (
	sceneBandStart = 35
	sceneBandEnd   = 75
)

// A storyboard never exceeds this many scenes, fallback included.
const maxScenes = 5

// Options tune a single Orchestrator.
type Options struct {
	// StageTimeout is the deadline applied to each external call.
	// Zero disables per-call deadlines.
	StageTimeout time.Duration

	// BGMPath points at the background music track mixed in during the
	// music stage. Empty skips mixing.
	BGMPath string
}

// Orchestrator drives one job at a time through the generation stages,
// writing every transition to the job store. It is safe to share across
// jobs; per-job state lives on the stack of Run.
type Orchestrator struct {
	store   store.JobStore
	client  client.GenerationClient
	storage client.StorageClient
	control *concurrency.Controller
	policy  RetryPolicy
	opts    Options

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewOrchestrator(st store.JobStore, gen client.GenerationClient, storage client.StorageClient, control *concurrency.Controller, policy RetryPolicy, opts Options) *Orchestrator {
	return &Orchestrator{
		store:   st,
		client:  gen,
		storage: storage,
		control: control,
		policy:  policy,
		opts:    opts,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Run executes the full pipeline for one job. It always settles the job
// record into a terminal state before returning.
func (o *Orchestrator) Run(ctx context.Context, p model.GenerationPayload) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.registerCancel(p.JobID, cancel)
	defer o.unregisterCancel(p.JobID)

	gen := o.client
	if p.APIKey != "" {
		gen = gen.WithAPIKey(p.APIKey)
	}

	if err := os.MkdirAll(p.WorkDir, 0o755); err != nil {
		o.failJob(p.JobID, fmt.Sprintf("failed to prepare working directory: %v", err))
		return err
	}

	now := time.Now()
	o.update(p.JobID, func(j *model.Job) {
		j.Status = model.JobStatusRunning
		j.StartedAt = &now
	})
	log.Printf("[Pipeline] Job %s started (type=%s)", p.JobID, p.GenerationType)

	if err := o.run(ctx, gen, p); err != nil {
		if ctx.Err() == context.Canceled {
			log.Printf("[Pipeline] Job %s cancelled", p.JobID)
			o.failJob(p.JobID, "Video generation cancelled")
			return err
		}
		log.Printf("[Pipeline] Job %s failed: %v", p.JobID, err)
		o.failJob(p.JobID, err.Error())
		return err
	}

	log.Printf("[Pipeline] Job %s completed", p.JobID)
	return nil
}

// Cancel aborts a running job. Returns false when no run is registered
// under the id (already finished, or never dispatched here).
func (o *Orchestrator) Cancel(jobID string) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[jobID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (o *Orchestrator) run(ctx context.Context, gen client.GenerationClient, p model.GenerationPayload) error {
	// Stage 1: parse the request into a topic.
	o.enterStage(p.JobID, model.StageParsing)
	var parsed *client.ParsedInput
	err := o.withRetry(ctx, "parse input", func(cctx context.Context) error {
		var err error
		parsed, err = gen.ParseInput(cctx, p.InputText)
		return err
	})
	if err != nil {
		return err
	}

	// Stage 2: titled copywriting.
	o.enterStage(p.JobID, model.StageScript)
	var script *client.Script
	err = o.withRetry(ctx, "generate script", func(cctx context.Context) error {
		var err error
		script, err = gen.GenerateScript(cctx, parsed.Topic)
		return err
	})
	if err != nil {
		return err
	}
	o.update(p.JobID, func(j *model.Job) {
		j.StageResults[model.ResultTitle] = script.Title
		j.StageResults[model.ResultCopywriting] = script.Copywriting
	})

	// Stage 3: storyboard.
	o.enterStage(p.JobID, model.StageStoryboard)
	var scenes []client.Scene
	err = o.withRetry(ctx, "generate storyboard", func(cctx context.Context) error {
		var err error
		scenes, err = gen.GenerateStoryboard(cctx, parsed.Topic, script.Copywriting)
		return err
	})
	if err != nil {
		return err
	}
	if len(scenes) == 0 {
		scenes = fallbackScenes(script.Copywriting)
		log.Printf("[Pipeline] Job %s: empty storyboard, fell back to %d sentence scenes", p.JobID, len(scenes))
	}
	if len(scenes) == 0 {
		return fmt.Errorf("storyboard produced no scenes")
	}
	if len(scenes) > maxScenes {
		scenes = scenes[:maxScenes]
	}
	o.update(p.JobID, func(j *model.Job) {
		j.StageResults[model.ResultSceneCount] = strconv.Itoa(len(scenes))
	})

	// Stage 4: scenes, fanned out onto the bounded pool.
	o.enterStage(p.JobID, model.StageScenes)
	tasks, err := o.runScenes(ctx, gen, p, scenes)
	if err != nil {
		return err
	}

	// Stage 5: stitch clips in storyboard order.
	o.enterStage(p.JobID, model.StageStitching)
	videoClips := make([]string, len(tasks))
	voiceClips := make([]string, len(tasks))
	for i, task := range tasks {
		videoClips[i] = task.Artifact.VideoClip
		voiceClips[i] = task.Artifact.VoiceClip
	}
	var stitched string
	err = o.withRetry(ctx, "stitch scenes", func(cctx context.Context) error {
		var err error
		stitched, err = gen.StitchScenes(cctx, videoClips, voiceClips, p.WorkDir)
		return err
	})
	if err != nil {
		return err
	}
	o.update(p.JobID, func(j *model.Job) {
		j.StageResults[model.ResultStitchedVideo] = stitched
	})

	// Stage 6: background music.
	o.enterStage(p.JobID, model.StageMusic)
	var mixed string
	err = o.withRetry(ctx, "mix background music", func(cctx context.Context) error {
		var err error
		mixed, err = gen.MixBackgroundMusic(cctx, stitched, o.opts.BGMPath, p.WorkDir)
		return err
	})
	if err != nil {
		return err
	}

	// Stage 7: quality probe. The report is informational; a readable
	// video proceeds regardless of what the probe says about it.
	o.enterStage(p.JobID, model.StageQuality)
	var report string
	err = o.withRetry(ctx, "check quality", func(cctx context.Context) error {
		var err error
		report, err = gen.CheckQuality(cctx, mixed)
		return err
	})
	if err != nil {
		return err
	}
	o.update(p.JobID, func(j *model.Job) {
		j.StageResults[model.ResultQualityReport] = report
	})

	// Stage 8: publish and clean up.
	o.enterStage(p.JobID, model.StagePostProcess)
	videoURL, err := o.postProcess(ctx, p, mixed)
	if err != nil {
		return err
	}

	o.update(p.JobID, func(j *model.Job) {
		j.Status = model.JobStatusCompleted
		j.Progress = 100
		j.Message = "Video generation complete"
		if videoURL != "" {
			j.StageResults[model.ResultVideoURL] = videoURL
		}
		now := time.Now()
		j.CompletedAt = &now
	})
	return nil
}

// runScenes resolves the worker limit once, then fans the scene tasks out.
// The limit is deliberately not re-read mid-stage; config changes apply
// from the next job's scene stage.
func (o *Orchestrator) runScenes(ctx context.Context, gen client.GenerationClient, p model.GenerationPayload, scenes []client.Scene) ([]*model.SceneTask, error) {
	limit := o.control.EffectiveWorkerCount(ctx)
	total := len(scenes)
	log.Printf("[Pipeline] Job %s: generating %d scenes with %d worker(s)", p.JobID, total, limit)

	sceneDir := filepath.Join(p.WorkDir, "scenes")
	if err := os.MkdirAll(sceneDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to prepare scene directory: %v", err)
	}

	tasks := make([]*model.SceneTask, total)
	for i, sc := range scenes {
		tasks[i] = &model.SceneTask{Index: i, Dialogue: sc.Dialogue, Prompt: sc.Prompt, Status: model.ScenePending}
	}

	var completed int32
	err := workerpool.RunAll(ctx, total, limit, func(tctx context.Context, i int) error {
		refImage := ""
		if i == 0 && p.GenerationType == model.GenerationImage {
			refImage = p.ImagePath
		}
		if err := o.runScene(tctx, gen, tasks[i], scenes[i], refImage, sceneDir); err != nil {
			return err
		}

		done := atomic.AddInt32(&completed, 1)
		o.update(p.JobID, func(j *model.Job) {
			progress := sceneBandStart + int(float64(sceneBandEnd-sceneBandStart)*float64(done)/float64(total))
			if progress > j.Progress {
				j.Progress = progress
			}
			j.Message = fmt.Sprintf("Generating scenes (%d/%d complete)", done, total)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// runScene synthesizes voice then video for one scene, retrying transient
// failures up to the policy's scene budget.
func (o *Orchestrator) runScene(ctx context.Context, gen client.GenerationClient, task *model.SceneTask, sc client.Scene, refImage, dir string) error {
	attempts := o.policy.SceneRetries + 1

	for {
		task.Attempt++
		task.Status = model.SceneRunning

		err := func() error {
			cctx, cancel := o.callCtx(ctx)
			defer cancel()
			voice, err := gen.SynthesizeVoice(cctx, sc, dir)
			if err != nil {
				return err
			}

			vctx, vcancel := o.callCtx(ctx)
			defer vcancel()
			video, err := gen.SynthesizeSceneVideo(vctx, sc, refImage, dir)
			if err != nil {
				return err
			}

			task.Artifact = &model.SceneArtifact{VoiceClip: voice, VideoClip: video}
			return nil
		}()
		if err == nil {
			task.Status = model.SceneDone
			return nil
		}
		if ctx.Err() != nil {
			task.Status = model.SceneFailed
			return ctx.Err()
		}
		if task.Attempt >= attempts || !client.IsTransient(err) {
			task.Status = model.SceneFailed
			log.Printf("[Pipeline] Scene %d failed after %d attempt(s): %v", task.Index, task.Attempt, err)
			return fmt.Errorf("scene %d failed: %w", task.Index, err)
		}

		log.Printf("[Pipeline] Scene %d attempt %d failed, retrying: %v", task.Index, task.Attempt, err)
		if serr := o.policy.sleep(ctx, task.Attempt); serr != nil {
			task.Status = model.SceneFailed
			return serr
		}
	}
}

// postProcess uploads the final video when storage is configured and wipes
// the working directory. Without storage the local file is the deliverable
// and the directory stays.
func (o *Orchestrator) postProcess(ctx context.Context, p model.GenerationPayload, finalPath string) (string, error) {
	o.update(p.JobID, func(j *model.Job) {
		j.StageResults[model.ResultFinalVideo] = finalPath
	})

	if o.storage == nil {
		return "", nil
	}

	f, err := os.Open(finalPath)
	if err != nil {
		return "", fmt.Errorf("failed to open final video: %v", err)
	}
	defer f.Close()

	key := fmt.Sprintf("videos/%s.mp4", p.JobID)
	var url string
	err = o.withRetry(ctx, "upload final video", func(cctx context.Context) error {
		if _, serr := f.Seek(0, 0); serr != nil {
			return serr
		}
		var uerr error
		url, uerr = o.storage.Upload(cctx, key, f, "video/mp4")
		return uerr
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload final video: %v", err)
	}

	if rerr := os.RemoveAll(p.WorkDir); rerr != nil {
		log.Printf("[Pipeline] Job %s: failed to clean %s: %v", p.JobID, p.WorkDir, rerr)
	}
	return url, nil
}

// withRetry runs fn with a per-call deadline, retrying transient errors
// within the stage budget.
func (o *Orchestrator) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts := o.policy.StageRetries + 1

	for attempt := 1; ; attempt++ {
		cctx, cancel := o.callCtx(ctx)
		err := fn(cctx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= attempts || !client.IsTransient(err) {
			return fmt.Errorf("%s: %w", op, err)
		}

		log.Printf("[Pipeline] %s attempt %d failed, retrying: %v", op, attempt, err)
		if serr := o.policy.sleep(ctx, attempt); serr != nil {
			return serr
		}
	}
}

func (o *Orchestrator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.opts.StageTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.opts.StageTimeout)
}

// enterStage records the transition into a stage with its checkpoint
// progress. Progress never moves backwards.
func (o *Orchestrator) enterStage(jobID string, stage model.Stage) {
	o.update(jobID, func(j *model.Job) {
		j.Stage = stage
		j.Message = model.StageMessages[stage]
		if p := stageProgress[stage]; p > j.Progress {
			j.Progress = p
		}
	})
}

// update applies a mutation unless the job already settled. Store errors
// are logged, not propagated: a failed progress write must not kill a
// healthy pipeline.
func (o *Orchestrator) update(jobID string, mutate func(*model.Job)) {
	_, err := o.store.Update(context.Background(), jobID, func(j *model.Job) {
		if j.Status.IsTerminal() {
			return
		}
		if j.StageResults == nil {
			j.StageResults = make(map[string]string)
		}
		mutate(j)
	})
	if err != nil {
		log.Printf("[Pipeline] Failed to update job %s: %v", jobID, err)
	}
}

func (o *Orchestrator) failJob(jobID, message string) {
	o.update(jobID, func(j *model.Job) {
		j.Status = model.JobStatusFailed
		j.Message = message
		errMsg := message
		j.Error = &errMsg
		now := time.Now()
		j.CompletedAt = &now
	})
}

func (o *Orchestrator) registerCancel(jobID string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.cancels[jobID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) unregisterCancel(jobID string) {
	o.mu.Lock()
	delete(o.cancels, jobID)
	o.mu.Unlock()
}

// fallbackScenes splits copywriting into sentence scenes when the model
// fails to return a storyboard.
func fallbackScenes(copywriting string) []client.Scene {
	split := strings.FieldsFunc(copywriting, func(r rune) bool {
		switch r {
		case '.', '!', '?', '。', '！', '？', '\n':
			return true
		}
		return false
	})

	var scenes []client.Scene
	for _, s := range split {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		scenes = append(scenes, client.Scene{
			Index:    len(scenes),
			Dialogue: s,
			Prompt:   s,
		})
		if len(scenes) == maxScenes {
			break
		}
	}
	return scenes
}
