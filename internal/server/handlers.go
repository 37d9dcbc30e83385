package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/KohakuBlueleaf/DIG/internal/storage"
	"github.com/KohakuBlueleaf/DIG/internal/types"
)

// submitRequest is the POST /request body. extra_args rides along to the
// worker untouched, except for the reserved task_id key.
type submitRequest struct {
	Prompt    string          `json:"prompt"`
	ExtraArgs types.ExtraArgs `json:"extra_args"`
}

// handleSubmit accepts a prompt and queues it. A task_id key inside
// extra_args names the task explicitly (and is stripped from the stored
// args); otherwise a fresh UUID is assigned. Submitting a known id is an
// upsert that returns the row to pending.
func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Prompt == "" {
		detail(c, http.StatusBadRequest, "prompt is required")
		return
	}
	if req.ExtraArgs == nil {
		req.ExtraArgs = types.ExtraArgs{}
	}
	if err := req.ExtraArgs.Validate(); err != nil {
		detail(c, http.StatusBadRequest, err.Error())
		return
	}

	taskID := ""
	if v, ok := req.ExtraArgs["task_id"]; ok {
		taskID = types.ScalarString(v)
		delete(req.ExtraArgs, "task_id")
	}
	if taskID == "" {
		taskID = uuid.NewString()
	}

	task := &types.Task{
		TaskID:    taskID,
		Prompt:    req.Prompt,
		ExtraArgs: req.ExtraArgs,
	}
	prevArtifact, err := s.store.Submit(c.Request.Context(), task)
	if err != nil {
		storeError(c, err)
		return
	}
	// The row no longer references the old artifact; drop the bytes too so a
	// resubmitted task cannot serve stale output.
	if prevArtifact != "" {
		if err := s.sink.Remove(prevArtifact); err != nil {
			s.log.Warn("failed to remove replaced artifact",
				"task_id", taskID, "artifact", prevArtifact, "error", err)
		}
	}

	s.metrics.submitted.Add(c.Request.Context(), 1)
	c.JSON(http.StatusOK, gin.H{"task_id": taskID})
}

// handleClaim hands the oldest pending task to a worker, atomically moving it
// to processing. 404 means an empty queue; 409 means the claim lost a race
// and the worker should retry after a short backoff.
func (s *Server) handleClaim(c *gin.Context) {
	task, err := s.store.ClaimNext(c.Request.Context())
	if err != nil {
		if errors.Is(err, storage.ErrContended) {
			s.metrics.conflicts.Add(c.Request.Context(), 1)
		}
		storeError(c, err)
		return
	}

	s.metrics.claimed.Add(c.Request.Context(), 1)
	c.JSON(http.StatusOK, gin.H{
		"task_id":    task.TaskID,
		"prompt":     task.Prompt,
		"extra_args": task.ExtraArgs,
	})
}

// handleComplete receives the generated image for a processing task,
// transcodes it to WebP, and moves the task to completed. The artifact file
// is fully written before the row transitions, so a completed row always has
// readable bytes behind it.
func (s *Server) handleComplete(c *gin.Context) {
	taskID := c.Param("task_id")

	task, err := s.store.Get(c.Request.Context(), taskID)
	if err != nil {
		storeError(c, err)
		return
	}
	if task.Status != types.StatusProcessing {
		detail(c, http.StatusBadRequest,
			fmt.Sprintf("task %s is %s, not processing", taskID, task.Status))
		return
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		detail(c, http.StatusBadRequest, "multipart field 'image' is required")
		return
	}
	upload, err := fileHeader.Open()
	if err != nil {
		detail(c, http.StatusBadRequest, fmt.Sprintf("read upload: %v", err))
		return
	}
	defer upload.Close()

	ref, err := s.sink.Put(taskID, upload)
	if err != nil {
		storeError(c, err)
		return
	}

	if err := s.store.MarkCompleted(c.Request.Context(), taskID, ref); err != nil {
		// The state check above raced with another transition; the freshly
		// written artifact belongs to nobody.
		if rmErr := s.sink.Remove(ref); rmErr != nil {
			s.log.Warn("failed to remove orphaned artifact",
				"task_id", taskID, "artifact", ref, "error", rmErr)
		}
		storeError(c, err)
		return
	}

	s.metrics.completed.Add(c.Request.Context(), 1)
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("task %s completed", taskID)})
}

// handleReset returns a task to pending from any state. Workers call this to
// hand back work they cannot finish; operators call it to unstick rows.
func (s *Server) handleReset(c *gin.Context) {
	taskID := c.Param("task_id")

	prevArtifact, err := s.store.Reset(c.Request.Context(), taskID)
	if err != nil {
		storeError(c, err)
		return
	}
	if prevArtifact != "" {
		if err := s.sink.Remove(prevArtifact); err != nil {
			s.log.Warn("failed to remove artifact on reset",
				"task_id", taskID, "artifact", prevArtifact, "error", err)
		}
	}

	s.metrics.reset.Add(c.Request.Context(), 1)
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("task %s reset to pending", taskID)})
}

// handleDownload streams the stored WebP artifact. A task that exists but is
// not completed is indistinguishable from an unknown one: both are 404.
func (s *Server) handleDownload(c *gin.Context) {
	taskID := c.Param("task_id")

	task, err := s.store.Get(c.Request.Context(), taskID)
	if err != nil {
		storeError(c, err)
		return
	}
	if task.Status != types.StatusCompleted || task.ImagePath == "" {
		detail(c, http.StatusNotFound,
			fmt.Sprintf("task %s has no completed artifact", taskID))
		return
	}

	path := s.sink.Path(task.ImagePath)
	if _, err := os.Stat(path); err != nil {
		detail(c, http.StatusNotFound,
			fmt.Sprintf("artifact for task %s is missing", taskID))
		return
	}
	c.Header("Content-Type", "image/webp")
	c.File(path)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}
