package sim

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reqhub/jobwatch/internal/pipeline"
)

// Handler serves the simulated upload, OCR and pipeline endpoints.
type Handler struct {
	store  *Store
	logger *slog.Logger
}

// NewHandler creates a Handler backed by the given store.
func NewHandler(store *Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger}
}

// Upload handles POST /api/upload
// Accepts multipart files under "files" and returns their references.
func (h *Handler) Upload(c *gin.Context) {
	names, err := h.readFiles(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "at least one file is required",
		})
		return
	}

	refs := make([]string, len(names))
	for i, name := range names {
		refs[i] = h.store.SaveUpload(name)
	}

	h.logger.Info("Files uploaded", slog.Int("count", len(refs)))
	c.JSON(http.StatusOK, gin.H{"files": refs})
}

// CreateTasks handles POST /api/ocr
// Creates one OCR task per uploaded file.
func (h *Handler) CreateTasks(c *gin.Context) {
	names, err := h.readFiles(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "at least one file is required",
		})
		return
	}

	taskIDs := make([]string, len(names))
	for i, name := range names {
		taskIDs[i] = h.store.CreateTask(name).ID
	}

	c.JSON(http.StatusOK, gin.H{"taskIds": taskIDs})
}

// TaskStatus handles GET /api/ocr?taskId=
func (h *Handler) TaskStatus(c *gin.Context) {
	taskID := c.Query("taskId")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "taskId is required",
		})
		return
	}

	job, ok := h.store.Get(taskID)
	if !ok || job.Family != FamilyOCR {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "task not found",
		})
		return
	}

	resp := gin.H{"status": job.Status}
	if job.Result != nil {
		resp["result"] = job.Result
	}
	if job.Error != nil {
		resp["error"] = job.Error
	}
	c.JSON(http.StatusOK, resp)
}

type startPipelineRequest struct {
	Action string `json:"action" binding:"required"`
	pipeline.StartParams
}

// StartPipeline handles POST /api/ai
func (h *Handler) StartPipeline(c *gin.Context) {
	var req startPipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if req.Action != "startPipeline" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unsupported action",
		})
		return
	}
	if req.PipelineID == "" {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Pipeline not found",
		})
		return
	}

	run := h.store.CreateRun(req.PipelineID, req.OrganizationID, req.Files)
	c.JSON(http.StatusOK, gin.H{
		"runId":   run.ID,
		"state":   run.Status,
		"message": "pipeline run accepted",
	})
}

// RunStatus handles GET /api/ai?runId=&organizationId=
func (h *Handler) RunStatus(c *gin.Context) {
	runID := c.Query("runId")
	orgID := c.Query("organizationId")
	if runID == "" || orgID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "runId and organizationId are required",
		})
		return
	}

	job, ok := h.store.Get(runID)
	if !ok || job.Family != FamilyPipeline || job.OrganizationID != orgID {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "run not found",
		})
		return
	}

	resp := gin.H{"state": job.Status}
	if job.Result != nil {
		resp["output"] = job.Result
	}
	if job.Error != nil {
		resp["error"] = job.Error
	}
	c.JSON(http.StatusOK, resp)
}

// readFiles drains the multipart "files" entries and returns their names.
func (h *Handler) readFiles(c *gin.Context) ([]string, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, err
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		return nil, http.ErrMissingFile
	}

	names := make([]string, 0, len(headers))
	for _, fh := range headers {
		// the content itself is irrelevant to the simulation, but
		// draining it keeps large multipart bodies from piling up
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		_, _ = io.Copy(io.Discard, f)
		f.Close()

		names = append(names, fh.Filename)
	}
	return names, nil
}
