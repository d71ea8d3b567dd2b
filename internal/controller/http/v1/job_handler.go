package v1

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"cadbridge/internal/domain/entity"
	"cadbridge/internal/domain/usecase"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type JobUseCase interface {
	CreateJob(ctx context.Context, in usecase.CreateJobInput) (*entity.TranslationJob, error)
	GetJob(ctx context.Context, jobID string) (*usecase.JobStatusView, error)
	Cancel(ctx context.Context, jobID string) error
}

type JobHandler struct {
	UseCase JobUseCase
}

func NewJobHandler(u JobUseCase) *JobHandler {
	return &JobHandler{UseCase: u}
}

type createJobForm struct {
	Formats []string `validate:"required,min=1,dive,oneof=svf svf2 obj stl step ifc gltf"`
}

// CreateJob accepts a multipart CAD/BIM upload plus the requested output
// formats and returns the created job in Pending.
func (h *JobHandler) CreateJob(c *gin.Context) {
	userID := c.GetString("user_id")
	sessionID := c.GetString("session_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file required"})
		return
	}

	form := createJobForm{Formats: formatsFromRequest(c)}
	if err := validate.Struct(form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported or missing output formats"})
		return
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	fileBytes, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	job, err := h.UseCase.CreateJob(c.Request.Context(), usecase.CreateJobInput{
		FileName:  file.Filename,
		FileBytes: fileBytes,
		Formats:   form.Formats,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":            job.JobID,
		"state":             job.State,
		"requested_formats": job.Formats(),
	})
}

func (h *JobHandler) GetJob(c *gin.Context) {
	view, err := h.UseCase.GetJob(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		if errors.Is(err, entity.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")
	err := h.UseCase.Cancel(c.Request.Context(), jobID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"job_id": jobID, "state": entity.StateCancelled})
	case errors.Is(err, entity.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, usecase.ErrJobTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": "job already finished"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func formatsFromRequest(c *gin.Context) []string {
	values := c.PostFormArray("formats")
	if len(values) == 1 && strings.Contains(values[0], ",") {
		values = strings.Split(values[0], ",")
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
