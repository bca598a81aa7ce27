package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/task"
)

// CreateTaskRequest is the request body for POST /api/v1/tasks.
type CreateTaskRequest struct {
	Type            string   `json:"type"`
	Description     string   `json:"description"`
	Repo            string   `json:"repo"`
	BaseBranch      string   `json:"base_branch"`
	Language        string   `json:"language"`
	Framework       string   `json:"framework"`
	Complexity      string   `json:"complexity"`
	Specification   string   `json:"specification"`
	ReferencedFiles []string `json:"referenced_files"`
	Requirements    []string `json:"requirements"`
	Constraints     []string `json:"constraints"`
}

// CreateTaskResponse is the response body for POST /api/v1/tasks.
type CreateTaskResponse struct {
	TaskID        string      `json:"task_id"`
	Status        task.Status `json:"status"`
	WorkingBranch string      `json:"working_branch"`
}

// FeedbackRequest carries human-review feedback for approve and reject.
type FeedbackRequest struct {
	Feedback string `json:"feedback"`
}

// ListTasksResponse is the response body for GET /api/v1/tasks.
type ListTasksResponse struct {
	Tasks []task.Summary `json:"tasks"`
	Count int            `json:"count"`
}

func (s *Server) handleCreateTask(c echo.Context) error {
	var req CreateTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	t, err := s.pipeline.CreateTask(c.Request().Context(), task.CreateRequest{
		Type:            task.Type(req.Type),
		Description:     req.Description,
		Repo:            req.Repo,
		BaseBranch:      req.BaseBranch,
		Language:        req.Language,
		Framework:       req.Framework,
		Complexity:      req.Complexity,
		Specification:   req.Specification,
		ReferencedFiles: req.ReferencedFiles,
		Requirements:    req.Requirements,
		Constraints:     req.Constraints,
	})
	if err != nil {
		s.logger.Warn(c.Request().Context(), "rejected create request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusAccepted, CreateTaskResponse{
		TaskID:        t.ID,
		Status:        t.Status,
		WorkingBranch: t.WorkingBranch,
	})
}

func (s *Server) handleListTasks(c echo.Context) error {
	f := task.Filter{
		Status: task.Status(c.QueryParam("status")),
		Type:   task.Type(c.QueryParam("type")),
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		f.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset")
		}
		f.Offset = n
	}

	summaries, err := s.store.List(c.Request().Context(), f)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if summaries == nil {
		summaries = []task.Summary{}
	}
	return c.JSON(http.StatusOK, ListTasksResponse{Tasks: summaries, Count: len(summaries)})
}

func (s *Server) handleGetTask(c echo.Context) error {
	t, err := s.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return taskError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (s *Server) handleGetLogs(c echo.Context) error {
	t, err := s.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return taskError(err)
	}
	logs := t.Logs
	if logs == nil {
		logs = []task.LogEntry{}
	}
	return c.JSON(http.StatusOK, map[string]any{"task_id": t.ID, "logs": logs})
}

func (s *Server) handleGetArtifacts(c echo.Context) error {
	t, err := s.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return taskError(err)
	}
	artifacts := t.Artifacts
	if artifacts == nil {
		artifacts = []task.Artifact{}
	}
	return c.JSON(http.StatusOK, map[string]any{"task_id": t.ID, "artifacts": artifacts})
}

func (s *Server) handleApprove(c echo.Context) error {
	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	t, err := s.pipeline.Approve(c.Request().Context(), c.Param("id"), req.Feedback)
	if err != nil {
		return taskError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (s *Server) handleReject(c echo.Context) error {
	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Feedback == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "feedback is required when rejecting")
	}
	t, err := s.pipeline.Reject(c.Request().Context(), c.Param("id"), req.Feedback)
	if err != nil {
		return taskError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (s *Server) handleCancel(c echo.Context) error {
	t, err := s.pipeline.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return taskError(err)
	}
	return c.JSON(http.StatusOK, t)
}

// taskError maps store and state-machine errors to HTTP errors.
func taskError(err error) error {
	switch {
	case errors.Is(err, task.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	case errors.Is(err, task.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
