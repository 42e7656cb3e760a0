package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mgpai22/captioner/internal/jobs"
	"github.com/mgpai22/captioner/internal/subtitle"
	"github.com/mgpai22/captioner/internal/transcribe"
	"github.com/mgpai22/captioner/internal/video"
)

type transcribeRequest struct {
	VideoPath    string          `json:"video_path"`
	SRTPath      string          `json:"srt_path"`
	OutputPath   string          `json:"output_path"`
	Engine       string          `json:"engine"`
	Model        string          `json:"model"`
	MaxWords     int             `json:"max_words"`
	GapThreshold float64         `json:"gap_threshold"`
	Burn         bool            `json:"burn"`
	Style        video.StyleSpec `json:"style"`
}

type burnRequest struct {
	VideoPath  string          `json:"video_path"`
	SRTPath    string          `json:"srt_path"`
	OutputPath string          `json:"output_path"`
	Style      video.StyleSpec `json:"style"`
}

type submitResponse struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	Events    string `json:"events"`
	WebSocket string `json:"websocket"`
}

type saveRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type saveResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
	Cues    int    `json:"cues"`
}

func live(c echo.Context) error {
	return c.JSONBlob(http.StatusOK, []byte(`{"service":"OK"}`))
}

func models(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"models":         transcribe.ModelSizes(),
		"default_model":  transcribe.DefaultModel,
		"engines":        transcribe.Engines(),
		"default_engine": transcribe.DefaultEngine,
	})
}

func (s *Server) submitTranscription(c echo.Context) error {
	// fields missing from the body keep these defaults
	req := transcribeRequest{
		Engine:       s.defaults.Engine,
		Model:        string(s.defaults.Model),
		MaxWords:     s.defaults.Chunk.MaxWords,
		GapThreshold: s.defaults.Chunk.GapThreshold,
		Style:        s.defaults.Style,
	}
	if err := c.Bind(&req); err != nil {
		return err
	}

	return s.submit(c, jobs.Request{
		Kind:       jobs.KindTranscribe,
		SourcePath: req.VideoPath,
		SRTPath:    req.SRTPath,
		OutputPath: req.OutputPath,
		Engine:     req.Engine,
		Model:      transcribe.ModelSize(req.Model),
		Chunk:      subtitle.ChunkOptions{MaxWords: req.MaxWords, GapThreshold: req.GapThreshold},
		Burn:       req.Burn,
		Style:      req.Style,
	})
}

func (s *Server) submitBurn(c echo.Context) error {
	req := burnRequest{Style: s.defaults.Style}
	if err := c.Bind(&req); err != nil {
		return err
	}

	return s.submit(c, jobs.Request{
		Kind:       jobs.KindBurn,
		SourcePath: req.VideoPath,
		SRTPath:    req.SRTPath,
		OutputPath: req.OutputPath,
		Style:      req.Style,
	})
}

func (s *Server) submit(c echo.Context, req jobs.Request) error {
	job, err := s.manager.Submit(req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, submitResponse{
		ID:        job.ID,
		State:     string(job.State()),
		Events:    "/jobs/" + job.ID + "/events",
		WebSocket: "/jobs/" + job.ID + "/ws",
	})
}

func (s *Server) listJobs(c echo.Context) error {
	all := s.manager.Jobs()
	snapshots := make([]jobs.Snapshot, 0, len(all))
	for _, job := range all {
		snapshots = append(snapshots, job.Snapshot())
	}
	return c.JSON(http.StatusOK, snapshots)
}

func (s *Server) getJob(c echo.Context) error {
	job, err := s.manager.Get(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job.Snapshot())
}

func (s *Server) cancelJob(c echo.Context) error {
	job, err := s.manager.Get(c.Param("id"))
	if err != nil {
		return err
	}
	job.Cancel()
	return c.JSON(http.StatusAccepted, job.Snapshot())
}

func loadSRT(c echo.Context) error {
	doc, err := subtitle.Load(c.QueryParam("path"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, doc)
}

func saveSRT(c echo.Context) error {
	var req saveRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	doc, err := subtitle.Save(req.Path, req.Content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, saveResponse{Success: true, Path: doc.Path, Cues: doc.Cues})
}
