package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunStage is the coarse state of a pipeline run.
type RunStage string

// Run stages. Completed, Failed and Cancelled are terminal.
const (
	RunPending    RunStage = "pending"
	RunAnalyzing  RunStage = "analyzing"
	RunSegmenting RunStage = "segmenting"
	RunGenerating RunStage = "generating"
	RunFiltering  RunStage = "filtering"
	RunCompleted  RunStage = "completed"
	RunFailed     RunStage = "failed"
	RunCancelled  RunStage = "cancelled"
)

// Terminal reports whether the stage ends the run.
func (s RunStage) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// PipelineRun is the mutable state of one run. It is owned by the
// orchestrator goroutine that executes the run.
type PipelineRun struct {
	ID         uuid.UUID
	Request    GenerationRequest
	Stage      RunStage
	Progress   int
	Candidates []CardCandidate
	StartedAt  time.Time
}

// NewPipelineRun creates a pending run for req.
func NewPipelineRun(req GenerationRequest) *PipelineRun {
	return &PipelineRun{
		ID:        uuid.New(),
		Request:   req,
		Stage:     RunPending,
		StartedAt: time.Now().UTC(),
	}
}

// Advance moves the run to stage and raises progress. Progress never
// decreases and is clamped to [0,100]; a terminal run is left unchanged.
// Returns false when the run was already terminal.
func (r *PipelineRun) Advance(stage RunStage, progress int) bool {
	if r.Stage.Terminal() {
		return false
	}
	r.Stage = stage
	if progress > 100 {
		progress = 100
	}
	if progress > r.Progress {
		r.Progress = progress
	}
	return true
}
