package checkpoint

import (
	"sync"

	"github.com/aerodb/aerodb/internal/execlock"
	"github.com/aerodb/aerodb/pkg/fs"
	"github.com/aerodb/aerodb/pkg/mvcc"
	"github.com/aerodb/aerodb/pkg/snapshot"
)

// PipelineStep names a step within Phase A or B, for observability only.
type PipelineStep int

const (
	StepCommitIDSelection PipelineStep = iota
	StepVisibilityFreeze
	StepEnumeration
	StepTentativeWrite
	StepSnapshotFsync
	StepMarkerWrite
	StepMarkerFsync
	StepWALTruncate
)

// PipelineStatus is the disableable Checkpoint Pipelining state machine
// (§4.5 optimization): Idle -> PhaseA -> Transitioning -> PhaseB ->
// Complete | Aborted.
type PipelineStatus int

const (
	PipelineIdle PipelineStatus = iota
	PipelinePhaseA
	PipelineTransitioning
	PipelinePhaseB
	PipelineComplete
	PipelineAborted
)

// PipelineState is the coordinator's current pipelining state, exposed for
// tests/observability. Phase A is restart-discardable: no read or write may
// observe its artifacts as authoritative, and a crash during Phase A must
// leave no checkpoint in existence. Phase B preserves baseline ordering
// exactly (fsync WAL -> snapshot fsync -> marker -> marker fsync -> WAL
// truncate -> marker fsync).
type PipelineState struct {
	Status   PipelineStatus
	Step     PipelineStep
	CommitID mvcc.CommitID
}

// Pipeline wraps Coordinator with the Phase A/B split. Construct one per
// checkpoint attempt; it is not reusable across attempts.
type Pipeline struct {
	mu    sync.Mutex
	state PipelineState
	coord *Coordinator
}

// NewPipeline returns a pipeline bound to coord, starting Idle.
func NewPipeline(coord *Coordinator) *Pipeline {
	return &Pipeline{coord: coord}
}

// State returns a snapshot of the current pipeline state.
func (p *Pipeline) State() PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

func (p *Pipeline) setState(status PipelineStatus, step PipelineStep) {
	p.mu.Lock()
	p.state.Status = status
	p.state.Step = step
	p.mu.Unlock()
}

// RunPhaseA performs the pipeline-eligible, restart-discardable work: commit
// id selection, visibility freeze, enumeration. It does not touch WAL or
// write any durable checkpoint artifact. May overlap normal operation.
func (p *Pipeline) RunPhaseA(authority *mvcc.Authority) {
	p.setState(PipelinePhaseA, StepCommitIDSelection)

	commitID := authority.HighestCommitID()

	p.mu.Lock()
	p.state.CommitID = commitID
	p.mu.Unlock()

	p.setState(PipelinePhaseA, StepVisibilityFreeze)
	p.setState(PipelinePhaseA, StepEnumeration)
}

// Abort discards all Phase-A state; no checkpoint exists afterward. Safe to
// call at any point before RunPhaseB starts.
func (p *Pipeline) Abort() {
	p.setState(PipelineAborted, p.State().Step)
}

// RunPhaseB performs the strictly-ordered authoritative work via the
// baseline Coordinator, then marks the pipeline Complete. This is exactly
// Coordinator.Create; pipelining never changes Phase B's ordering.
func (p *Pipeline) RunPhaseB(
	token *execlock.Token,
	dataDir, storagePath, schemaDir string,
	w WAL,
	opts snapshot.Options,
	_ fs.FS,
) (string, error) {
	p.setState(PipelineTransitioning, StepSnapshotFsync)
	p.setState(PipelinePhaseB, StepSnapshotFsync)

	id, err := p.coord.Create(token, dataDir, storagePath, schemaDir, w, opts)
	if err != nil {
		p.setState(PipelineAborted, StepMarkerWrite)

		return "", err
	}

	p.setState(PipelineComplete, StepWALTruncate)

	return id, nil
}
