// Package pipeline drives a facture through the remote stages upload,
// extract, classify and generate-entries.
//
// A run is an explicit state record: the next stage to execute and the last
// status the backend confirmed. Stages run strictly in order with no retry
// and no rollback; a failed run can be resumed from its last confirmed status.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-compta-client/factures"
	ierrors "github.com/jrsteele09/go-compta-client/internal/errors"
	"github.com/jrsteele09/go-compta-client/internal/metrics"
	"github.com/jrsteele09/go-compta-client/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotScoped          = ierrors.ErrNotScoped
	ErrContextInvalidated = ierrors.ErrContextInvalidated
	ErrNothingToRun       = errors.New("facture is already past the pipeline")
	ErrInvalidStage       = errors.New("stage cannot be run on its own")
)

// StageClient is the remote side of the stages.
type StageClient interface {
	Upload(ctx context.Context, filename string, content io.Reader) (*factures.UploadResult, error)
	Extract(ctx context.Context, id int64) (*factures.StageResult, error)
	Classify(ctx context.Context, id int64) (*factures.StageResult, error)
	GenerateEntries(ctx context.Context, id int64) (*factures.StageResult, error)
}

// Scope reports the tenant context runs are bound to.
type Scope interface {
	IsAgentScoped() bool
	CurrentContext() (*token.Payload, error)
	Epoch() uint64
}

// ProgressFunc receives one message per completed stage.
type ProgressFunc func(run *Run, stage Stage, message string)

// Run is the state of one pipeline run.
type Run struct {
	ID        string
	FactureID int64
	// Next is the index in Stages of the next stage to execute.
	Next int
	// Status is the last status confirmed by the backend.
	Status     factures.Status
	SocieteID  int64
	Epoch      uint64
	Progress   []string
	StartedAt  time.Time
	FinishedAt time.Time
}

// NextStage returns the stage the run would execute next.
func (r *Run) NextStage() (Stage, bool) {
	if r.Next < 0 || r.Next >= len(Stages) {
		return "", false
	}
	return Stages[r.Next], true
}

// Done reports whether every stage has completed.
func (r *Run) Done() bool {
	return r.Next >= len(Stages)
}

type Orchestrator struct {
	client   StageClient
	scope    Scope
	locks    *Locks
	progress ProgressFunc
	nowFunc  func() time.Time
}

type Option func(*Orchestrator)

func WithProgress(fn ProgressFunc) Option {
	return func(o *Orchestrator) {
		o.progress = fn
	}
}

// WithLocks shares per-facture locks between orchestrators.
func WithLocks(l *Locks) Option {
	return func(o *Orchestrator) {
		o.locks = l
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.nowFunc = now
	}
}

func NewOrchestrator(client StageClient, scope Scope, options ...Option) (*Orchestrator, error) {
	if client == nil {
		return nil, errors.New("[NewOrchestrator] stage client is required")
	}
	if scope == nil {
		return nil, errors.New("[NewOrchestrator] scope is required")
	}
	o := &Orchestrator{
		client:  client,
		scope:   scope,
		locks:   NewLocks(),
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(o)
	}
	return o, nil
}

// Locks returns the per-facture locks used by the orchestrator.
func (o *Orchestrator) Locks() *Locks {
	return o.locks
}

func (o *Orchestrator) newRun(next int, factureID int64, status factures.Status) (*Run, error) {
	if !o.scope.IsAgentScoped() {
		return nil, ErrNotScoped
	}
	// Read the epoch before the context so that a switch in between is caught
	// by the first stage check rather than missed.
	epoch := o.scope.Epoch()
	payload, err := o.scope.CurrentContext()
	if err != nil {
		return nil, errors.Wrap(ErrNotScoped, err.Error())
	}
	return &Run{
		ID:        uuid.NewString(),
		FactureID: factureID,
		Next:      next,
		Status:    status,
		SocieteID: payload.SocieteID,
		Epoch:     epoch,
		StartedAt: o.nowFunc(),
	}, nil
}

// Run uploads the document and runs every stage in order. On failure the
// returned run records how far it got and the error is a *StageError.
func (o *Orchestrator) Run(ctx context.Context, doc Document) (*Run, error) {
	if doc.Open == nil {
		return nil, errors.New("[Orchestrator.Run] document has no content")
	}
	run, err := o.newRun(0, 0, "")
	if err != nil {
		return nil, err
	}
	var release func()
	defer func() {
		if release != nil {
			release()
		}
	}()

	if err := o.step(ctx, run, func(ctx context.Context) (factures.Status, error) {
		content, err := doc.Open()
		if err != nil {
			return "", errors.Wrapf(err, "open %s", doc.Name)
		}
		defer content.Close()
		res, err := o.client.Upload(ctx, doc.Name, content)
		if err != nil {
			return "", err
		}
		run.FactureID = res.ID
		release, err = o.locks.Acquire(res.ID, run.ID)
		if err != nil {
			return "", err
		}
		return res.Status, nil
	}); err != nil {
		return run, err
	}
	return run, o.advance(ctx, run)
}

// Resume continues a facture from the stage after its confirmed status.
func (o *Orchestrator) Resume(ctx context.Context, factureID int64, status factures.Status) (*Run, error) {
	stage, ok := StageAfter(status)
	if !ok {
		return nil, errors.Wrapf(ErrNothingToRun, "facture %d is %s", factureID, status)
	}
	run, err := o.newRun(stage.Index(), factureID, status)
	if err != nil {
		return nil, err
	}
	release, err := o.locks.Acquire(factureID, run.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	return run, o.advance(ctx, run)
}

// RunStage re-invokes one stage for an existing facture. Upload cannot be
// re-invoked this way since it creates the facture.
func (o *Orchestrator) RunStage(ctx context.Context, factureID int64, stage Stage) (*Run, error) {
	idx := stage.Index()
	if idx <= 0 {
		return nil, errors.Wrapf(ErrInvalidStage, "%q", stage)
	}
	// The status stays empty until the stage is confirmed by the backend.
	run, err := o.newRun(idx, factureID, "")
	if err != nil {
		return nil, err
	}
	release, err := o.locks.Acquire(factureID, run.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	err = o.step(ctx, run, o.remoteStage(stage, factureID))
	run.FinishedAt = o.nowFunc()
	return run, err
}

func (o *Orchestrator) advance(ctx context.Context, run *Run) error {
	for !run.Done() {
		stage, _ := run.NextStage()
		if err := o.step(ctx, run, o.remoteStage(stage, run.FactureID)); err != nil {
			return err
		}
	}
	run.FinishedAt = o.nowFunc()
	log.Info().Str("run_id", run.ID).Int64("facture_id", run.FactureID).Str("status", string(run.Status)).Msg("pipeline complete")
	return nil
}

func (o *Orchestrator) remoteStage(stage Stage, factureID int64) func(context.Context) (factures.Status, error) {
	call := map[Stage]func(context.Context, int64) (*factures.StageResult, error){
		StageExtract:  o.client.Extract,
		StageClassify: o.client.Classify,
		StageGenerate: o.client.GenerateEntries,
	}[stage]
	return func(ctx context.Context) (factures.Status, error) {
		res, err := call(ctx, factureID)
		if err != nil {
			return "", err
		}
		return res.Status, nil
	}
}

// step runs the next stage of the run. Cancellation and tenant switches are
// checked here, before the stage starts. ctx is still passed to the remote
// call, so cancelling it also aborts the request in flight.
func (o *Orchestrator) step(ctx context.Context, run *Run, exec func(context.Context) (factures.Status, error)) error {
	stage, ok := run.NextStage()
	if !ok {
		return nil
	}
	logger := log.With().Str("run_id", run.ID).Str("stage", string(stage)).Int64("facture_id", run.FactureID).Logger()

	if err := ctx.Err(); err != nil {
		logger.Info().Msg("run cancelled before stage")
		return err
	}
	if o.scope.Epoch() != run.Epoch {
		logger.Warn().Int64("societe_id", run.SocieteID).Msg("tenant context changed, stopping run")
		metrics.PipelineStages.WithLabelValues(string(stage), "invalidated").Inc()
		return ErrContextInvalidated
	}

	status, err := exec(ctx)
	if err == nil && status == factures.StatusError {
		err = errors.New("the backend marked the facture as failed")
	}
	if err != nil {
		metrics.PipelineStages.WithLabelValues(string(stage), "failed").Inc()
		logger.Warn().Err(err).Msg("stage failed")
		if errors.Is(err, ErrRunInProgress) {
			return err
		}
		return &StageError{Stage: stage, FactureID: run.FactureID, Err: err}
	}

	if status == "" {
		status = stage.Produces()
	}
	run.Status = status
	run.Next++
	metrics.PipelineStages.WithLabelValues(string(stage), "ok").Inc()

	msg := fmt.Sprintf("Facture %d: %s", run.FactureID, factures.Describe(status).Label)
	run.Progress = append(run.Progress, msg)
	logger.Info().Str("status", string(status)).Msg("stage complete")
	if o.progress != nil {
		o.progress(run, stage, msg)
	}
	return nil
}
