package pipeline_test

import (
	"context"
	"io"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-compta-client/auth"
	"github.com/jrsteele09/go-compta-client/factures"
	"github.com/jrsteele09/go-compta-client/pipeline"
	"github.com/jrsteele09/go-compta-client/remote"
	"github.com/jrsteele09/go-compta-client/remote/remotefake"
	storerepofakes "github.com/jrsteele09/go-compta-client/store/repofakes"
	"github.com/jrsteele09/go-compta-client/token"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeScope struct {
	scoped  atomic.Bool
	epoch   atomic.Uint64
	societe int64
}

func newScope() *fakeScope {
	s := &fakeScope{societe: 10}
	s.scoped.Store(true)
	return s
}

func (s *fakeScope) IsAgentScoped() bool { return s.scoped.Load() }
func (s *fakeScope) Epoch() uint64       { return s.epoch.Load() }

func (s *fakeScope) CurrentContext() (*token.Payload, error) {
	if !s.scoped.Load() {
		return nil, auth.ErrNotScoped
	}
	return &token.Payload{AgentID: 1, CabinetID: 1, SocieteID: s.societe, Username: "karim"}, nil
}

// fakeStages records calls and fails or blocks on demand.
type fakeStages struct {
	lock        sync.Mutex
	calls       map[pipeline.Stage]int
	nextID      int64
	fail        map[pipeline.Stage]error
	failUpload  map[string]error
	block       map[pipeline.Stage]chan struct{}
	inflight    int
	maxInflight int
}

func newFakeStages() *fakeStages {
	return &fakeStages{
		calls:      make(map[pipeline.Stage]int),
		nextID:     42,
		fail:       make(map[pipeline.Stage]error),
		failUpload: make(map[string]error),
		block:      make(map[pipeline.Stage]chan struct{}),
	}
}

func (f *fakeStages) enter(stage pipeline.Stage) (chan struct{}, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.calls[stage]++
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	return f.block[stage], f.fail[stage]
}

func (f *fakeStages) leave() {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.inflight--
}

func (f *fakeStages) count(stage pipeline.Stage) int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.calls[stage]
}

func (f *fakeStages) Upload(_ context.Context, filename string, content io.Reader) (*factures.UploadResult, error) {
	block, err := f.enter(pipeline.StageUpload)
	defer f.leave()
	if block != nil {
		<-block
	}
	if _, rerr := io.ReadAll(content); rerr != nil {
		return nil, rerr
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	if uerr := f.failUpload[filename]; uerr != nil {
		return nil, uerr
	}
	if err != nil {
		return nil, err
	}
	id := f.nextID
	f.nextID++
	return &factures.UploadResult{ID: id, Status: factures.StatusImported}, nil
}

func (f *fakeStages) stage(stage pipeline.Stage, id int64) (*factures.StageResult, error) {
	block, err := f.enter(stage)
	defer f.leave()
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return &factures.StageResult{ID: id, Status: stage.Produces()}, nil
}

func (f *fakeStages) Extract(_ context.Context, id int64) (*factures.StageResult, error) {
	return f.stage(pipeline.StageExtract, id)
}

func (f *fakeStages) Classify(_ context.Context, id int64) (*factures.StageResult, error) {
	return f.stage(pipeline.StageClassify, id)
}

func (f *fakeStages) GenerateEntries(_ context.Context, id int64) (*factures.StageResult, error) {
	return f.stage(pipeline.StageGenerate, id)
}

func newOrchestrator(t *testing.T, stages pipeline.StageClient, scope pipeline.Scope, options ...pipeline.Option) *pipeline.Orchestrator {
	t.Helper()
	o, err := pipeline.NewOrchestrator(stages, scope, options...)
	require.NoError(t, err)
	return o
}

func doc() pipeline.Document {
	return pipeline.BytesDocument("facture.pdf", []byte("%PDF-1.4"))
}

func TestRun_AllStages(t *testing.T) {
	stages := newFakeStages()
	var messages []string
	o := newOrchestrator(t, stages, newScope(), pipeline.WithProgress(func(_ *pipeline.Run, _ pipeline.Stage, msg string) {
		messages = append(messages, msg)
	}))

	run, err := o.Run(context.Background(), doc())
	require.NoError(t, err)
	require.True(t, run.Done())
	require.Equal(t, int64(42), run.FactureID)
	require.Equal(t, factures.StatusDraft, run.Status)
	require.Equal(t, int64(10), run.SocieteID)
	require.NotEmpty(t, run.ID)
	require.Len(t, messages, 4)
	require.Equal(t, messages, run.Progress)
	require.Equal(t, "Facture 42: Brouillon", messages[3])
	for _, s := range pipeline.Stages {
		require.Equal(t, 1, stages.count(s), s)
	}
	require.False(t, o.Locks().Running(42))
}

func TestRun_ExtractTimeoutHaltsRun(t *testing.T) {
	stages := newFakeStages()
	stages.fail[pipeline.StageExtract] = &remote.Error{
		Operation: "extract",
		Message:   "the server took too long to respond",
		Code:      remote.CodeTimeout,
		Kind:      remote.KindTransport,
	}
	o := newOrchestrator(t, stages, newScope())

	run, err := o.Run(context.Background(), doc())

	var stageErr *pipeline.StageError
	require.True(t, errors.As(err, &stageErr))
	require.Equal(t, pipeline.StageExtract, stageErr.Stage)
	require.Equal(t, int64(42), stageErr.FactureID)
	require.True(t, remote.IsTimeout(err))

	require.Equal(t, int64(42), run.FactureID)
	require.Equal(t, factures.StatusImported, run.Status)
	next, ok := run.NextStage()
	require.True(t, ok)
	require.Equal(t, pipeline.StageExtract, next)

	require.Equal(t, 1, stages.count(pipeline.StageUpload))
	require.Equal(t, 1, stages.count(pipeline.StageExtract))
	require.Zero(t, stages.count(pipeline.StageClassify))
	require.Zero(t, stages.count(pipeline.StageGenerate))
}

func TestRun_FailureStopsLaterStages(t *testing.T) {
	for k, failing := range pipeline.Stages {
		t.Run(string(failing), func(t *testing.T) {
			stages := newFakeStages()
			stages.fail[failing] = errors.New("Erreur serveur")
			o := newOrchestrator(t, stages, newScope())

			run, err := o.Run(context.Background(), doc())
			var stageErr *pipeline.StageError
			require.True(t, errors.As(err, &stageErr))
			require.Equal(t, failing, stageErr.Stage)
			require.Equal(t, k, run.Next)

			for i, s := range pipeline.Stages {
				want := 0
				if i <= k {
					want = 1
				}
				require.Equal(t, want, stages.count(s), s)
			}
		})
	}
}

func TestRun_BackendReportsError(t *testing.T) {
	stages := &erroringStages{fakeStages: newFakeStages()}
	o := newOrchestrator(t, stages, newScope())

	_, err := o.Run(context.Background(), doc())
	var stageErr *pipeline.StageError
	require.True(t, errors.As(err, &stageErr))
	require.Equal(t, pipeline.StageClassify, stageErr.Stage)
	require.Zero(t, stages.count(pipeline.StageGenerate))
}

// erroringStages answers classify with an ERROR status instead of a failure.
type erroringStages struct {
	*fakeStages
}

func (e *erroringStages) Classify(_ context.Context, id int64) (*factures.StageResult, error) {
	_, _ = e.enter(pipeline.StageClassify)
	defer e.leave()
	return &factures.StageResult{ID: id, Status: factures.StatusError}, nil
}

func TestRun_RequiresScope(t *testing.T) {
	scope := newScope()
	scope.scoped.Store(false)
	stages := newFakeStages()
	o := newOrchestrator(t, stages, scope)

	_, err := o.Run(context.Background(), doc())
	require.True(t, errors.Is(err, pipeline.ErrNotScoped))
	require.Zero(t, stages.count(pipeline.StageUpload))
}

func TestRun_TenantSwitchInvalidatesRun(t *testing.T) {
	scope := newScope()
	stages := newFakeStages()
	o := newOrchestrator(t, stages, scope, pipeline.WithProgress(func(_ *pipeline.Run, stage pipeline.Stage, _ string) {
		if stage == pipeline.StageUpload {
			scope.epoch.Add(1)
		}
	}))

	run, err := o.Run(context.Background(), doc())
	require.True(t, errors.Is(err, pipeline.ErrContextInvalidated))
	require.Equal(t, factures.StatusImported, run.Status)
	require.Zero(t, stages.count(pipeline.StageExtract))
}

func TestRun_CancelBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stages := newFakeStages()
	o := newOrchestrator(t, stages, newScope(), pipeline.WithProgress(func(_ *pipeline.Run, stage pipeline.Stage, _ string) {
		if stage == pipeline.StageExtract {
			cancel()
		}
	}))

	run, err := o.Run(ctx, doc())
	require.True(t, errors.Is(err, context.Canceled))
	require.Equal(t, factures.StatusExtracted, run.Status)
	require.Zero(t, stages.count(pipeline.StageClassify))
}

func TestResume(t *testing.T) {
	t.Run("continues after the confirmed status", func(t *testing.T) {
		stages := newFakeStages()
		o := newOrchestrator(t, stages, newScope())

		run, err := o.Resume(context.Background(), 42, factures.StatusExtracted)
		require.NoError(t, err)
		require.True(t, run.Done())
		require.Equal(t, factures.StatusDraft, run.Status)
		require.Len(t, run.Progress, 2)
		require.Zero(t, stages.count(pipeline.StageUpload))
		require.Zero(t, stages.count(pipeline.StageExtract))
		require.Equal(t, 1, stages.count(pipeline.StageClassify))
		require.Equal(t, 1, stages.count(pipeline.StageGenerate))
	})

	t.Run("nothing left to run", func(t *testing.T) {
		o := newOrchestrator(t, newFakeStages(), newScope())
		for _, st := range []factures.Status{factures.StatusDraft, factures.StatusValidated, factures.StatusError} {
			_, err := o.Resume(context.Background(), 42, st)
			require.True(t, errors.Is(err, pipeline.ErrNothingToRun), st)
		}
	})
}

func TestRunStage(t *testing.T) {
	stages := newFakeStages()
	o := newOrchestrator(t, stages, newScope())

	run, err := o.RunStage(context.Background(), 42, pipeline.StageClassify)
	require.NoError(t, err)
	require.Equal(t, factures.StatusClassified, run.Status)
	require.Equal(t, 1, stages.count(pipeline.StageClassify))
	require.Zero(t, stages.count(pipeline.StageGenerate))

	stages.fail[pipeline.StageGenerate] = errors.New("Service indisponible")
	run, err = o.RunStage(context.Background(), 42, pipeline.StageGenerate)
	require.Error(t, err)
	require.Empty(t, run.Status, "no status was confirmed")
	require.Equal(t, pipeline.StageGenerate.Index(), run.Next)

	_, err = o.RunStage(context.Background(), 42, pipeline.StageUpload)
	require.True(t, errors.Is(err, pipeline.ErrInvalidStage))
	_, err = o.RunStage(context.Background(), 42, pipeline.Stage("archive"))
	require.True(t, errors.Is(err, pipeline.ErrInvalidStage))
}

func TestStageAfter(t *testing.T) {
	tests := []struct {
		status factures.Status
		want   pipeline.Stage
		ok     bool
	}{
		{factures.StatusImported, pipeline.StageExtract, true},
		{factures.StatusExtracted, pipeline.StageClassify, true},
		{factures.StatusClassified, pipeline.StageGenerate, true},
		{factures.StatusDraft, "", false},
		{factures.StatusError, "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := pipeline.StageAfter(tt.status)
		require.Equal(t, tt.ok, ok, tt.status)
		require.Equal(t, tt.want, got, tt.status)
	}
}

func TestLocks(t *testing.T) {
	t.Run("same facture fails fast", func(t *testing.T) {
		stages := newFakeStages()
		gate := make(chan struct{})
		stages.block[pipeline.StageExtract] = gate
		o := newOrchestrator(t, stages, newScope())

		done := make(chan error, 1)
		go func() {
			_, err := o.Resume(context.Background(), 42, factures.StatusImported)
			done <- err
		}()
		require.Eventually(t, func() bool { return stages.count(pipeline.StageExtract) == 1 }, time.Second, 5*time.Millisecond)
		require.True(t, o.Locks().Running(42))

		_, err := o.Resume(context.Background(), 42, factures.StatusImported)
		require.True(t, errors.Is(err, pipeline.ErrRunInProgress))
		require.EqualError(t, err, "facture 42: "+pipeline.ErrRunInProgress.Error())

		// Another facture is independent.
		_, err = o.RunStage(context.Background(), 43, pipeline.StageClassify)
		require.NoError(t, err)

		close(gate)
		require.NoError(t, <-done)
		require.False(t, o.Locks().Running(42))
	})

	t.Run("release is idempotent", func(t *testing.T) {
		l := pipeline.NewLocks()
		release, err := l.Acquire(1, "a")
		require.NoError(t, err)
		release()
		release()

		release2, err := l.Acquire(1, "b")
		require.NoError(t, err)
		release()
		require.True(t, l.Running(1))
		release2()
		require.False(t, l.Running(1))
	})
}

func TestRunBatch(t *testing.T) {
	stages := newFakeStages()
	stages.failUpload["broken.pdf"] = errors.New("Format non supporté")
	o := newOrchestrator(t, stages, newScope())

	docs := []pipeline.Document{
		pipeline.BytesDocument("a.pdf", []byte("a")),
		pipeline.BytesDocument("broken.pdf", []byte("b")),
		pipeline.BytesDocument("c.pdf", []byte("c")),
		pipeline.BytesDocument("d.pdf", []byte("d")),
	}
	results := o.RunBatch(context.Background(), docs, 2)

	require.Len(t, results, 4)
	for i, res := range results {
		require.Equal(t, docs[i].Name, res.Document.Name)
		if res.Document.Name == "broken.pdf" {
			var stageErr *pipeline.StageError
			require.True(t, errors.As(res.Err, &stageErr))
			require.Equal(t, pipeline.StageUpload, stageErr.Stage)
			continue
		}
		require.NoError(t, res.Err)
		require.True(t, res.Run.Done())
	}
	require.Equal(t, 3, stages.count(pipeline.StageGenerate))
	require.LessOrEqual(t, stages.maxInflight, 2)
}

func TestRun_AgainstBackend(t *testing.T) {
	backend := remotefake.New()
	require.NoError(t, backend.Seed())
	srv := httptest.NewServer(backend)
	defer srv.Close()

	repo := storerepofakes.NewFakeStoreRepo()
	timeouts := remote.DefaultTimeouts()
	timeouts.Analysis = 50 * time.Millisecond
	client, err := remote.New(srv.URL, auth.NewCredentialSource(repo), remote.WithTimeouts(timeouts))
	require.NoError(t, err)
	manager, err := auth.NewManager(client, repo)
	require.NoError(t, err)

	ctx := context.Background()
	outcome, err := manager.Login(ctx, "solo", "demo")
	require.NoError(t, err)
	require.True(t, outcome.AutoSelected)

	o := newOrchestrator(t, client, manager)

	t.Run("extract timeout", func(t *testing.T) {
		backend.SetNextFactureID(42)
		backend.FailOn("extract", remotefake.Failure{Delay: time.Second})
		defer backend.ClearFailures()

		run, err := o.Run(ctx, doc())
		var stageErr *pipeline.StageError
		require.True(t, errors.As(err, &stageErr))
		require.Equal(t, pipeline.StageExtract, stageErr.Stage)
		require.Equal(t, int64(42), stageErr.FactureID)
		require.True(t, remote.IsTimeout(err))
		require.Equal(t, factures.StatusImported, run.Status)

		require.Equal(t, 1, backend.Calls("upload"))
		require.Equal(t, 1, backend.Calls("extract"))
		require.Zero(t, backend.Calls("classify"))
		require.Zero(t, backend.Calls("generate-entries"))

		f, ok := backend.Facture(42)
		require.True(t, ok)
		require.Equal(t, factures.StatusImported, f.Status)
	})

	t.Run("resume after the failure", func(t *testing.T) {
		run, err := o.Resume(ctx, 42, factures.StatusImported)
		require.NoError(t, err)
		require.Equal(t, factures.StatusDraft, run.Status)

		entries, err := client.Entries(ctx, 42)
		require.NoError(t, err)
		require.True(t, entries[0].IsBalanced())
	})

	t.Run("rejected stage keeps the backend message", func(t *testing.T) {
		backend.FailOn("classify", remotefake.Failure{Status: 500, Detail: "Service de classification indisponible"})
		defer backend.ClearFailures()

		_, err := o.Run(ctx, doc())
		var stageErr *pipeline.StageError
		require.True(t, errors.As(err, &stageErr))
		require.Equal(t, pipeline.StageClassify, stageErr.Stage)
		require.EqualError(t, stageErr.Err, "Service de classification indisponible")
	})
}
