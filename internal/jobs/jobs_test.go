package jobs

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/soc-core/internal/domain/model"
	"github.com/target/soc-core/internal/ecs"
	"github.com/target/soc-core/internal/parsers"
	"github.com/target/soc-core/internal/search/memsearch"
)

type stubFetcher struct {
	bodies map[string]string
}

func (f *stubFetcher) Fetch(_ context.Context, sourceURI string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.bodies[sourceURI])), nil
}

type lineParser struct{}

func (lineParser) Metadata() model.ParserMetadata {
	return model.ParserMetadata{Name: "lines", Category: model.ParserCategoryGeneric, SupportedExtensions: []string{".log"}}
}

func (lineParser) CanParse(fileName string, _ []byte) bool {
	return strings.HasSuffix(fileName, ".log")
}

func (lineParser) Parse(_ context.Context, r io.Reader, sourceName string) iter.Seq2[*model.ParsedEvent, error] {
	return func(yield func(*model.ParsedEvent, error) bool) {
		data, err := io.ReadAll(r)
		if err != nil {
			yield(nil, err)
			return
		}
		for i, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
			ev := &model.ParsedEvent{
				Timestamp:  time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
				Message:    line,
				SourceFile: sourceName,
				SourceLine: i + 1,
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func TestParseEvidenceHandler_ParsesAndIndexes(t *testing.T) {
	registry := parsers.NewRegistry()
	registry.Register(lineParser{})

	store := memsearch.New()
	handler := &ParseEvidenceHandler{
		Fetcher:    &stubFetcher{bodies: map[string]string{"s3://bucket/auth.log": "login failed\nlogin ok\n"}},
		Registry:   registry,
		Normalizer: ecs.NewNormalizer(),
		Search:     store,
	}

	payload, err := json.Marshal(ParseEvidencePayload{SourceURI: "s3://bucket/auth.log"})
	require.NoError(t, err)
	job := &model.ParsingJob{ID: "job-1", Type: model.JobTypeParseEvidence, Payload: payload}

	require.NoError(t, handler.Handle(context.Background(), job))
	assert.Equal(t, 2, job.EventsParsed)

	count, err := store.Count(context.Background(), defaultEventsIndex, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestParseEvidenceHandler_NoMatchingParser(t *testing.T) {
	registry := parsers.NewRegistry()
	handler := &ParseEvidenceHandler{
		Fetcher:    &stubFetcher{bodies: map[string]string{"s3://bucket/weird.bin": "???"}},
		Registry:   registry,
		Normalizer: ecs.NewNormalizer(),
	}

	payload, _ := json.Marshal(ParseEvidencePayload{SourceURI: "s3://bucket/weird.bin"})
	job := &model.ParsingJob{ID: "job-2", Type: model.JobTypeParseEvidence, Payload: payload}

	err := handler.Handle(context.Background(), job)
	assert.Error(t, err)
}

func TestInMemoryRepository_LeaseAndComplete(t *testing.T) {
	repo := NewInMemoryRepository(nil)
	ctx := context.Background()

	job, err := repo.Create(ctx, &model.CreateJobRequest{
		Type:       model.JobTypeParseEvidence,
		Payload:    json.RawMessage(`{"source_uri":"s3://bucket/a.log"}`),
		SourceURI:  "s3://bucket/a.log",
		MaxRetries: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobPriorityDefault, job.Priority)

	reserved, err := repo.ReserveNext(ctx, model.JobTypeParseEvidence, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, job.ID, reserved.ID)
	assert.Equal(t, model.JobStatusRunning, reserved.Status)

	_, err = repo.ReserveNext(ctx, model.JobTypeParseEvidence, time.Minute)
	assert.ErrorIs(t, err, model.ErrNoJobsAvailable)

	ok, err := repo.Complete(ctx, job.ID, 7)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 7, got.EventsParsed)
}

func TestInMemoryRepository_FailRetriesThenTerminates(t *testing.T) {
	repo := NewInMemoryRepository(nil)
	ctx := context.Background()

	job, err := repo.Create(ctx, &model.CreateJobRequest{
		Type:       model.JobTypeParseEvidence,
		Payload:    json.RawMessage(`{}`),
		MaxRetries: 1,
	})
	require.NoError(t, err)

	_, err = repo.ReserveNext(ctx, model.JobTypeParseEvidence, time.Minute)
	require.NoError(t, err)
	ok, err := repo.Fail(ctx, job.ID, "boom")
	require.NoError(t, err)
	assert.True(t, ok)

	got, _ := repo.GetByID(ctx, job.ID)
	assert.Equal(t, model.JobStatusQueued, got.Status, "first failure should retry, not terminate")

	_, err = repo.ReserveNext(ctx, model.JobTypeParseEvidence, time.Minute)
	require.NoError(t, err)
	ok, err = repo.Fail(ctx, job.ID, "boom again")
	require.NoError(t, err)
	assert.True(t, ok)

	got, _ = repo.GetByID(ctx, job.ID)
	assert.Equal(t, model.JobStatusFailed, got.Status, "retries exhausted should terminate the job")
}

func TestRunner_ProcessesQueuedJobUntilContextCanceled(t *testing.T) {
	repo := NewInMemoryRepository(nil)
	ctx := context.Background()

	_, err := repo.Create(ctx, &model.CreateJobRequest{
		Type:    model.JobTypeIndexEvents,
		Payload: json.RawMessage(`{"index":"ecs-events","documents":[]}`),
	})
	require.NoError(t, err)

	processed := make(chan struct{}, 1)
	handler := func(_ context.Context, job *model.ParsingJob) error {
		job.EventsParsed = 0
		processed <- struct{}{}
		return nil
	}

	runner, err := NewRunner(RunnerOptions{Repo: repo, JobType: model.JobTypeIndexEvents, Handler: handler})
	require.NoError(t, err)

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- runner.Run(runCtx) }()

	select {
	case <-processed:
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}
	<-done
}
