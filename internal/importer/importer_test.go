package importer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/lumidoc/lumi/internal/docstore"
	"github.com/lumidoc/lumi/internal/lumidoc"
	"github.com/lumidoc/lumi/internal/status"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type statusCall struct {
	st     lumidoc.LoadingStatus
	errMsg string
}

type fakeRecorder struct {
	mu       sync.Mutex
	merges   []docstore.Fields
	statuses []statusCall
	record   *docstore.Record
	mergeErr error
}

func (f *fakeRecorder) CreateOrMerge(ctx context.Context, key string, fields docstore.Fields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mergeErr != nil {
		return f.mergeErr
	}
	f.merges = append(f.merges, fields)
	return nil
}

func (f *fakeRecorder) SetStatus(ctx context.Context, key string, st lumidoc.LoadingStatus, loadErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, statusCall{st: st, errMsg: loadErr})
	return nil
}

func (f *fakeRecorder) GetRecord(ctx context.Context, key string) (*docstore.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record, nil
}

type fakeConverter struct {
	fn func(ctx context.Context, job Job, concepts []lumidoc.Concept) (*lumidoc.LumiDoc, error)

	mu       sync.Mutex
	concepts []lumidoc.Concept
}

func (f *fakeConverter) Convert(ctx context.Context, job Job, concepts []lumidoc.Concept) (*lumidoc.LumiDoc, error) {
	f.mu.Lock()
	f.concepts = concepts
	f.mu.Unlock()
	return f.fn(ctx, job, concepts)
}

type fakeSummarizer struct {
	sums *lumidoc.Summaries
	err  error
}

func (f *fakeSummarizer) Generate(ctx context.Context, doc *lumidoc.LumiDoc) (*lumidoc.Summaries, error) {
	return f.sums, f.err
}

type fakeConcepts struct {
	out []lumidoc.Concept
}

func (f *fakeConcepts) Extract(ctx context.Context, abstract string) []lumidoc.Concept {
	return f.out
}

func okConverter() *fakeConverter {
	return &fakeConverter{fn: func(ctx context.Context, job Job, concepts []lumidoc.Concept) (*lumidoc.LumiDoc, error) {
		return &lumidoc.LumiDoc{Sections: []lumidoc.Section{{ID: "s1"}}}, nil
	}}
}

func newOrchestrator(rec *fakeRecorder, conv *fakeConverter, sum *fakeSummarizer, cons *fakeConcepts, timeout time.Duration) (*Orchestrator, *status.Publisher) {
	pub := status.NewPublisher(discardLogger())
	return New(rec, pub, cons, conv, sum, timeout, discardLogger()), pub
}

func testJob() Job {
	return Job{
		PaperID:  "2301.0001",
		Version:  "1",
		Metadata: lumidoc.Metadata{PaperID: "2301.0001", Version: "1", Title: "A Paper"},
	}
}

func drain(sub *status.Subscription) []status.Update {
	var out []status.Update
	for {
		select {
		case u := <-sub.Updates():
			out = append(out, u)
		default:
			return out
		}
	}
}

func TestRun_Success(t *testing.T) {
	rec := &fakeRecorder{}
	conv := okConverter()
	sum := &fakeSummarizer{sums: &lumidoc.Summaries{}}
	cons := &fakeConcepts{out: []lumidoc.Concept{{ID: "concept-0", Name: "x"}}}
	o, pub := newOrchestrator(rec, conv, sum, cons, time.Minute)

	job := testJob()
	sub := pub.Subscribe(job.Key())
	defer pub.Unsubscribe(sub)

	o.Run(context.Background(), job)

	if len(rec.merges) != 2 {
		t.Fatalf("got %d merges, want 2", len(rec.merges))
	}
	if got := rec.merges[0][docstore.FieldStatus]; got != string(lumidoc.StatusSummarizing) {
		t.Errorf("first merge status = %v", got)
	}
	if _, ok := rec.merges[0][docstore.FieldSections]; !ok {
		t.Error("first merge is missing sections")
	}
	if got := rec.merges[1][docstore.FieldStatus]; got != string(lumidoc.StatusSuccess) {
		t.Errorf("second merge status = %v", got)
	}
	if _, ok := rec.merges[1][docstore.FieldSummaries]; !ok {
		t.Error("second merge is missing summaries")
	}
	if len(rec.statuses) != 0 {
		t.Errorf("unexpected terminal statuses: %+v", rec.statuses)
	}
	if len(conv.concepts) != 1 {
		t.Errorf("converter got concepts %+v", conv.concepts)
	}

	updates := drain(sub)
	if len(updates) != 4 {
		t.Fatalf("got %d updates, want 4: %+v", len(updates), updates)
	}
	wantStatuses := []string{"WAITING", "WAITING", "SUMMARIZING", "SUCCESS"}
	for i, u := range updates {
		if u.Data["loadingStatus"] != wantStatuses[i] {
			t.Errorf("update[%d].loadingStatus = %v, want %s", i, u.Data["loadingStatus"], wantStatuses[i])
		}
	}
}

func TestRun_InvokesCleanup(t *testing.T) {
	cases := []struct {
		name string
		conv *fakeConverter
	}{
		{"success", okConverter()},
		{"conversionError", &fakeConverter{fn: func(ctx context.Context, job Job, concepts []lumidoc.Concept) (*lumidoc.LumiDoc, error) {
			return nil, errors.New("format document: boom")
		}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &fakeRecorder{}
			sum := &fakeSummarizer{sums: &lumidoc.Summaries{}}
			o, _ := newOrchestrator(rec, tc.conv, sum, &fakeConcepts{}, time.Minute)

			job := testJob()
			var cleaned int
			job.Cleanup = func() { cleaned++ }

			o.Run(context.Background(), job)
			if cleaned != 1 {
				t.Errorf("cleanup ran %d times, want 1", cleaned)
			}
		})
	}
}

func TestRun_ConversionErrorClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want lumidoc.LoadingStatus
	}{
		{"quota", errors.New("model api quota exceeded: too many requests"), lumidoc.StatusErrorLoadQuota},
		{"invalid response", errors.New("format document: invalid response from model"), lumidoc.StatusErrorLoadInvalidResp},
		{"generic", errors.New("connection reset"), lumidoc.StatusErrorLoad},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &fakeRecorder{}
			conv := &fakeConverter{fn: func(ctx context.Context, job Job, concepts []lumidoc.Concept) (*lumidoc.LumiDoc, error) {
				return nil, tc.err
			}}
			o, _ := newOrchestrator(rec, conv, &fakeSummarizer{}, &fakeConcepts{}, time.Minute)

			o.Run(context.Background(), testJob())

			if len(rec.statuses) != 1 {
				t.Fatalf("statuses = %+v", rec.statuses)
			}
			if rec.statuses[0].st != tc.want {
				t.Errorf("status = %q, want %q", rec.statuses[0].st, tc.want)
			}
			if rec.statuses[0].errMsg != tc.err.Error() {
				t.Errorf("errMsg = %q", rec.statuses[0].errMsg)
			}
			if len(rec.merges) != 0 {
				t.Errorf("unexpected merges: %+v", rec.merges)
			}
		})
	}
}

func TestRun_Timeout(t *testing.T) {
	rec := &fakeRecorder{}
	cancelled := make(chan struct{})
	conv := &fakeConverter{fn: func(ctx context.Context, job Job, concepts []lumidoc.Concept) (*lumidoc.LumiDoc, error) {
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	}}
	o, pub := newOrchestrator(rec, conv, &fakeSummarizer{}, &fakeConcepts{}, 10*time.Millisecond)

	job := testJob()
	sub := pub.Subscribe(job.Key())
	defer pub.Unsubscribe(sub)

	o.Run(context.Background(), job)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("conversion context was not cancelled")
	}

	if len(rec.statuses) != 1 || rec.statuses[0].st != lumidoc.StatusTimeout {
		t.Fatalf("statuses = %+v", rec.statuses)
	}
	if rec.statuses[0].errMsg != TimeoutMessage {
		t.Errorf("errMsg = %q", rec.statuses[0].errMsg)
	}

	updates := drain(sub)
	last := updates[len(updates)-1]
	if last.Data["loadingStatus"] != string(lumidoc.StatusTimeout) {
		t.Errorf("last update = %+v", last)
	}
}

func TestRun_SummarizerFailure(t *testing.T) {
	rec := &fakeRecorder{}
	sum := &fakeSummarizer{err: errors.New("summarize section \"Intro\": invalid response from model")}
	o, _ := newOrchestrator(rec, okConverter(), sum, &fakeConcepts{}, time.Minute)

	o.Run(context.Background(), testJob())

	// The converted document was persisted before the failing stage.
	if len(rec.merges) != 1 {
		t.Fatalf("merges = %+v", rec.merges)
	}
	if len(rec.statuses) != 1 || rec.statuses[0].st != lumidoc.StatusErrorLoadInvalidResp {
		t.Fatalf("statuses = %+v", rec.statuses)
	}
}

func TestRun_EmptyConceptsProceeds(t *testing.T) {
	rec := &fakeRecorder{}
	conv := okConverter()
	o, _ := newOrchestrator(rec, conv, &fakeSummarizer{sums: &lumidoc.Summaries{}}, &fakeConcepts{out: []lumidoc.Concept{}}, time.Minute)

	o.Run(context.Background(), testJob())

	if len(rec.merges) != 2 {
		t.Fatalf("import did not complete: merges=%d statuses=%+v", len(rec.merges), rec.statuses)
	}
	if len(conv.concepts) != 0 {
		t.Errorf("converter got %+v", conv.concepts)
	}
}

func TestClassifyError(t *testing.T) {
	if got := classifyError("API Quota Exceeded"); got != lumidoc.StatusErrorLoadQuota {
		t.Errorf("got %q", got)
	}
	if got := classifyError("Invalid Response payload"); got != lumidoc.StatusErrorLoadInvalidResp {
		t.Errorf("got %q", got)
	}
	if got := classifyError("boom"); got != lumidoc.StatusErrorLoad {
		t.Errorf("got %q", got)
	}
}
