package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/boltindex/pkg/errs"
	"github.com/nainya/boltindex/pkg/vector"
)

func TestHashingDeterministicAndUnit(t *testing.T) {
	h := NewHashing(64)
	req := Request{Text: "Employees accrue leave monthly.", View: Semantic}

	a, err := h.Analyze(context.Background(), req)
	require.NoError(t, err)
	b, err := h.Analyze(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, vector.Equal(a.Vector, b.Vector))
	assert.True(t, vector.IsUnit(a.Vector, vector.Epsilon))
	assert.Len(t, a.Vector, 64)
}

func TestHashingViewsAndContextDiffer(t *testing.T) {
	h := NewHashing(128)
	ctx := context.Background()
	text := "Receipts are required for every expense."

	sem, err := h.Analyze(ctx, Request{Text: text, View: Semantic})
	require.NoError(t, err)
	prag, err := h.Analyze(ctx, Request{Text: text, View: Pragmatic, Context: map[string]string{"heading_path": "Expenses"}})
	require.NoError(t, err)
	moved, err := h.Analyze(ctx, Request{Text: text, View: Pragmatic, Context: map[string]string{"heading_path": "Travel"}})
	require.NoError(t, err)

	assert.False(t, vector.Equal(sem.Vector, prag.Vector))
	assert.False(t, vector.Equal(prag.Vector, moved.Vector))
}

func TestHashingRejectsBlank(t *testing.T) {
	_, err := NewHashing(8).Analyze(context.Background(), Request{Text: "  \n\t"})
	assert.ErrorIs(t, err, errs.ErrEmptyContent)
}

func TestRouterUsesHintTable(t *testing.T) {
	var hits sync.Map
	mk := func(name string) Analyzer {
		return Func(func(ctx context.Context, req Request) (*Result, error) {
			hits.Store(name, true)
			return &Result{Vector: []float32{1}, Model: name}, nil
		})
	}
	r := NewRouter(mk("default"), map[string]Analyzer{"Code": mk("code")})

	res, err := r.Analyze(context.Background(), Request{Text: "x", ContentTypeHint: "code"})
	require.NoError(t, err)
	assert.Equal(t, "code", res.Model)

	res, err = r.Analyze(context.Background(), Request{Text: "x", ContentTypeHint: "prose"})
	require.NoError(t, err)
	assert.Equal(t, "default", res.Model)
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
	retries  int
}

func (o *recordingObserver) ObserveAnalyzerCall(v View, outcome string, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) ObserveAnalyzerRetry(v View) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
}

func TestGuardRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	flaky := Func(func(ctx context.Context, req Request) (*Result, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return &Result{Vector: []float32{1, 0}}, nil
	})
	obs := &recordingObserver{}
	g := NewGuard(flaky, GuardConfig{MaxRetries: 3, InitialBackoff: time.Millisecond}, WithObserver(obs))

	res, err := g.Analyze(context.Background(), Request{Text: "x", View: Semantic})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, res.Vector)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2, obs.retries)
	assert.Equal(t, []string{"ok"}, obs.outcomes)
}

func TestGuardExhaustionIsAnalysisUnavailable(t *testing.T) {
	var calls atomic.Int32
	down := Func(func(ctx context.Context, req Request) (*Result, error) {
		calls.Add(1)
		return nil, errors.New("down")
	})
	g := NewGuard(down, GuardConfig{MaxRetries: 2, InitialBackoff: time.Millisecond})

	_, err := g.Analyze(context.Background(), Request{Text: "x"})
	assert.ErrorIs(t, err, errs.ErrAnalysisUnavailable)
	assert.Equal(t, int32(3), calls.Load())
	assert.True(t, errs.Retryable(err))
}

func TestGuardTimeout(t *testing.T) {
	slow := Func(func(ctx context.Context, req Request) (*Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	g := NewGuard(slow, GuardConfig{Timeout: 5 * time.Millisecond, InitialBackoff: time.Millisecond})

	_, err := g.Analyze(context.Background(), Request{Text: "x"})
	assert.ErrorIs(t, err, errs.ErrAnalysisUnavailable)
	assert.ErrorIs(t, err, errs.ErrTimeout)
}

func TestGuardDoesNotRetryRejected(t *testing.T) {
	var calls atomic.Int32
	bad := Func(func(ctx context.Context, req Request) (*Result, error) {
		calls.Add(1)
		return nil, ErrRejected
	})
	g := NewGuard(bad, GuardConfig{MaxRetries: 5, InitialBackoff: time.Millisecond})

	_, err := g.Analyze(context.Background(), Request{Text: "x"})
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, err, errs.ErrAnalysisUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGuardDegenerateVector(t *testing.T) {
	zero := Func(func(ctx context.Context, req Request) (*Result, error) {
		return &Result{Vector: []float32{0, 0}}, nil
	})
	g := NewGuard(zero, GuardConfig{InitialBackoff: time.Millisecond})

	_, err := g.Analyze(context.Background(), Request{Text: "x"})
	assert.ErrorIs(t, err, errs.ErrAnalysisUnavailable)
}

func TestGuardBoundsInFlight(t *testing.T) {
	var cur, peak atomic.Int32
	slow := Func(func(ctx context.Context, req Request) (*Result, error) {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		cur.Add(-1)
		return &Result{Vector: []float32{1}}, nil
	})
	g := NewGuard(slow, GuardConfig{MaxInFlight: 2})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Analyze(context.Background(), Request{Text: "x"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestGuardReleasesSlotDuringBackoff(t *testing.T) {
	failed := make(chan struct{})
	var once sync.Once
	var flakyCalls atomic.Int32
	a := Func(func(ctx context.Context, req Request) (*Result, error) {
		if req.Text == "flaky" && flakyCalls.Add(1) == 1 {
			once.Do(func() { close(failed) })
			return nil, errors.New("transient")
		}
		return &Result{Vector: []float32{1, 0}}, nil
	})
	g := NewGuard(a, GuardConfig{MaxInFlight: 1, MaxRetries: 1, InitialBackoff: 400 * time.Millisecond, MaxBackoff: 400 * time.Millisecond})

	done := make(chan error, 1)
	go func() {
		_, err := g.Analyze(context.Background(), Request{Text: "flaky"})
		done <- err
	}()
	select {
	case <-failed:
	case <-time.After(5 * time.Second):
		t.Fatal("first attempt never ran")
	}

	// the flaky call is backing off for at least 200ms
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := g.Analyze(ctx, Request{Text: "steady"})
	require.NoError(t, err)

	require.NoError(t, <-done)
	assert.Equal(t, int32(2), flakyCalls.Load())
}

func TestOpenAIEmbeddings(t *testing.T) {
	var gotInput []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		var body struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotInput = body.Input
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","data":[{"object":"embedding","index":0,"embedding":[0.6,0.8]}],"usage":{"prompt_tokens":4,"total_tokens":4}}`))
	}))
	defer srv.Close()

	a, err := NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	res, err := a.Analyze(context.Background(), Request{
		Text:    "hello",
		View:    Pragmatic,
		Context: map[string]string{"heading_path": "Intro"},
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.6, 0.8}, res.Vector)
	require.Len(t, gotInput, 1)
	assert.Contains(t, gotInput[0], "heading_path: Intro")
	assert.Contains(t, gotInput[0], "hello")
}

func TestOpenAIClientErrorIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad input","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	a, err := NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = a.Analyze(context.Background(), Request{Text: "hello", View: Semantic})
	assert.ErrorIs(t, err, ErrRejected)
}
