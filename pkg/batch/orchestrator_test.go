package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/menta2k/cleaning-check/pkg/normalizer"
	"github.com/menta2k/cleaning-check/pkg/types"
	"github.com/menta2k/cleaning-check/pkg/verdict"
)

// fakeClassifier scripts the backend for orchestrator tests.
type fakeClassifier struct {
	available bool
	respond   func() (*types.ClassificationResponse, error)

	mu    sync.Mutex
	calls int
}

func (f *fakeClassifier) Available() bool { return f.available }

func (f *fakeClassifier) Classify(ctx context.Context, jpegData []byte) (*types.ClassificationResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.respond()
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	rules, err := verdict.Compile(verdict.DefaultRuleConfig())
	if err != nil {
		t.Fatalf("rule compile failed: %v", err)
	}
	return New(normalizer.New(), verdict.NewEngine(rules), nil)
}

// createJPEG encodes a small gradient image
func createJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 7 % 255), uint8(y * 5 % 255), 120, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		t.Fatalf("jpeg encode failed: %v", err)
	}
	return buf.Bytes()
}

func testInputs(t *testing.T, n int) []types.ImageInput {
	t.Helper()
	inputs := make([]types.ImageInput, 0, n)
	for i := 0; i < n; i++ {
		inputs = append(inputs, types.ImageInput{
			Name: fmt.Sprintf("room_%d.jpg", i),
			Data: createJPEG(t, 80+i, 60),
		})
	}
	return inputs
}

func presence(vals map[string]any) map[string]*bool {
	out := make(map[string]*bool, len(vals))
	for k, v := range vals {
		if b, ok := v.(bool); ok {
			val := b
			out[k] = &val
		} else {
			out[k] = nil
		}
	}
	return out
}

func TestRunPartitionAndOrdering(t *testing.T) {
	o := newTestOrchestrator(t)
	cls := &fakeClassifier{
		available: true,
		respond: func() (*types.ClassificationResponse, error) {
			return &types.ClassificationResponse{
				Scores:   map[string]float64{"quality": 0.2},
				Comments: []string{"概ね良好"},
				Presence: map[string]*bool{},
			}, nil
		},
	}

	const n = 12
	res, err := o.Run(context.Background(), testInputs(t, n), cls, Options{ScratchRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	defer os.RemoveAll(res.Dir)

	if got := len(res.Results); got != n {
		t.Fatalf("expected %d results, got %d", n, got)
	}
	for i, r := range res.Results {
		if r.Index != i {
			t.Errorf("result %d has index %d; ordering not restored", i, r.Index)
		}
		if r.Stage != types.StageNano {
			t.Errorf("stage must be nano, got %s", r.Stage)
		}
	}
	if sum := res.Summary.OK + res.Summary.NG + res.Summary.Unknown; sum != n {
		t.Errorf("verdict counts must partition the batch: %d != %d", sum, n)
	}
	if res.Summary.CountsByStage[types.StageNano] != n {
		t.Errorf("all results should count as nano stage: %v", res.Summary.CountsByStage)
	}
	if cls.callCount() != n {
		t.Errorf("expected one classification per image, got %d", cls.callCount())
	}
}

func TestRunJobIDAndScratchFiles(t *testing.T) {
	o := newTestOrchestrator(t)
	cls := &fakeClassifier{available: true, respond: func() (*types.ClassificationResponse, error) {
		return &types.ClassificationResponse{Presence: map[string]*bool{}}, nil
	}}

	inputs := []types.ImageInput{
		{Name: "玄関/entrance photo?.jpg", Data: createJPEG(t, 50, 40)},
		{Name: "", Data: createJPEG(t, 50, 40)},
	}
	res, err := o.Run(context.Background(), inputs, cls, Options{ScratchRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	defer os.RemoveAll(res.Dir)

	if !strings.HasPrefix(res.JobID, "J") {
		t.Errorf("job id should be time-derived with J prefix, got %q", res.JobID)
	}
	if res.Results[0].File != "0000_entrance photo_.jpg" {
		t.Errorf("unexpected sanitized name: %q", res.Results[0].File)
	}
	if res.Results[1].File != "0001_0001.jpg" {
		t.Errorf("unnamed input should get a synthetic name, got %q", res.Results[1].File)
	}
	for _, r := range res.Results {
		path := filepath.Join(res.Dir, r.File)
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("normalized image not saved at %s: %v", path, err)
		}
		if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
			t.Errorf("saved file %s is not valid JPEG: %v", r.File, err)
		}
	}
}

func TestRunJobIDsUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := NewJobID()
		if seen[id] {
			t.Fatalf("duplicate job id %q", id)
		}
		seen[id] = true
	}
}

func TestRunDecodeFailureIsolation(t *testing.T) {
	o := newTestOrchestrator(t)
	cls := &fakeClassifier{available: true, respond: func() (*types.ClassificationResponse, error) {
		return &types.ClassificationResponse{
			Scores:   map[string]float64{"quality": 0.1},
			Presence: map[string]*bool{},
		}, nil
	}}

	inputs := []types.ImageInput{
		{Name: "good1.jpg", Data: createJPEG(t, 60, 60)},
		{Name: "broken.jpg", Data: []byte("not an image")},
		{Name: "good2.jpg", Data: createJPEG(t, 60, 60)},
	}
	res, err := o.Run(context.Background(), inputs, cls, Options{ScratchRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("one broken image must not abort the batch: %v", err)
	}
	defer os.RemoveAll(res.Dir)

	if len(res.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(res.Results))
	}
	broken := res.Results[1]
	if len(broken.Comments) != 1 || !strings.Contains(broken.Comments[0], "読み込みに失敗") {
		t.Errorf("broken image should carry the decode-failure comment, got %v", broken.Comments)
	}
	if cls.callCount() != 2 {
		t.Errorf("undecodable image must not reach the classifier, got %d calls", cls.callCount())
	}
	if sum := res.Summary.OK + res.Summary.NG + res.Summary.Unknown; sum != 3 {
		t.Errorf("counts must still partition the batch, got %d", sum)
	}
}

func TestRunBackendUnavailable(t *testing.T) {
	o := newTestOrchestrator(t)
	cls := &fakeClassifier{available: false}

	res, err := o.Run(context.Background(), testInputs(t, 2), cls, Options{ScratchRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	defer os.RemoveAll(res.Dir)

	if cls.callCount() != 0 {
		t.Errorf("unavailable backend must never be called, got %d calls", cls.callCount())
	}
	for _, r := range res.Results {
		if len(r.Comments) != 1 || !strings.Contains(r.Comments[0], "ドライラン") {
			t.Errorf("expected dry-run placeholder comment, got %v", r.Comments)
		}
		if r.Verdict != types.VerdictOK {
			t.Errorf("placeholder zero score should stay ok, got %s", r.Verdict)
		}
	}
}

func TestRunClassifierErrorDegrades(t *testing.T) {
	o := newTestOrchestrator(t)
	cls := &fakeClassifier{available: true, respond: func() (*types.ClassificationResponse, error) {
		return nil, errors.New("exhausted retries")
	}}

	res, err := o.Run(context.Background(), testInputs(t, 2), cls, Options{ScratchRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("classifier failures must not abort the batch: %v", err)
	}
	defer os.RemoveAll(res.Dir)

	for _, r := range res.Results {
		if len(r.Comments) != 1 || !strings.Contains(r.Comments[0], "解析失敗") {
			t.Errorf("expected failure placeholder comment, got %v", r.Comments)
		}
	}
}

func TestRunWorkerBound(t *testing.T) {
	o := newTestOrchestrator(t)

	var inFlight, peak int32
	cls := &fakeClassifier{available: true}
	cls.respond = func() (*types.ClassificationResponse, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return &types.ClassificationResponse{Presence: map[string]*bool{}}, nil
	}

	res, err := o.Run(context.Background(), testInputs(t, 20), cls, Options{ScratchRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	defer os.RemoveAll(res.Dir)

	if p := atomic.LoadInt32(&peak); p > MaxWorkers {
		t.Errorf("worker pool exceeded bound: peak %d > %d", p, MaxWorkers)
	}
}

func TestRunVerdictWiring(t *testing.T) {
	o := newTestOrchestrator(t)
	cls := &fakeClassifier{available: true, respond: func() (*types.ClassificationResponse, error) {
		return &types.ClassificationResponse{
			Scores:   map[string]float64{"hair_dust": 0.9},
			Comments: []string{"髪の毛が付着しています"},
			Presence: map[string]*bool{},
		}, nil
	}}

	res, err := o.Run(context.Background(), testInputs(t, 1), cls, Options{
		ScratchRoot: t.TempDir(),
		Thresholds:  types.Thresholds{RecheckWhitelist: []string{"付着"}},
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	defer os.RemoveAll(res.Dir)

	// Recheck whitelist wins over the ng score and keyword.
	if res.Results[0].Verdict != types.VerdictUnknown {
		t.Errorf("expected unknown via recheck override, got %s", res.Results[0].Verdict)
	}
	if res.Summary.Unknown != 1 {
		t.Errorf("summary must reflect the forced recheck, got %+v", res.Summary)
	}
}

func TestSummarizePresenceEvidence(t *testing.T) {
	results := []types.ImageResult{
		{Index: 0, Verdict: types.VerdictOK, Stage: types.StageNano,
			Presence: presence(map[string]any{"key": nil, "wifi": false, "heater": true})},
		{Index: 1, Verdict: types.VerdictNG, Stage: types.StageNano,
			Presence: presence(map[string]any{"heater": true, "tv": true})},
		{Index: 2, Verdict: types.VerdictUnknown, Stage: types.StageNano,
			Presence: nil},
	}

	s := Summarize(results)

	if s.OK != 1 || s.NG != 1 || s.Unknown != 1 {
		t.Errorf("unexpected verdict counts: %+v", s)
	}
	if got := s.PresenceEvidence["heater"]; len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("heater evidence should be [0 1], got %v", got)
	}
	if got := s.PresenceEvidence["wifi"]; len(got) != 0 {
		t.Errorf("strict false must not count as evidence, got %v", got)
	}
	if got := s.PresenceEvidence["key"]; len(got) != 0 {
		t.Errorf("indeterminate must not count as evidence, got %v", got)
	}
	if got := s.PresenceEvidence["tv"]; len(got) != 1 || got[0] != 1 {
		t.Errorf("tv evidence should be [1], got %v", got)
	}
}

func TestRunEmptyBatch(t *testing.T) {
	o := newTestOrchestrator(t)
	cls := &fakeClassifier{available: true}

	res, err := o.Run(context.Background(), nil, cls, Options{ScratchRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("empty batch should succeed trivially: %v", err)
	}
	defer os.RemoveAll(res.Dir)

	if len(res.Results) != 0 || res.Summary.OK+res.Summary.NG+res.Summary.Unknown != 0 {
		t.Errorf("empty batch should produce empty results, got %+v", res.Summary)
	}
}
