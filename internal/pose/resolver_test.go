package pose

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ayusman/gymbuddy/internal/log"
)

// countingCandidate returns a candidate that records how often it was opened.
func countingCandidate(kind Kind, p Provider, err error, opened *int) Candidate {
	return Candidate{Kind: kind, Open: func(context.Context) (Provider, error) {
		*opened++
		if err != nil {
			return nil, err
		}
		return p, nil
	}}
}

func TestResolve(t *testing.T) {
	logger := log.Discard()

	t.Run("third candidate chosen when first two fail", func(t *testing.T) {
		var opens [3]int
		third := NewMockProvider()
		third.SetEstimate(Estimate{Unit: UnitNormalized, Reduced: StandingPose()})

		candidates := []Candidate{
			countingCandidate(KindLocalCompact, nil, ErrModelNotFound, &opens[0]),
			countingCandidate(KindToolkitPrimary, nil, ErrHelperNotFound, &opens[1]),
			countingCandidate(KindToolkitTaskGraph, third, nil, &opens[2]),
		}

		fallbackUsed := false
		p, kind := resolve(context.Background(), logger, candidates, func() Provider {
			fallbackUsed = true
			return NewMockProvider()
		})

		if kind != KindToolkitTaskGraph {
			t.Errorf("expected %s, got %s", KindToolkitTaskGraph, kind)
		}
		if fallbackUsed {
			t.Error("fallback should not be used")
		}

		d := NewDetector(p, kind, DefaultMinKeypointScore)
		for i := 0; i < 5; i++ {
			d.provider.Detect(nil)
		}

		if opens != [3]int{1, 1, 1} {
			t.Errorf("expected each candidate opened once, got %v", opens)
		}
		if third.Calls() != 5 {
			t.Errorf("expected all detections on third provider, got %d", third.Calls())
		}
		if d.Backend() != KindToolkitTaskGraph {
			t.Errorf("expected backend to stay %s, got %s", KindToolkitTaskGraph, d.Backend())
		}
	})

	t.Run("later candidates never opened after success", func(t *testing.T) {
		var opens [2]int
		candidates := []Candidate{
			countingCandidate(KindLocalCompact, NewMockProvider(), nil, &opens[0]),
			countingCandidate(KindClassicalNetwork, NewMockProvider(), nil, &opens[1]),
		}

		_, kind := resolve(context.Background(), logger, candidates, mockFallback)

		if kind != KindLocalCompact {
			t.Errorf("expected %s, got %s", KindLocalCompact, kind)
		}
		if opens[1] != 0 {
			t.Errorf("second candidate opened %d times", opens[1])
		}
	})

	t.Run("all fail falls back to heuristic", func(t *testing.T) {
		var opens [2]int
		candidates := []Candidate{
			countingCandidate(KindLocalCompact, nil, ErrModelNotFound, &opens[0]),
			countingCandidate(KindClassicalNetwork, nil, errors.New("bad weights"), &opens[1]),
		}
		fallback := NewMockProvider()

		p, kind := resolve(context.Background(), logger, candidates, func() Provider { return fallback })

		if kind != KindHeuristic {
			t.Errorf("expected %s, got %s", KindHeuristic, kind)
		}
		if p != fallback {
			t.Error("expected fallback provider")
		}
	})

	t.Run("nil provider without error counts as failure", func(t *testing.T) {
		var opens int
		candidates := []Candidate{countingCandidate(KindLocalCompact, nil, nil, &opens)}

		_, kind := resolve(context.Background(), logger, candidates, mockFallback)

		if kind != KindHeuristic {
			t.Errorf("expected %s, got %s", KindHeuristic, kind)
		}
	})

	t.Run("cancelled context skips probing", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var opens int
		candidates := []Candidate{countingCandidate(KindLocalCompact, NewMockProvider(), nil, &opens)}

		_, kind := resolve(ctx, logger, candidates, mockFallback)

		if kind != KindHeuristic {
			t.Errorf("expected %s, got %s", KindHeuristic, kind)
		}
		if opens != 0 {
			t.Errorf("expected no candidate opened, got %d", opens)
		}
	})

	t.Run("empty list uses fallback", func(t *testing.T) {
		_, kind := Resolve(context.Background(), nil, mockFallback)
		if kind != KindHeuristic {
			t.Errorf("expected %s, got %s", KindHeuristic, kind)
		}
	})
}

func TestCandidates(t *testing.T) {
	t.Run("follows configured order and skips heuristic", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Order = []Kind{KindClassicalNetwork, KindHeuristic, KindLocalCompact}

		got := Candidates(cfg, NewAssetCache(nil))

		if len(got) != 2 {
			t.Fatalf("expected 2 candidates, got %d", len(got))
		}
		if got[0].Kind != KindClassicalNetwork || got[1].Kind != KindLocalCompact {
			t.Errorf("unexpected order: %s, %s", got[0].Kind, got[1].Kind)
		}
	})

	t.Run("empty order uses default", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Order = nil

		got := Candidates(cfg, NewAssetCache(nil))

		if len(got) != len(DefaultOrder) {
			t.Fatalf("expected %d candidates, got %d", len(DefaultOrder), len(got))
		}
		for i, k := range DefaultOrder {
			if got[i].Kind != k {
				t.Errorf("candidate %d = %s, want %s", i, got[i].Kind, k)
			}
		}
	})

	t.Run("missing model files fail to open", func(t *testing.T) {
		cfg := DefaultConfig()
		dir := t.TempDir()
		cfg.MoveNetModel = dir + "/missing.onnx"
		cfg.OpenPoseProto = dir + "/missing.prototxt"
		cfg.OpenPoseWeights = dir + "/missing.caffemodel"
		cfg.OpenPoseProtoMirrors = nil
		cfg.OpenPoseWeightsMirrors = nil
		cfg.Order = []Kind{KindLocalCompact, KindClassicalNetwork}

		want := map[Kind]error{
			KindLocalCompact:     ErrModelNotFound,
			KindClassicalNetwork: ErrAssetUnavailable,
		}
		for _, c := range Candidates(cfg, NewAssetCache(nil)) {
			p, err := c.Open(context.Background())
			if !errors.Is(err, want[c.Kind]) {
				t.Errorf("%s: expected %v, got %v", c.Kind, want[c.Kind], err)
			}
			if p != nil {
				t.Errorf("%s: expected nil provider", c.Kind)
			}
		}
	})

	t.Run("task graph short-circuits on cached asset failure", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TaskModel = t.TempDir() + "/pose.task"
		cfg.TaskModelMirrors = nil
		cfg.Order = []Kind{KindToolkitTaskGraph}

		assets := NewAssetCache(nil)
		c := Candidates(cfg, assets)[0]

		for i := 0; i < 2; i++ {
			if _, err := c.Open(context.Background()); !errors.Is(err, ErrAssetUnavailable) {
				t.Fatalf("attempt %d: expected ErrAssetUnavailable, got %v", i, err)
			}
		}
		if !assets.Failed(cfg.TaskModel) {
			t.Error("expected failure to be cached")
		}
	})

	t.Run("classical network downloads once and caches the failure", func(t *testing.T) {
		var hits atomic.Int32
		mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			http.Error(w, "gone", http.StatusNotFound)
		}))
		defer mirror.Close()

		dir := t.TempDir()
		cfg := DefaultConfig()
		cfg.OpenPoseProto = filepath.Join(dir, "pose.prototxt")
		cfg.OpenPoseWeights = filepath.Join(dir, "pose.caffemodel")
		cfg.OpenPoseProtoMirrors = []string{mirror.URL + "/pose.prototxt"}
		cfg.OpenPoseWeightsMirrors = []string{mirror.URL + "/pose.caffemodel"}
		cfg.Order = []Kind{KindClassicalNetwork}

		assets := NewAssetCache(mirror.Client())
		c := Candidates(cfg, assets)[0]

		for i := 0; i < 3; i++ {
			if _, err := c.Open(context.Background()); !errors.Is(err, ErrAssetUnavailable) {
				t.Fatalf("attempt %d: expected ErrAssetUnavailable, got %v", i, err)
			}
		}
		if got := hits.Load(); got != 1 {
			t.Errorf("mirror hit %d times, want 1", got)
		}
		if !assets.Failed(cfg.OpenPoseProto) {
			t.Error("expected prototxt failure to be cached")
		}
	})

	t.Run("classical network fetches missing weights", func(t *testing.T) {
		var fetched []string
		var mu sync.Mutex
		mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			fetched = append(fetched, r.URL.Path)
			mu.Unlock()
			http.Error(w, "gone", http.StatusNotFound)
		}))
		defer mirror.Close()

		dir := t.TempDir()
		cfg := DefaultConfig()
		cfg.OpenPoseProto = filepath.Join(dir, "pose.prototxt")
		cfg.OpenPoseWeights = filepath.Join(dir, "pose.caffemodel")
		if err := os.WriteFile(cfg.OpenPoseProto, []byte("name: \"OpenPose\""), 0644); err != nil {
			t.Fatal(err)
		}
		cfg.OpenPoseProtoMirrors = []string{mirror.URL + "/pose.prototxt"}
		cfg.OpenPoseWeightsMirrors = []string{mirror.URL + "/pose.caffemodel"}
		cfg.Order = []Kind{KindClassicalNetwork}

		c := Candidates(cfg, NewAssetCache(mirror.Client()))[0]
		if _, err := c.Open(context.Background()); !errors.Is(err, ErrAssetUnavailable) {
			t.Fatalf("expected ErrAssetUnavailable, got %v", err)
		}

		mu.Lock()
		defer mu.Unlock()
		if len(fetched) != 1 || fetched[0] != "/pose.caffemodel" {
			t.Errorf("expected only the weights to be fetched, got %v", fetched)
		}
	})
}

func mockFallback() Provider {
	return NewMockProvider()
}
