package session

import (
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/gymbuddy/internal/pose"
	"github.com/ayusman/gymbuddy/internal/squat"
	"github.com/ayusman/gymbuddy/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeClock advances one second per call.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// newTestFactory returns a factory whose sessions all use mock providers.
// Each provider created is appended to providers.
func newTestFactory(t *testing.T, st *store.Store, providers *[]*pose.MockProvider) *Factory {
	t.Helper()
	var mu sync.Mutex
	f := NewFactory(Config{
		Pose:       pose.DefaultConfig(),
		Thresholds: squat.DefaultThresholds(),
		Store:      st,
		Resolve: func(context.Context) (pose.Provider, pose.Kind) {
			m := pose.NewMockProvider()
			mu.Lock()
			*providers = append(*providers, m)
			mu.Unlock()
			return m, pose.KindLocalCompact
		},
	})
	clock := &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	f.now = clock.now
	return f
}

func estimate(p *pose.ReducedPose) pose.Estimate {
	return pose.Estimate{Unit: pose.UnitNormalized, Keypoints: pose.KeypointsFor(p)}
}

func TestSession_Process(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	frame := gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3)
	defer frame.Close()

	var providers []*pose.MockProvider
	f := newTestFactory(t, nil, &providers)
	s := f.NewSession(context.Background(), store.SourceWebSocket)
	defer s.Close()

	mock := providers[0]
	mock.Enqueue(
		estimate(pose.StandingPose()),
		estimate(pose.SquatPose()),
		pose.Estimate{},
		estimate(pose.StandingPose()),
	)

	want := []Result{
		{Detected: true, Reps: 0, Feedback: ""},
		{Detected: true, Reps: 0, Feedback: "Good depth"},
		{Detected: false, Reps: 0, Feedback: squat.FeedbackIncomplete},
		{Detected: true, Reps: 1, Feedback: "Rep 1"},
	}

	for i, w := range want {
		got := s.Process(&frame)
		if got != w {
			t.Errorf("frame %d: got %+v, want %+v", i, got, w)
		}
	}

	stats := s.Stats()
	if stats.Frames != 4 || stats.DetectedFrames != 3 || stats.Reps != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if s.Backend() != pose.KindLocalCompact {
		t.Errorf("expected backend %s, got %s", pose.KindLocalCompact, s.Backend())
	}
}

func TestSession_Invalid(t *testing.T) {
	var providers []*pose.MockProvider
	f := newTestFactory(t, nil, &providers)
	s := f.NewSession(context.Background(), store.SourceWebSocket)
	defer s.Close()

	fr := s.Invalid("")

	if fr.Detected || fr.Error != InvalidImageMessage || fr.Reps != 0 {
		t.Errorf("unexpected result %+v", fr.Result)
	}
	if providers[0].Calls() != 0 {
		t.Error("invalid frames must not reach the provider")
	}

	data, err := json.Marshal(fr.Result)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"detected":false,"reps":0,"feedback":"","error":"Invalid image data"}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}

func TestResult_JSONOmitsEmptyError(t *testing.T) {
	data, err := json.Marshal(Result{Detected: true, Reps: 2, Feedback: "Rep 2"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"detected":true,"reps":2,"feedback":"Rep 2"}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}

func TestSession_IndependentCounters(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	frame := gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3)
	defer frame.Close()

	var providers []*pose.MockProvider
	f := newTestFactory(t, nil, &providers)

	a := f.NewSession(context.Background(), store.SourceWebSocket)
	defer a.Close()
	b := f.NewSession(context.Background(), store.SourceWebSocket)
	defer b.Close()

	if a.ID() == b.ID() {
		t.Fatal("sessions should have distinct IDs")
	}
	if f.Active() != 2 {
		t.Errorf("expected 2 active sessions, got %d", f.Active())
	}

	providers[0].Enqueue(estimate(pose.StandingPose()), estimate(pose.SquatPose()), estimate(pose.StandingPose()))
	providers[1].SetEstimate(estimate(pose.StandingPose()))

	for i := 0; i < 3; i++ {
		a.Process(&frame)
		b.Process(&frame)
	}

	if a.Reps() != 1 {
		t.Errorf("session a: expected 1 rep, got %d", a.Reps())
	}
	if b.Reps() != 0 {
		t.Errorf("session b: expected 0 reps, got %d", b.Reps())
	}
}

func TestSession_Persistence(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	frame := gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3)
	defer frame.Close()

	st := newTestStore(t)
	var providers []*pose.MockProvider
	f := newTestFactory(t, st, &providers)

	s := f.NewSession(context.Background(), store.SourceCamera)
	mock := providers[0]
	for i := 0; i < 2; i++ {
		mock.Enqueue(
			estimate(pose.StandingPose()),
			estimate(pose.SquatPose()),
			estimate(pose.StandingPose()),
		)
	}
	for i := 0; i < 6; i++ {
		s.Process(&frame)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !mock.Closed() {
		t.Error("expected provider to be closed")
	}
	if f.Active() != 0 {
		t.Errorf("expected no active sessions, got %d", f.Active())
	}
	if err := s.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}

	rec, err := st.Sessions().GetByID(s.ID())
	if err != nil {
		t.Fatalf("session not stored: %v", err)
	}
	if rec.Reps != 2 || rec.Frames != 6 || rec.DetectedFrames != 6 {
		t.Errorf("unexpected stored counters %+v", rec)
	}
	if rec.Backend != "movenet" || rec.Source != store.SourceCamera {
		t.Errorf("unexpected stored identity %+v", rec)
	}
	if rec.EndedAt == nil {
		t.Error("expected ended session")
	}

	reps, err := st.Reps().ListBySession(s.ID())
	if err != nil {
		t.Fatalf("list reps: %v", err)
	}
	if len(reps) != 2 {
		t.Fatalf("expected 2 reps, got %d", len(reps))
	}
	if math.Abs(reps[0].MinKneeAngle-90) > 0.5 {
		t.Errorf("expected min knee angle 90, got %f", reps[0].MinKneeAngle)
	}
	// standing, squat, standing at one-second ticks
	if reps[0].Duration != 2*time.Second {
		t.Errorf("expected 2s rep, got %v", reps[0].Duration)
	}
}

func TestSummarize(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	sess := &store.Session{
		Reps:           3,
		Frames:         200,
		DetectedFrames: 150,
		StartedAt:      start,
		EndedAt:        &end,
	}
	reps := []*store.Rep{
		{Number: 1, MinKneeAngle: 90, MinHipAngle: 80, Duration: 2 * time.Second},
		{Number: 2, MinKneeAngle: 100, MinHipAngle: 85, Duration: 3 * time.Second},
		{Number: 3, MinKneeAngle: 95, MinHipAngle: 90, Duration: 4 * time.Second},
	}

	sum := Summarize(sess, reps)

	if sum.DetectionRate != 0.75 {
		t.Errorf("expected detection rate 0.75, got %f", sum.DetectionRate)
	}
	if sum.DurationMs != 90000 {
		t.Errorf("expected 90000ms, got %d", sum.DurationMs)
	}
	if sum.BestKneeAngle != 90 {
		t.Errorf("expected best knee 90, got %f", sum.BestKneeAngle)
	}
	if sum.MeanKneeAngle != 95 {
		t.Errorf("expected mean knee 95, got %f", sum.MeanKneeAngle)
	}
	if sum.MeanHipAngle != 85 {
		t.Errorf("expected mean hip 85, got %f", sum.MeanHipAngle)
	}
	if sum.MeanRepMs != 3000 {
		t.Errorf("expected mean rep 3000ms, got %f", sum.MeanRepMs)
	}
	if math.Abs(sum.KneeAngleStdDev-5) > 1e-9 {
		t.Errorf("expected knee stddev 5, got %f", sum.KneeAngleStdDev)
	}

	t.Run("no reps", func(t *testing.T) {
		sum := Summarize(&store.Session{StartedAt: start, EndedAt: &end}, nil)
		if sum.BestKneeAngle != 0 || sum.DetectionRate != 0 {
			t.Errorf("unexpected summary %+v", sum)
		}
	})

	t.Run("single rep has no spread", func(t *testing.T) {
		sum := Summarize(sess, reps[:1])
		if sum.KneeAngleStdDev != 0 {
			t.Errorf("expected zero stddev, got %f", sum.KneeAngleStdDev)
		}
	})
}
