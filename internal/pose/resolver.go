package pose

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ayusman/gymbuddy/internal/log"
)

// Candidate is one entry of the backend priority list.
type Candidate struct {
	Kind Kind
	Open func(ctx context.Context) (Provider, error)
}

// Resolve opens candidates in order and returns the first one that
// initializes. Failures are logged and skipped. When every candidate fails,
// or the context is done, fallback is used; fallback must not fail. Resolve
// itself never returns an error.
func Resolve(ctx context.Context, candidates []Candidate, fallback func() Provider) (Provider, Kind) {
	return resolve(ctx, log.With("component", "pose.resolver"), candidates, fallback)
}

func resolve(ctx context.Context, logger *slog.Logger, candidates []Candidate, fallback func() Provider) (Provider, Kind) {
	for i, c := range candidates {
		if ctx.Err() != nil {
			logger.Warn("backend probing interrupted", "error", ctx.Err())
			break
		}

		p, err := c.Open(ctx)
		if err == nil && p != nil {
			logger.Info("pose backend selected",
				"backend", c.Kind.String(),
				"priority", i,
			)
			return p, c.Kind
		}
		if err == nil {
			err = errors.New("provider constructor returned nil")
		}

		logger.Warn("pose backend unavailable, trying next",
			"backend", c.Kind.String(),
			"error", &ProviderError{Kind: c.Kind, Err: err},
		)
	}

	logger.Info("pose backend selected", "backend", KindHeuristic.String(), "fallback", true)
	return fallback(), KindHeuristic
}

// Candidates builds the configured priority list. assets backs the
// task-graph and OpenPose model downloads and may be shared between
// sessions.
func Candidates(cfg Config, assets *AssetCache) []Candidate {
	order := cfg.Order
	if len(order) == 0 {
		order = DefaultOrder
	}

	candidates := make([]Candidate, 0, len(order))
	for _, kind := range order {
		switch kind {
		case KindLocalCompact:
			candidates = append(candidates, Candidate{Kind: kind, Open: func(context.Context) (Provider, error) {
				m, err := NewMoveNet(cfg.MoveNetModel, cfg.MoveNetInputSize)
				if err != nil {
					return nil, err
				}
				return m, nil
			}})
		case KindToolkitPrimary:
			candidates = append(candidates, Candidate{Kind: kind, Open: func(ctx context.Context) (Provider, error) {
				mp, err := NewMediaPipe(ctx, cfg, ModeSolutions)
				if err != nil {
					return nil, err
				}
				return mp, nil
			}})
		case KindToolkitTaskGraph:
			candidates = append(candidates, Candidate{Kind: kind, Open: func(ctx context.Context) (Provider, error) {
				if err := assets.Ensure(ctx, cfg.TaskModel, cfg.TaskModelMirrors); err != nil {
					return nil, err
				}
				mp, err := NewMediaPipe(ctx, cfg, ModeTasks)
				if err != nil {
					return nil, err
				}
				return mp, nil
			}})
		case KindClassicalNetwork:
			candidates = append(candidates, Candidate{Kind: kind, Open: func(ctx context.Context) (Provider, error) {
				if err := assets.Ensure(ctx, cfg.OpenPoseProto, cfg.OpenPoseProtoMirrors); err != nil {
					return nil, err
				}
				if err := assets.Ensure(ctx, cfg.OpenPoseWeights, cfg.OpenPoseWeightsMirrors); err != nil {
					return nil, err
				}
				op, err := NewOpenPose(cfg.OpenPoseProto, cfg.OpenPoseWeights, cfg.OpenPoseInputSize, cfg.OpenPoseThreshold)
				if err != nil {
					return nil, err
				}
				return op, nil
			}})
		case KindHeuristic:
			// Always available as the fallback.
		}
	}
	return candidates
}

// Open resolves a backend from cfg and wraps it in a Detector.
func Open(ctx context.Context, cfg Config, assets *AssetCache) *Detector {
	p, kind := Resolve(ctx, Candidates(cfg, assets), func() Provider {
		return NewHeuristic(cfg.CascadePath)
	})
	return NewDetector(p, kind, cfg.MinKeypointScore)
}
