// Package batch calibrates many leader/follower pairs with bounded
// parallelism and collects their results.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/GoSim-25-26J-441/calibration-core/internal/store"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/config"
)

// PairLister lists the pairs available for calibration
type PairLister interface {
	Pairs(ctx context.Context, limit int) ([]store.Pair, error)
}

// PairConfigs expands a template into one configuration per pair. Each
// copy gets run id "<index>" and working directory "<cwd>/<index>".
// A template that already names a leader is returned alone, unchanged.
func PairConfigs(template *config.Config, pairs []store.Pair) []*config.Config {
	if template.Trajectory.LeaderID != nil {
		return []*config.Config{template.Clone()}
	}
	out := make([]*config.Config, 0, len(pairs))
	for i, p := range pairs {
		cfg := template.Clone()
		leader := p.LeaderID
		cfg.Trajectory.LeaderID = &leader
		cfg.Trajectory.Follower = p.Follower
		cfg.Metadata.RunID = strconv.Itoa(i)
		cfg.Metadata.Cwd = filepath.Join(template.Metadata.Cwd, cfg.Metadata.RunID)
		out = append(out, cfg)
	}
	return out
}

// Pairs reads the pair table of the template's trajectory database and
// expands the template over it
func Pairs(ctx context.Context, template *config.Config) ([]*config.Config, error) {
	if template.Trajectory.LeaderID != nil {
		return PairConfigs(template, nil), nil
	}
	if _, err := os.Stat(template.Trajectory.DBPath); err != nil {
		return nil, fmt.Errorf("trajectory database: %w", err)
	}
	s, err := store.Open(ctx, template.Trajectory.DBPath)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return pairsFrom(ctx, template, s)
}

func pairsFrom(ctx context.Context, template *config.Config, lister PairLister) ([]*config.Config, error) {
	limit := 0
	if template.Batch != nil {
		limit = template.Batch.PairsLimit
	}
	pairs, err := lister.Pairs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pairs: %w", err)
	}
	return PairConfigs(template, pairs), nil
}
