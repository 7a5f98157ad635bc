package rules

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/requirementflow/internal/models"
	"github.com/Lllllllleong/requirementflow/internal/pipeline"
)

// Composite evaluates several rule sets concurrently and merges their
// findings in item order, keeping each item's findings in rule set order.
type Composite struct {
	sets []pipeline.RuleSet
}

// NewComposite returns a Composite over sets.
func NewComposite(sets ...pipeline.RuleSet) *Composite {
	return &Composite{sets: sets}
}

func (c *Composite) Evaluate(ctx context.Context, items []models.RequirementItem) ([]models.ValidationFinding, error) {
	results := make([][]models.ValidationFinding, len(c.sets))
	eg, gctx := errgroup.WithContext(ctx)
	for i, set := range c.sets {
		eg.Go(func() error {
			findings, err := set.Evaluate(gctx, items)
			if err != nil {
				return fmt.Errorf("rule set %d: %w", i+1, err)
			}
			results[i] = findings
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	pos := make(map[string]int, len(items))
	for i, it := range items {
		pos[it.ItemID] = i
	}
	var out []models.ValidationFinding
	for _, r := range results {
		out = append(out, r...)
	}
	sort.SliceStable(out, func(i, j int) bool { return pos[out[i].ItemID] < pos[out[j].ItemID] })
	return out, nil
}

var _ pipeline.RuleSet = (*Composite)(nil)
