package configstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Diff renders a unified diff between two stored configuration
// snapshots, oldest first regardless of the order the IDs are given in.
func (c *ConfigStore) Diff(ctx context.Context, fromID, toID int64) (string, error) {
	from, err := c.store.GetConfiguration(ctx, fromID)
	if err != nil {
		return "", fmt.Errorf("loading configuration %d for diff: %w", fromID, err)
	}
	to, err := c.store.GetConfiguration(ctx, toID)
	if err != nil {
		return "", fmt.Errorf("loading configuration %d for diff: %w", toID, err)
	}

	fromLabel := fmt.Sprintf("device_configurations/%d", from.ID)
	toLabel := fmt.Sprintf("device_configurations/%d", to.ID)
	if to.RetrievedAt.Before(from.RetrievedAt) {
		from, to = to, from
		fromLabel, toLabel = toLabel, fromLabel
	}

	udiff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(from.ConfigText),
		B:        difflib.SplitLines(to.ConfigText),
		FromFile: fromLabel,
		ToFile:   toLabel,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(udiff)
	if err != nil {
		return "", fmt.Errorf("rendering unified diff: %w", err)
	}
	return strings.TrimRight(text, "\n"), nil
}
