package audit

import (
	"context"

	"chainspace.org/internal/space"
)

// Recorder adapts the audit log to the space activity stream, so every
// committed operation leaves a correlated audit line.
type Recorder struct{}

var _ space.ActivityRecorder = Recorder{}

func (Recorder) Record(ctx context.Context, resourceID, resourceKind string, action space.Action, tp space.Timepoint) error {
	LogEvent(ctx, "space.activity", map[string]any{
		"resource":      resourceID,
		"resource_kind": resourceKind,
		"action":        string(action),
		"seq":           tp.Seq,
		"at":            tp.At.UTC(),
	})
	return nil
}
