package engine

import (
	"context"
	"fmt"
	"strings"
)

// EnsureReady checks that the Engine is reachable and that every required
// model is available locally. Models are not pulled automatically; indexing
// a few hundred resumes against a half-downloaded model is worse than
// telling the operator what to run.
func EnsureReady(ctx context.Context, e Engine, models ...string) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("inference engine is not reachable; is the Ollama server running?")
	}

	seen := make(map[string]bool, len(models))
	var missing []string
	for _, model := range models {
		if model == "" || seen[model] {
			continue
		}
		seen[model] = true
		if !e.HasModel(ctx, model) {
			missing = append(missing, model)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing model(s) %s; pull them first (e.g. `ollama pull %s`)",
			strings.Join(missing, ", "), missing[0])
	}
	return nil
}
