package prompts

import (
	"fmt"
	"strings"
)

// Placeholders substituted by Render.
const (
	DisplayName = "DISPLAY_NAME"
	Context     = "CONTEXT"
	Schema      = "SCHEMA"
	MaxRows     = "MAX_ROWS"
	MaxSteps    = "MAX_STEPS"
	Problems    = "PROBLEMS"
)

// Prompts contains the model prompts loaded from embedded files.
type Prompts struct {
	Fast       string // single-shot SQL generation
	ReAct      string // tool-using agent
	ReActNudge string // sent when the agent replies without calling a tool
	Quick      string // one-paragraph insights
	Pro        string // four-section insights report
	ProRetry   string // corrective note for a report that failed validation
}

// Load loads all prompts from the embedded filesystem.
func Load() (*Prompts, error) {
	p := &Prompts{}

	var err error
	if p.Fast, err = loadPrompt("FAST.md"); err != nil {
		return nil, fmt.Errorf("failed to load FAST: %w", err)
	}
	if p.ReAct, err = loadPrompt("REACT.md"); err != nil {
		return nil, fmt.Errorf("failed to load REACT: %w", err)
	}
	if p.ReActNudge, err = loadPrompt("REACT_NUDGE.md"); err != nil {
		return nil, fmt.Errorf("failed to load REACT_NUDGE: %w", err)
	}
	if p.Quick, err = loadPrompt("QUICK.md"); err != nil {
		return nil, fmt.Errorf("failed to load QUICK: %w", err)
	}
	if p.Pro, err = loadPrompt("PRO.md"); err != nil {
		return nil, fmt.Errorf("failed to load PRO: %w", err)
	}
	if p.ProRetry, err = loadPrompt("PRO_RETRY.md"); err != nil {
		return nil, fmt.Errorf("failed to load PRO_RETRY: %w", err)
	}

	return p, nil
}

// Render replaces each {{KEY}} in tmpl with vars[KEY]. Placeholders without a value
// are left in place.
func Render(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "{{"+key+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func loadPrompt(path string) (string, error) {
	data, err := PromptsFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
