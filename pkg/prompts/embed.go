package prompts

import "embed"

//go:embed *.md
var PromptsFS embed.FS
