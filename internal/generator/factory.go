package generator

import (
	"fmt"
	"time"

	"tbsync/internal/config"
	"tbsync/internal/repair"
)

// NewGeneratorFromConfig creates the configured generator. patchFiles feeds
// the file generator and is ignored by the others.
func NewGeneratorFromConfig(cfg config.GeneratorConfig, patchFiles []string) (repair.Generator, error) {
	switch cfg.Type {
	case "", "file":
		if len(patchFiles) == 0 {
			return nil, fmt.Errorf("file generator needs at least one patch file")
		}
		return NewFileGenerator(patchFiles...), nil
	case "command":
		g, err := NewCommandGenerator(cfg.Command, time.Duration(cfg.TimeoutSeconds)*time.Second)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown generator type: %q", cfg.Type)
	}
}
