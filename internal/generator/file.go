// Package generator provides repair.Generator implementations that read
// edit proposals from outside the process.
package generator

import (
	"context"
	"fmt"
	"os"

	"tbsync/internal/repair"
)

// FileGenerator proposes the patch documents at Paths, one per attempt.
// Once every file has been proposed it declines, ending the repair loop.
type FileGenerator struct {
	Paths []string
}

// NewFileGenerator creates a FileGenerator over paths.
func NewFileGenerator(paths ...string) *FileGenerator {
	return &FileGenerator{Paths: paths}
}

// Generate reads the patch file for req.Attempt.
func (g *FileGenerator) Generate(_ context.Context, req repair.Request) (repair.Proposal, error) {
	i := req.Attempt - 1
	if i < 0 {
		i = 0
	}
	if i >= len(g.Paths) {
		return repair.Proposal{Declined: true, Reason: fmt.Sprintf("no patch file left after %d", len(g.Paths))}, nil
	}
	data, err := os.ReadFile(g.Paths[i])
	if err != nil {
		return repair.Proposal{}, fmt.Errorf("reading patch file: %w", err)
	}
	return repair.Proposal{Document: data}, nil
}

var _ repair.Generator = (*FileGenerator)(nil)
