package generator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tbsync/internal/model"
	"tbsync/internal/repair"
)

// CommandGenerator runs an external program for every attempt. The request
// is written to its stdin as a YAML document; the program answers on stdout
// with a patch document, or with `decline: <reason>` to give up.
type CommandGenerator struct {
	argv    []string
	timeout time.Duration
}

// NewCommandGenerator creates a CommandGenerator running argv. A zero
// timeout bounds each run only by the request context.
func NewCommandGenerator(argv []string, timeout time.Duration) (*CommandGenerator, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, fmt.Errorf("generator command is empty")
	}
	return &CommandGenerator{argv: argv, timeout: timeout}, nil
}

// RequestDocument is the stdin form of a repair.Request.
type RequestDocument struct {
	Attempt     int                 `yaml:"attempt"`
	Feedback    string              `yaml:"feedback,omitempty"`
	Constraints []string            `yaml:"constraints,omitempty"`
	Plan        model.PlanDocument  `yaml:"plan"`
	Violations  []ViolationDocument `yaml:"violations,omitempty"`
}

// ViolationDocument is one rejected-proposal reason.
type ViolationDocument struct {
	Kind    string   `yaml:"kind"`
	Op      *int     `yaml:"op,omitempty"`
	Events  []string `yaml:"events,omitempty"`
	Message string   `yaml:"message"`
}

// NewRequestDocument converts req for the command's stdin.
func NewRequestDocument(req repair.Request) RequestDocument {
	doc := RequestDocument{
		Attempt:     req.Attempt,
		Feedback:    req.Feedback,
		Constraints: req.Constraints,
		Plan:        model.DocumentFromPlan(req.Plan),
	}
	for _, v := range req.PriorViolations {
		vd := ViolationDocument{Kind: string(v.Kind), Events: v.EventIDs, Message: v.Message}
		if v.OpIndex >= 0 {
			op := v.OpIndex
			vd.Op = &op
		}
		doc.Violations = append(doc.Violations, vd)
	}
	return doc
}

type declineDocument struct {
	Decline string `yaml:"decline"`
}

// Generate runs the command once.
func (g *CommandGenerator) Generate(ctx context.Context, req repair.Request) (repair.Proposal, error) {
	input, err := yaml.Marshal(NewRequestDocument(req))
	if err != nil {
		return repair.Proposal{}, fmt.Errorf("encoding generator request: %w", err)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, g.argv[0], g.argv[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return repair.Proposal{}, fmt.Errorf("running generator %s: %w", g.argv[0], ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return repair.Proposal{}, fmt.Errorf("generator %s exited with %d: %s", g.argv[0], exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return repair.Proposal{}, fmt.Errorf("running generator %s: %w", g.argv[0], err)
	}

	out := stdout.Bytes()
	var decline declineDocument
	if yaml.Unmarshal(out, &decline) == nil && decline.Decline != "" {
		return repair.Proposal{Declined: true, Reason: decline.Decline}, nil
	}
	return repair.Proposal{Document: out}, nil
}

var _ repair.Generator = (*CommandGenerator)(nil)
