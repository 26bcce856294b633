// Package dsl holds the narrow, Go-shaped interface the core consumes
// from the external DSL layer: test specifications are assumed already
// parsed elsewhere, and the core only needs an Executor to run one
// spec's steps against an acquired browser context.
package dsl

import (
	"context"
	"time"

	"github.com/Zeeeepa/browserqa/internal/pool"
	"github.com/Zeeeepa/browserqa/internal/types"
)

// ActionKind names one step of a TestSpec.
type ActionKind string

const (
	ActionNavigate   ActionKind = "navigate"
	ActionClick      ActionKind = "click"
	ActionType       ActionKind = "type"
	ActionWait       ActionKind = "wait"
	ActionAssertText ActionKind = "assert_text"
	ActionEvaluate   ActionKind = "evaluate"
	ActionScreenshot ActionKind = "screenshot"
)

// Action is one executable step of a TestSpec.
type Action struct {
	Kind     ActionKind    `json:"kind"`
	Selector string        `json:"selector,omitempty"`
	Value    string        `json:"value,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// TestSpec is one test: a named sequence of steps with substitutable
// variables and an overall timeout.
type TestSpec struct {
	Name      string            `json:"name"`
	Steps     []Action          `json:"steps"`
	Variables map[string]string `json:"variables,omitempty"`
	Timeout   time.Duration     `json:"timeout,omitempty"`
}

// TestSuite groups TestSpecs with a parallel-execution policy.
type TestSuite struct {
	Name              string     `json:"name"`
	Tests             []TestSpec `json:"tests"`
	ParallelExecution bool       `json:"parallel_execution"`
	FailFast          bool       `json:"fail_fast"`
}

// ArtifactSink is passed through to the Executor opaquely; the core
// never reads it back.
type ArtifactSink interface {
	Dir() string
	ScreenshotOnFailure() bool
}

// Executor runs one TestSpec's steps against an already-acquired
// browser context and reports the outcome.
type Executor interface {
	Execute(ctx context.Context, bctx *pool.Context, spec TestSpec) (*types.TestRunResult, error)
}
