package dsl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Zeeeepa/browserqa/internal/healing"
	"github.com/Zeeeepa/browserqa/internal/pool"
	"github.com/Zeeeepa/browserqa/internal/types"
)

// Prober is the transport surface StubExecutor drives actions through.
// Satisfied structurally by *transport.Transport.
type Prober interface {
	ExecuteTool(ctx context.Context, verb, contextID string, params map[string]interface{}) (interface{}, error)
}

// StubExecutor runs a TestSpec by mapping each Action directly onto a
// transport tool call. It exists for tests and local CLI use in place
// of the full external DSL engine; real deployments may supply any
// other Executor implementation.
type StubExecutor struct {
	prober Prober
	healer *healing.Engine
}

// NewStubExecutor builds a StubExecutor. healer may be nil, in which
// case a selector that fails to resolve is recorded as a plain failed
// step with no healing attempt.
func NewStubExecutor(prober Prober, healer *healing.Engine) *StubExecutor {
	return &StubExecutor{prober: prober, healer: healer}
}

func (e *StubExecutor) Execute(ctx context.Context, bctx *pool.Context, spec TestSpec) (*types.TestRunResult, error) {
	result := &types.TestRunResult{
		ID:        uuid.NewString(),
		TestName:  spec.Name,
		Status:    types.TestPassed,
		StartedAt: time.Now(),
	}

	for i, step := range spec.Steps {
		stepResult := e.runStep(ctx, bctx.ID.String(), i, step, spec.Variables)
		result.Steps = append(result.Steps, stepResult)
		if stepResult.Status == types.TestFailed {
			result.Status = types.TestFailed
			result.Error = stepResult.Error
			break
		}
	}

	result.Duration = time.Since(result.StartedAt)
	return result, nil
}

func (e *StubExecutor) runStep(ctx context.Context, contextID string, index int, step Action, vars map[string]string) types.StepResult {
	start := time.Now()
	selector := substitute(step.Selector, vars)
	value := substitute(step.Value, vars)

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	healed, err := e.perform(stepCtx, contextID, step.Kind, selector, value)

	result := types.StepResult{
		Index:    index,
		Action:   string(step.Kind),
		Status:   types.TestPassed,
		Duration: time.Since(start),
		Healed:   healed,
	}
	if err != nil {
		result.Status = types.TestFailed
		result.Error = err.Error()
	}
	return result
}

// perform dispatches one action, attempting a self-heal on the
// selector if it fails to resolve and a healer is configured.
func (e *StubExecutor) perform(ctx context.Context, contextID string, kind ActionKind, selector, value string) (healed bool, err error) {
	params := map[string]interface{}{}
	verb := string(kind)

	switch kind {
	case ActionNavigate:
		params["url"] = value
	case ActionWait:
		params["timeoutMs"] = value
	case ActionAssertText:
		verb = "evaluate"
		params["script"] = fmt.Sprintf("document.body.innerText.includes(%q)", value)
	case ActionEvaluate:
		params["script"] = value
	case ActionScreenshot:
		// no params; the server captures the current viewport.
	default:
		params["selector"] = selector
		if kind == ActionType {
			params["text"] = value
		}
	}

	_, err = e.prober.ExecuteTool(ctx, verb, contextID, params)
	if err == nil || selector == "" || e.healer == nil {
		return false, err
	}

	healResult, healErr := e.healer.Heal(ctx, e.prober, stubDomain, selector, contextID)
	if healErr != nil || healResult == nil || !healResult.Success {
		return false, err
	}

	params["selector"] = healResult.Selector
	if _, retryErr := e.prober.ExecuteTool(ctx, verb, contextID, params); retryErr != nil {
		return false, err
	}
	return true, nil
}

// stubDomain is the fixed healing-history bucket StubExecutor heals
// against, since a bare DSL step carries no navigated-to host of its
// own to key history by.
const stubDomain = "dsl"

// substitute expands ${name} references against vars. Unknown
// references are left verbatim.
func substitute(s string, vars map[string]string) string {
	if s == "" || len(vars) == 0 {
		return s
	}
	for k, v := range vars {
		s = strings.ReplaceAll(s, "${"+k+"}", v)
	}
	return s
}
