package grading

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"dataninja/internal/sandbox"
)

type evaluatorFunc func(context.Context, sandbox.Kernel, Request, CheckSpec) (evaluation, error)

type DefaultGrader struct {
	registry map[string]evaluatorFunc
}

func NewGrader() *DefaultGrader {
	g := &DefaultGrader{registry: map[string]evaluatorFunc{}}
	g.registry["expr_true"] = g.evalExprTrue
	g.registry["expr_contains"] = g.evalExprContains
	g.registry["plot_ticks_equal"] = g.evalPlotTicksEqual
	return g
}

// Grade runs every check of the request against the live kernel. A mission
// passes only when all of its checks pass. Errors are returned only when the
// kernel itself is unusable; a failing user expression is a failed check.
func (g *DefaultGrader) Grade(ctx context.Context, k sandbox.Kernel, req Request) (Result, error) {
	if k == nil {
		return Result{}, errors.New("grade: no kernel")
	}
	if req.FinishedAt.IsZero() {
		req.FinishedAt = time.Now()
	}
	if req.StartedAt.IsZero() {
		req.StartedAt = req.FinishedAt
	}

	result := Result{
		Kind:          ResultKind,
		SchemaVersion: SchemaVersion,
		AppVersion:    req.AppVersion,
		PackID:        req.PackID,
		PackVersion:   req.PackVersion,
		MissionID:     req.MissionID,
		Run: RunInfo{
			SessionID:        req.SessionID,
			Attempt:          max(1, req.Attempt),
			StartedAtUnixMS:  req.StartedAt.UnixMilli(),
			FinishedAtUnixMS: req.FinishedAt.UnixMilli(),
			DurationMS:       max(0, req.FinishedAt.Sub(req.StartedAt).Milliseconds()),
		},
	}

	passed := len(req.Checks) > 0
	for _, check := range req.Checks {
		eval, err := g.evaluateCheck(ctx, k, req, check)
		if err != nil {
			return Result{}, fmt.Errorf("check %s: %w", check.ID, err)
		}
		msg := eval.Message
		if !eval.Passed && check.OnFailMessage != "" {
			msg = check.OnFailMessage
		}
		if eval.Passed && check.OnPassMessage != "" {
			msg = check.OnPassMessage
		}
		cr := CheckResult{
			ID:      check.ID,
			Type:    check.Type,
			Passed:  eval.Passed,
			Summary: eval.Summary,
			Message: msg,
		}
		if eval.Artifact != nil {
			result.Artifacts = append(result.Artifacts, *eval.Artifact)
			cr.Artifacts = append(cr.Artifacts, ArtifactRef{Kind: eval.Artifact.Kind, Ref: eval.Artifact.Ref})
		}
		if !eval.Passed {
			passed = false
		}
		result.Checks = append(result.Checks, cr)
	}

	result.Passed = passed
	if passed {
		result.PointsAwarded = req.Points
	}
	return result, nil
}

func (g *DefaultGrader) evaluateCheck(ctx context.Context, k sandbox.Kernel, req Request, check CheckSpec) (evaluation, error) {
	evaluator, ok := g.registry[check.Type]
	if !ok {
		return evaluation{Passed: false, Summary: "unknown check", Message: "unknown check type: " + check.Type}, nil
	}
	return evaluator(ctx, k, req, check)
}

func (g *DefaultGrader) evalExprTrue(ctx context.Context, k sandbox.Kernel, _ Request, check CheckSpec) (evaluation, error) {
	v, ev, err := evalUser(ctx, k, check.Expr)
	if ev != nil || err != nil {
		return derefEval(ev), err
	}
	if v.Truthy {
		return evaluation{Passed: true, Summary: "expression true", Message: "ok"}, nil
	}
	return evaluation{Passed: false, Summary: "expression false", Message: fmt.Sprintf("%s is not true yet", check.Expr)}, nil
}

func (g *DefaultGrader) evalExprContains(ctx context.Context, k sandbox.Kernel, _ Request, check CheckSpec) (evaluation, error) {
	v, ev, err := evalUser(ctx, k, check.Expr)
	if ev != nil || err != nil {
		return derefEval(ev), err
	}
	if strings.Contains(v.Repr, check.Expected) {
		return evaluation{Passed: true, Summary: "value matches", Message: "ok"}, nil
	}
	return evaluation{
		Passed:  false,
		Summary: "value mismatch",
		Message: fmt.Sprintf("expected %s to contain %q, got %q", check.Expr, check.Expected, truncate(v.Repr, 80)),
	}, nil
}

func (g *DefaultGrader) evalPlotTicksEqual(ctx context.Context, k sandbox.Kernel, req Request, check CheckSpec) (evaluation, error) {
	if req.LastRun == nil || !req.LastRun.HasImage() {
		return evaluation{Passed: false, Summary: "no chart", Message: "run code that draws a chart first"}, nil
	}
	ticks := req.LastRun.TickLabels
	if check.Count > 0 && len(ticks) != check.Count {
		return evaluation{
			Passed:  false,
			Summary: "tick count mismatch",
			Message: fmt.Sprintf("expected %d bars on the chart, got %d", check.Count, len(ticks)),
		}, nil
	}

	v, ev, err := evalUser(ctx, k, check.ExpectedExpr)
	if ev != nil || err != nil {
		return derefEval(ev), err
	}
	expected, err := v.Strings()
	if err != nil {
		return evaluation{Passed: false, Summary: "bad expected value", Message: err.Error()}, nil
	}
	if check.Count > 0 && len(expected) > check.Count {
		expected = expected[:check.Count]
	}
	if equalStrings(expected, ticks) {
		return evaluation{Passed: true, Summary: "chart labels match", Message: "ok"}, nil
	}
	artifact := Artifact{
		Ref:         "ticks_" + safeID(check.ID),
		Kind:        "unified_diff",
		Title:       "chart labels vs expected",
		TextPreview: buildUnifiedDiff(strings.Join(expected, "\n"), strings.Join(ticks, "\n")),
	}
	return evaluation{Passed: false, Summary: "chart labels mismatch", Message: "chart labels are not the expected ranking", Artifact: &artifact}, nil
}

// evalUser evaluates expr and splits the outcome three ways: a value, a
// failed-check evaluation when the expression raised, or a hard error when
// the kernel could not answer.
func evalUser(ctx context.Context, k sandbox.Kernel, expr string) (sandbox.Value, *evaluation, error) {
	v, err := k.Eval(ctx, expr)
	if err == nil {
		return v, nil, nil
	}
	if errors.Is(err, sandbox.ErrEvalFailed) {
		msg := strings.TrimPrefix(err.Error(), sandbox.ErrEvalFailed.Error()+": ")
		return sandbox.Value{}, &evaluation{Passed: false, Summary: "expression raised", Message: msg}, nil
	}
	return sandbox.Value{}, nil, err
}

func derefEval(ev *evaluation) evaluation {
	if ev == nil {
		return evaluation{}
	}
	return *ev
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func buildUnifiedDiff(expected, actual string) string {
	exp := strings.Split(expected, "\n")
	act := strings.Split(actual, "\n")
	var b strings.Builder
	b.WriteString("--- expected\n+++ actual\n")
	for i := 0; i < max(len(exp), len(act)); i++ {
		var e, a string
		if i < len(exp) {
			e = exp[i]
		}
		if i < len(act) {
			a = act[i]
		}
		if e == a {
			b.WriteString(" " + e + "\n")
			continue
		}
		if e != "" {
			b.WriteString("-" + e + "\n")
		}
		if a != "" {
			b.WriteString("+" + a + "\n")
		}
	}
	return b.String()
}

var unsafeIDChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

func safeID(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "artifact"
	}
	return unsafeIDChars.ReplaceAllString(s, "_")
}
