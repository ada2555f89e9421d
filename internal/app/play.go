package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"dataninja/internal/backend"
	"dataninja/internal/grading"
	"dataninja/internal/sandbox"
	"dataninja/internal/session"
	"dataninja/internal/ui"
)

// Play drives one training from sign-in until the player quits.
func Play(ctx context.Context, a *App, p ui.Prompter, r *ui.Renderer, out io.Writer) error {
	if err := signIn(ctx, a, p, r, out); err != nil {
		if errors.Is(err, ui.ErrCancelled) {
			return nil
		}
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	pack := a.Pack()
	writeLine(out, r.RenderBriefing(pack.Name, pack.DescriptionMD))
	writeLine(out, r.RenderMissions(a.State().Missions))
	showCurrent(a, r, out)

	drafts := map[string]string{}
	for {
		if ctx.Err() != nil {
			return nil
		}
		drainEvents(a, r, out)
		st := a.State()
		writeLine(out, r.RenderHeader(st))
		action, err := p.ChooseAction(st)
		if err != nil {
			return err
		}
		drainEvents(a, r, out)

		switch action {
		case ui.ActionQuit:
			return nil
		case ui.ActionRun:
			playRun(ctx, a, p, r, out, st, drafts)
		case ui.ActionCheck:
			playCheck(ctx, a, r, out, st)
		case ui.ActionBriefing:
			showCurrent(a, r, out)
		case ui.ActionHint:
			if hint, ok := a.Hint(st.MissionID); ok {
				writeLine(out, r.RenderInfo("💡 "+hint))
			} else {
				writeLine(out, r.RenderInfo("No more hints for this mission."))
			}
		case ui.ActionSubmit:
			playSubmit(ctx, a, p, r, out, st)
		case ui.ActionReset:
			ok, err := p.Confirm("Reset the training? You will lose all progress!", "Score, unlocked missions and the clock start over.")
			if err != nil || !ok {
				continue
			}
			if err := a.Reset(ctx); err != nil {
				return err
			}
			clear(drafts)
			writeLine(out, r.RenderInfo("Training restarted."))
			writeLine(out, r.RenderMissions(a.State().Missions))
			showCurrent(a, r, out)
		}
	}
}

func signIn(ctx context.Context, a *App, p ui.Prompter, r *ui.Renderer, out io.Writer) error {
	for {
		code, err := p.SignInCode()
		if err != nil {
			return err
		}
		err = a.SignIn(ctx, code)
		if err == nil {
			return nil
		}
		var rej *backend.RejectedError
		switch {
		case errors.Is(err, backend.ErrAlreadySubmitted):
			writeLine(out, r.RenderError("This code has already been used. Contact your instructor."))
		case errors.Is(err, backend.ErrInvalidCode):
			writeLine(out, r.RenderError("Code not recognized. Check with instructor."))
		case errors.Is(err, backend.ErrNetwork):
			writeLine(out, r.RenderError("Network error. Could not reach server."))
		case errors.As(err, &rej):
			writeLine(out, r.RenderError(fmt.Sprintf("Sign-in failed (%s).", rej.Code)))
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			writeLine(out, r.RenderError("Network error. Could not reach server."))
		}
	}
}

func showCurrent(a *App, r *ui.Renderer, out io.Writer) {
	st := a.State()
	if st.MissionID == "" {
		return
	}
	m, _ := a.Pack().Mission(st.MissionID)
	writeLine(out, r.RenderBriefing(fmt.Sprintf("%s · %s (%d pts)", m.MissionID, m.Title, m.Points), m.BriefingMD))
}

func playRun(ctx context.Context, a *App, p ui.Prompter, r *ui.Renderer, out io.Writer, st ui.PlayingState, drafts map[string]string) {
	code, ok := drafts[st.MissionID]
	if !ok {
		code = a.Draft(st.MissionID)
	}
	edited, err := p.EditCode(fmt.Sprintf("%s · %s", st.MissionID, st.Title), code)
	if err != nil {
		return
	}
	drafts[st.MissionID] = edited

	res, err := a.Run(ctx, st.MissionID, edited)
	if err != nil {
		writeLine(out, r.RenderError(describeError(err)))
		return
	}
	writeLine(out, r.RenderOutput(ui.OutputState{
		Text:       res.Result.Text,
		Display:    res.Result.Display,
		Error:      res.Result.Error,
		ImagePath:  res.ImagePath,
		TickLabels: res.Result.TickLabels,
		Duration:   res.Result.Duration,
	}))
}

func playCheck(ctx context.Context, a *App, r *ui.Renderer, out io.Writer, st ui.PlayingState) {
	res, err := a.Check(ctx, st.MissionID)
	if err != nil {
		writeLine(out, r.RenderError(describeError(err)))
		return
	}
	m, _ := a.Pack().Mission(st.MissionID)
	writeLine(out, r.RenderCheck(checkState(m.Title, m.Points, res.Result)))
	if res.Finished {
		writeLine(out, r.RenderComplete(res.Score, a.Pack().MaxScore()))
		return
	}
	if res.NewlyPassed {
		showCurrent(a, r, out)
	}
}

func checkState(title string, points int, res grading.Result) ui.CheckState {
	cs := ui.CheckState{Passed: res.Passed, MissionName: title, Points: points}
	for _, c := range res.Checks {
		cs.Checks = append(cs.Checks, ui.CheckResultRow{ID: c.ID, Passed: c.Passed, Message: c.Message})
	}
	return cs
}

func playSubmit(ctx context.Context, a *App, p ui.Prompter, r *ui.Renderer, out io.Writer, st ui.PlayingState) {
	if st.Score < st.MaxScore {
		ok, err := p.Confirm(fmt.Sprintf("You have %d/%d points. Submit anyway?", st.Score, st.MaxScore), "Only one submission counts.")
		if err != nil || !ok {
			return
		}
	}
	report, err := a.Submit(ctx)
	if err != nil {
		writeLine(out, r.RenderError(describeError(err)))
		return
	}
	msg := submitMessage(report, a.cfg.Backend.SubmitLevel)
	if report.Outcome.Closes() {
		writeLine(out, r.RenderInfo(msg))
	} else {
		writeLine(out, r.RenderError(msg))
	}
}

func submitMessage(rep SubmitReport, level int) string {
	if rep.Auto {
		switch rep.Outcome {
		case OutcomeAccepted:
			return "Time up! Score submitted automatically."
		case OutcomeSkipped:
			return "Time up! Score saved locally."
		case OutcomeAlreadySubmitted:
			return "Time up! Your score was already submitted."
		case OutcomeNetworkError:
			return "Network error submitting score."
		default:
			return "Could not submit score."
		}
	}
	switch rep.Outcome {
	case OutcomeAccepted:
		return "Submitted. Nice work!"
	case OutcomeAlreadySubmitted:
		return fmt.Sprintf("Already submitted for Level %d.", level)
	case OutcomeInvalidCode:
		return "Code not recognized or disabled. Contact instructor."
	case OutcomeNetworkError:
		return "Network error. Try again."
	case OutcomeBusy:
		return "A submission is already in progress."
	case OutcomeSkipped:
		return "Offline: score saved locally."
	default:
		return "Submit failed. Contact instructor."
	}
}

func drainEvents(a *App, r *ui.Renderer, out io.Writer) {
	for {
		select {
		case ev := <-a.Events():
			switch ev.Kind {
			case EventWarning:
				writeLine(out, r.RenderWarning(ev.Remaining))
				writeLine(out, r.RenderInfo("Finish up your missions."))
			case EventExpired:
				writeLine(out, r.RenderExpired(ev.Snapshot.Score, ev.Snapshot.MaxScore))
				if ev.Submit != nil {
					rep := *ev.Submit
					if rep.Outcome.Closes() {
						writeLine(out, r.RenderInfo(submitMessage(rep, a.cfg.Backend.SubmitLevel)))
					} else {
						writeLine(out, r.RenderError(submitMessage(rep, a.cfg.Backend.SubmitLevel)))
					}
				}
			}
		default:
			return
		}
	}
}

func describeError(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionOver):
		return "Training is over. Submit your score or restart."
	case errors.Is(err, session.ErrLocked):
		return "That mission is still locked."
	case errors.Is(err, sandbox.ErrRunTimeout):
		return "Code took too long and was stopped. Restart training to continue."
	case errors.Is(err, sandbox.ErrKernelDead):
		return "Python stopped. Restart training to continue."
	case errors.Is(err, ErrNotStarted):
		return "Training has not started."
	default:
		return err.Error()
	}
}

func writeLine(w io.Writer, s string) {
	if s == "" {
		return
	}
	_, _ = fmt.Fprintln(w, s)
}
