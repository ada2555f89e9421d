package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
)

// ErrCancelled means the player backed out of a form.
var ErrCancelled = errors.New("cancelled")

var actionLabels = map[Action]string{
	ActionRun:      "Run code",
	ActionCheck:    "Check mission",
	ActionBriefing: "Show briefing",
	ActionHint:     "Show a hint",
	ActionSubmit:   "Submit score",
	ActionReset:    "Restart training",
	ActionQuit:     "Quit",
}

// ActionsFor lists what the player may do in a state, in menu order.
func ActionsFor(s PlayingState) []Action {
	var out []Action
	over := s.Phase == "finished" || s.Phase == "expired"
	if !over && s.MissionID != "" {
		out = append(out, ActionRun, ActionCheck, ActionBriefing, ActionHint)
	}
	if !s.Submitted {
		out = append(out, ActionSubmit)
	}
	return append(out, ActionReset, ActionQuit)
}

type HuhPrompter struct {
	accessible bool
}

func NewHuhPrompter(accessible bool) *HuhPrompter {
	return &HuhPrompter{accessible: accessible}
}

func (p *HuhPrompter) run(fields ...huh.Field) error {
	err := huh.NewForm(huh.NewGroup(fields...)).WithAccessible(p.accessible).Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return ErrCancelled
	}
	return err
}

func (p *HuhPrompter) SignInCode() (string, error) {
	var code string
	err := p.run(huh.NewInput().
		Title("Sign-in code").
		Description("Paste the code you were given to start training.").
		Value(&code).
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("enter a code")
			}
			return nil
		}))
	return strings.TrimSpace(code), err
}

func (p *HuhPrompter) ChooseAction(s PlayingState) (Action, error) {
	actions := ActionsFor(s)
	opts := make([]huh.Option[Action], 0, len(actions))
	for _, a := range actions {
		opts = append(opts, huh.NewOption(actionLabels[a], a))
	}
	title := "Training over"
	if s.MissionID != "" && s.Phase == "active" {
		title = fmt.Sprintf("%s · %s", s.MissionID, s.Title)
	}
	choice := actions[0]
	err := p.run(huh.NewSelect[Action]().Title(title).Options(opts...).Value(&choice))
	if errors.Is(err, ErrCancelled) {
		return ActionQuit, nil
	}
	return choice, err
}

func (p *HuhPrompter) EditCode(title, initial string) (string, error) {
	code := initial
	err := p.run(huh.NewText().
		Title(title).
		Description("Python with pandas. The last expression is displayed.").
		Lines(12).
		CharLimit(0).
		ShowLineNumbers(true).
		Value(&code))
	return code, err
}

func (p *HuhPrompter) Confirm(title, description string) (bool, error) {
	ok := false
	err := p.run(huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok))
	if errors.Is(err, ErrCancelled) {
		return false, nil
	}
	return ok, err
}
