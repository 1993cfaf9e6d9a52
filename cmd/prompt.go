package cmd

import (
	"errors"
	"strings"

	"github.com/charmbracelet/huh"
)

func runField(field huh.Field) error {
	return huh.NewForm(huh.NewGroup(field)).WithShowHelp(true).Run()
}

// promptSecret asks for a hidden value. Unless optional is set an empty
// answer is rejected in the form itself. The result is trimmed.
func promptSecret(title, description string, optional bool) (string, error) {
	var value string
	inp := huh.NewInput().
		Title(title).
		Description(description).
		EchoMode(huh.EchoModePassword).
		Value(&value)
	if !optional {
		inp = inp.Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("a value is required")
			}
			return nil
		})
	}

	if err := runField(inp); err != nil {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

func promptConfirm(title string) (bool, error) {
	var ok bool
	c := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&ok)
	if err := runField(c); err != nil {
		return false, err
	}
	return ok, nil
}
