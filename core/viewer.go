package core

import (
	"os/exec"
	"path/filepath"
)

// Viewer shows a cached file to the user.
type Viewer interface {
	View(path string) error
}

type ViewerFunc func(path string) error

func (f ViewerFunc) View(path string) error {
	return f(path)
}

// CommandViewer opens files with an external program, xdg-open by default.
// It does not wait for the program to exit.
type CommandViewer struct {
	Command string
	Args    []string
}

func (v CommandViewer) View(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	command := v.Command
	if command == "" {
		command = "xdg-open"
	}
	cmd := exec.Command(command, append(append([]string{}, v.Args...), abs)...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}
