// Package displays asks the compositor which outputs are current.
package displays

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

type Display struct {
	Name        string `json:"name"`
	Model       string `json:"model"`
	Description string `json:"description"`
}

type Helper interface {
	// CurrentDisplays lists outputs, most relevant first.
	CurrentDisplays(ctx context.Context) ([]Display, error)
}

// Command runs an external program that prints a JSON array of displays.
type Command struct {
	Path string
	Args []string
}

// Wmctl is the default helper.
func Wmctl() *Command {
	return &Command{Path: "wmctl", Args: []string{"list-outputs", "--json"}}
}

func (c *Command) CurrentDisplays(ctx context.Context) ([]Display, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", c.Path, err, strings.TrimSpace(stderr.String()))
	}
	var res []Display
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, fmt.Errorf("failed to parse %s output: %w", c.Path, err)
	}
	return res, nil
}

// Static is a fixed list of displays.
type Static []Display

func (s Static) CurrentDisplays(context.Context) ([]Display, error) {
	return s, nil
}
