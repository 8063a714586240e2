package imaging

import (
	"fmt"
	"log/slog"
	"time"
)

// Preview runs a chain of commands over captured bytes. The chain always
// starts with a PNG conversion so later commands see PNG input.
type Preview struct {
	commands []Command
}

// NewPreview builds the chain from configuration using registry.
func NewPreview(registry *CommandRegistry, configs []CommandConfig) (*Preview, error) {
	converter, err := NewPngConverterCommand(nil)
	if err != nil {
		return nil, err
	}
	commands := []Command{converter}
	for i, config := range configs {
		command, err := registry.Create(config.Name, config.Params)
		if err != nil {
			return nil, fmt.Errorf("failed to create command at index %d (%s): %w", i, config.Name, err)
		}
		commands = append(commands, command)
	}
	return &Preview{commands: commands}, nil
}

// Names lists the commands in execution order.
func (p *Preview) Names() []string {
	names := make([]string, len(p.commands))
	for i, c := range p.commands {
		names[i] = c.Name()
	}
	return names
}

func (p *Preview) Execute(imageData []byte) ([]byte, error) {
	start := time.Now()
	current := imageData
	for idx, command := range p.commands {
		processed, err := command.Execute(current)
		if err != nil {
			slog.Error("preview: command execution failed",
				"index", idx,
				"command_name", command.Name(),
				"error", err,
				"input_size_bytes", len(current))
			return nil, fmt.Errorf("command %s (index %d) failed: %w", command.Name(), idx, err)
		}
		current = processed
	}
	slog.Debug("preview: pipeline completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"command_count", len(p.commands),
		"input_size_bytes", len(imageData),
		"output_size_bytes", len(current))
	return current, nil
}
