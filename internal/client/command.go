package client

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type CommandKind int

const (
	CommandPlay CommandKind = iota
	CommandPause
	CommandSeek
	CommandSwitchURL
	CommandLeave
	CommandStatus
)

// Command is a local user action on the watcher's player or session.
type Command struct {
	Kind     CommandKind
	Position float64
	MediaRef string
}

var ErrEmptyCommand = errors.New("empty command")

// ParseCommand parses one input line: play, pause, seek <seconds>,
// url <media-ref>, status or leave.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, ErrEmptyCommand
	}

	switch strings.ToLower(fields[0]) {
	case "play":
		return Command{Kind: CommandPlay}, nil
	case "pause":
		return Command{Kind: CommandPause}, nil
	case "status":
		return Command{Kind: CommandStatus}, nil
	case "leave", "quit", "exit":
		return Command{Kind: CommandLeave}, nil
	case "seek":
		if len(fields) != 2 {
			return Command{}, fmt.Errorf("usage: seek <seconds>")
		}
		pos, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || pos < 0 {
			return Command{}, fmt.Errorf("invalid position %q", fields[1])
		}
		return Command{Kind: CommandSeek, Position: pos}, nil
	case "url":
		if len(fields) != 2 {
			return Command{}, fmt.Errorf("usage: url <media-ref>")
		}
		return Command{Kind: CommandSwitchURL, MediaRef: fields[1]}, nil
	default:
		return Command{}, fmt.Errorf("unknown command %q", fields[0])
	}
}
