package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dungeonfaster/dfsync/pkg/protocol"
)

type commandKind uint8

const (
	cmdNone commandKind = iota
	cmdPosition
	cmdIndex
	cmdFile
	cmdWho
	cmdQuit
	cmdRaw
)

// command is one parsed line of `dfsync join` input.
type command struct {
	kind  commandKind
	point protocol.Point
	cell  protocol.Cell
	arg   string
}

// parseCommand reads a REPL line. Unknown verbs are sent verbatim.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{kind: cmdNone}, nil
	}

	switch verb := strings.ToLower(fields[0]); verb {
	case "pos", "move":
		if len(fields) != 3 {
			return command{}, fmt.Errorf("usage: %s <x> <y>", verb)
		}
		x, errX := strconv.ParseFloat(fields[1], 64)
		y, errY := strconv.ParseFloat(fields[2], 64)
		if errX != nil || errY != nil {
			return command{}, fmt.Errorf("%s: coordinates must be numbers", verb)
		}
		return command{kind: cmdPosition, point: protocol.Point{X: x, Y: y}}, nil
	case "index", "cell":
		if len(fields) != 3 {
			return command{}, fmt.Errorf("usage: %s <x> <y>", verb)
		}
		x, errX := strconv.Atoi(fields[1])
		y, errY := strconv.Atoi(fields[2])
		if errX != nil || errY != nil {
			return command{}, fmt.Errorf("%s: cell must be two integers", verb)
		}
		return command{kind: cmdIndex, cell: protocol.Cell{X: x, Y: y}}, nil
	case "file", "get":
		path := strings.TrimSpace(line[len(fields[0]):])
		if path == "" {
			return command{}, fmt.Errorf("usage: %s <path>", verb)
		}
		return command{kind: cmdFile, arg: path}, nil
	case "who":
		return command{kind: cmdWho}, nil
	case "quit", "exit":
		return command{kind: cmdQuit}, nil
	}
	return command{kind: cmdRaw, arg: line}, nil
}
