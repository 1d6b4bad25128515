package main

import (
	"strconv"
	"strings"
)

type commandKind int

const (
	commandMessage commandKind = iota
	commandQuit
	commandStats
	commandHelp
	commandSuggestion
	commandDocs
	commandUnknown
)

type command struct {
	kind  commandKind
	text  string
	index int // zero-based suggestion index
}

// parseCommand interprets one line of input. Lines not starting with a
// slash are chat messages.
func parseCommand(line string) command {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{kind: commandMessage, text: line}
	}
	name := strings.ToLower(strings.TrimPrefix(line, "/"))
	switch name {
	case "quit", "exit", "q":
		return command{kind: commandQuit}
	case "stats":
		return command{kind: commandStats}
	case "help", "?":
		return command{kind: commandHelp}
	case "docs":
		return command{kind: commandDocs}
	}
	if n, err := strconv.Atoi(name); err == nil && n > 0 {
		return command{kind: commandSuggestion, index: n - 1}
	}
	return command{kind: commandUnknown, text: line}
}

const helpText = `Type a question and press Enter.
  /1, /2, ...  ask a suggested question
  /docs        list the documents cited in the last answer
  /stats       show database statistics
  /quit        leave`
