package agent

import "strings"

// CommandKind is the action resolved for an inbound text message.
type CommandKind int

const (
	CommandFreeChat CommandKind = iota
	CommandGreeting
	CommandReset
)

func (k CommandKind) String() string {
	switch k {
	case CommandGreeting:
		return "greeting"
	case CommandReset:
		return "reset"
	default:
		return "free_chat"
	}
}

// Command is the dispatcher result. Text carries the unmodified message for
// CommandFreeChat.
type Command struct {
	Kind CommandKind
	Text string
}

var (
	greetingWords = map[string]struct{}{"/start": {}, "start": {}, "hello": {}, "hi": {}}
	resetWords    = map[string]struct{}{"/reset": {}, "reset": {}}
)

// Dispatch maps inbound text to a command by case-insensitive exact match.
// Text is not trimmed; " hi" is free chat.
func Dispatch(text string) Command {
	lower := strings.ToLower(text)
	if _, ok := greetingWords[lower]; ok {
		return Command{Kind: CommandGreeting}
	}
	if _, ok := resetWords[lower]; ok {
		return Command{Kind: CommandReset}
	}
	return Command{Kind: CommandFreeChat, Text: text}
}
