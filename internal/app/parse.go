package app

import "strings"

// parseCommand splits text on whitespace runs, checks and strips the shared key
// when one is configured, and returns the command name and its arguments.
func parseCommand(text, key string) (name string, args []string, outcome Outcome) {
	tokens := strings.Fields(text)

	if key != "" {
		if len(tokens) == 0 || tokens[0] != key {
			return "", nil, OutcomeKeyMismatch
		}
		tokens = tokens[1:]
	}

	if len(tokens) == 0 {
		return "", nil, OutcomeEmpty
	}

	return tokens[0], tokens[1:], OutcomeDispatched
}
