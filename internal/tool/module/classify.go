package module

import (
	"fmt"
	"strings"
)

// ghCommandClass is the result of classifying a gh invocation as safe to
// run automatically (ReadOnly) or requiring the normal tool-call guard
// (Mutating). Grounded on
// original_source/crates/cp-mod-github/src/classify.rs.
type ghCommandClass int

const (
	ghReadOnly ghCommandClass = iota
	ghMutating
)

// parseGhArgs splits command into words, honoring single and double quotes.
// A quote toggles quoting state for any character except its counterpart;
// whitespace outside quotes separates arguments.
func parseGhArgs(command string) ([]string, error) {
	var args []string
	var cur strings.Builder
	inSingle, inDouble := false, false

	flush := func() {
		if cur.Len() > 0 {
			args = append(args, cur.String())
			cur.Reset()
		}
	}

	for _, c := range command {
		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
		case c == '"' && !inSingle:
			inDouble = !inDouble
		case isSpace(c) && !inSingle && !inDouble:
			flush()
		default:
			cur.WriteRune(c)
		}
	}
	if inSingle {
		return nil, fmt.Errorf("unterminated single quote")
	}
	if inDouble {
		return nil, fmt.Errorf("unterminated double quote")
	}
	flush()
	return args, nil
}

func isSpace(c rune) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

// checkShellOperators rejects shell metacharacters that appear outside of
// quoted strings: pipes, redirects, semicolons, backticks, `$(`, `&&`, and
// bare newlines.
func checkShellOperators(command string) error {
	inSingle, inDouble := false, false
	runes := []rune(command)
	for i, c := range runes {
		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
		case c == '"' && !inSingle:
			inDouble = !inDouble
		case inSingle || inDouble:
			// inside a quoted string, anything goes
		case c == '|' || c == ';' || c == '`' || c == '>' || c == '<':
			return fmt.Errorf("shell operator '%c' is not allowed", c)
		case c == '$' && i+1 < len(runes) && runes[i+1] == '(':
			return fmt.Errorf("shell operator '$(' is not allowed")
		case c == '&' && i+1 < len(runes) && runes[i+1] == '&':
			return fmt.Errorf("shell operator '&&' is not allowed")
		case c == '\n' || c == '\r':
			return fmt.Errorf("newlines are not allowed outside of quoted strings")
		}
	}
	return nil
}

// validateGhCommand checks that command is a well-formed, unambiguous gh
// invocation and returns its arguments (without the leading "gh").
func validateGhCommand(command string) ([]string, error) {
	trimmed := strings.TrimSpace(command)
	if !strings.HasPrefix(trimmed, "gh ") && trimmed != "gh" {
		return nil, fmt.Errorf("command must start with 'gh '")
	}
	if err := checkShellOperators(trimmed); err != nil {
		return nil, err
	}
	all, err := parseGhArgs(trimmed)
	if err != nil {
		return nil, err
	}
	args := all[1:]
	if len(args) == 0 {
		return nil, fmt.Errorf("no gh subcommand specified")
	}
	return args, nil
}

// classifyGh classifies a parsed gh command (args after "gh") as read-only
// or mutating using the fixed per-subcommand table from classify.rs. An
// unrecognized group or action defaults to Mutating: the safe default.
func classifyGh(args []string) ghCommandClass {
	if len(args) == 0 {
		return ghMutating
	}
	group := args[0]
	action := ""
	if len(args) > 1 {
		action = args[1]
	}
	rest := args[1:]

	in := func(s string, opts ...string) bool {
		for _, o := range opts {
			if s == o {
				return true
			}
		}
		return false
	}

	switch group {
	case "pr":
		if in(action, "list", "view", "status", "checks", "diff") {
			return ghReadOnly
		}
		return ghMutating
	case "issue":
		if in(action, "list", "view", "status") {
			return ghReadOnly
		}
		return ghMutating
	case "repo":
		if in(action, "view", "list") {
			return ghReadOnly
		}
		return ghMutating
	case "release":
		if in(action, "list", "view", "download") {
			return ghReadOnly
		}
		return ghMutating
	case "run":
		if in(action, "list", "view", "download", "watch") {
			return ghReadOnly
		}
		return ghMutating
	case "workflow":
		if in(action, "list", "view") {
			return ghReadOnly
		}
		return ghMutating
	case "gist":
		if in(action, "list", "view") {
			return ghReadOnly
		}
		return ghMutating
	case "search":
		return ghReadOnly
	case "auth":
		if in(action, "status", "token") {
			return ghReadOnly
		}
		return ghMutating
	case "api":
		for i := 0; i+1 < len(rest); i++ {
			if rest[i] == "--method" || rest[i] == "-X" {
				if in(strings.ToUpper(rest[i+1]), "POST", "PUT", "PATCH", "DELETE") {
					return ghMutating
				}
			}
		}
		return ghReadOnly
	case "label":
		if in(action, "list") {
			return ghReadOnly
		}
		return ghMutating
	case "project":
		if in(action, "list", "view", "field-list", "item-list") {
			return ghReadOnly
		}
		return ghMutating
	case "ssh-key", "gpg-key":
		if in(action, "list") {
			return ghReadOnly
		}
		return ghMutating
	case "browse", "status", "completion", "help", "version":
		return ghReadOnly
	case "attestation":
		return ghReadOnly
	case "config":
		if in(action, "get", "list") {
			return ghReadOnly
		}
		return ghMutating
	case "secret":
		if in(action, "list") {
			return ghReadOnly
		}
		return ghMutating
	case "variable":
		if in(action, "list", "get") {
			return ghReadOnly
		}
		return ghMutating
	case "cache":
		if in(action, "list") {
			return ghReadOnly
		}
		return ghMutating
	case "ruleset":
		if in(action, "list", "view", "check") {
			return ghReadOnly
		}
		return ghMutating
	case "org":
		if in(action, "list") {
			return ghReadOnly
		}
		return ghMutating
	case "extension":
		if in(action, "list", "search", "browse") {
			return ghReadOnly
		}
		return ghMutating
	case "alias":
		if in(action, "list") {
			return ghReadOnly
		}
		return ghMutating
	case "codespace":
		if in(action, "list", "view", "ssh", "code", "jupyter", "logs", "ports") {
			return ghReadOnly
		}
		return ghMutating
	default:
		return ghMutating
	}
}
