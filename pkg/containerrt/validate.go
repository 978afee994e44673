// Package containerrt implements the ContainerRuntime (C1): a narrow
// capability interface over container lifecycle operations, with a
// host-socket mode that validates every command string before it reaches
// the docker/podman CLI.
//
// Grounded on the teacher's pkg/exec docker.go shell-out pattern (CommandContext,
// argv-style exec.Cmd construction), generalized into an explicit tokenizer
// and allow/deny classifier per the runtime's security contract.
package containerrt

import (
	"fmt"
	"strings"
)

// denyAlways can never be re-enabled by configuration; it is the security
// floor described for host-socket mode.
var denyAlways = map[string]bool{
	"exec": true, "cp": true, "export": true, "import": true, "load": true,
	"save": true, "commit": true, "push": true, "pull": true, "build": true,
	"network": true, "volume": true, "system": true, "swarm": true,
	"node": true, "service": true, "stack": true, "secret": true,
	"config": true, "plugin": true, "trust": true,
}

// DefaultAllowSet is the allow set used when configuration does not
// override it.
var DefaultAllowSet = []string{"run", "stop", "rm", "logs", "inspect"}

// globalOptionsWithValue are host/context-style flags that consume the
// following token as their value and must be skipped before the
// subcommand is found.
var globalOptionsWithValue = map[string]bool{
	"-H": true, "--host": true,
	"-c": true, "--context": true,
	"--config": true,
	"-l": true, "--log-level": true,
}

// ValidationResult is the data (not exception) outcome of ValidateCommand,
// matching the external-interface shape of spec §6.
type ValidationResult struct {
	Error           string `json:"error,omitempty"`
	DetectedCommand string `json:"detectedCommand,omitempty"`
	Valid           bool   `json:"valid"`
}

// Tokenize splits a command string respecting single and double quotes, so
// a quoted argument containing spaces is not split across tokens.
func Tokenize(command string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	var quote rune
	inToken := false

	flush := func() {
		if inToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			inToken = false
		}
	}

	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t':
			flush()
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in command")
	}
	flush()
	return tokens, nil
}

// ValidateCommand checks a full command string (e.g. "docker run --rm ...")
// against the CLI name, the allow set, and the always-deny set, per spec
// §4.1's six-step algorithm.
func ValidateCommand(command, cliName string, allowSet []string) ValidationResult {
	tokens, err := Tokenize(command)
	if err != nil {
		return ValidationResult{Valid: false, Error: fmt.Sprintf("invalid command format: %v", err)}
	}
	if len(tokens) == 0 {
		return ValidationResult{Valid: false, Error: "empty command"}
	}
	if !strings.EqualFold(tokens[0], cliName) {
		return ValidationResult{Valid: false, Error: fmt.Sprintf("command must begin with %q", cliName)}
	}

	allowed := make(map[string]bool, len(allowSet))
	for _, a := range allowSet {
		allowed[strings.ToLower(a)] = true
	}

	subcommand := ""
	for i := 1; i < len(tokens); i++ {
		tok := tokens[i]
		if strings.HasPrefix(tok, "-") {
			if globalOptionsWithValue[tok] && !strings.Contains(tok, "=") {
				i++ // skip the option's value token
			}
			continue
		}
		subcommand = strings.ToLower(tok)
		break
	}
	if subcommand == "" {
		return ValidationResult{Valid: false, Error: "no subcommand present"}
	}
	if denyAlways[subcommand] {
		return ValidationResult{
			Valid:           false,
			Error:           fmt.Sprintf("subcommand %q is permanently disallowed for security reasons", subcommand),
			DetectedCommand: subcommand,
		}
	}
	if !allowed[subcommand] {
		return ValidationResult{
			Valid: false,
			Error: fmt.Sprintf("subcommand %q is not in the allow set %v", subcommand, allowSet),
			DetectedCommand: subcommand,
		}
	}
	return ValidationResult{Valid: true, DetectedCommand: subcommand}
}
