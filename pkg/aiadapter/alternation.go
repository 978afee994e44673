package aiadapter

import (
	"fmt"
	"strings"

	"orchestrator/pkg/convo"
)

// ensureAlternation extracts system-role messages into a standalone system
// prompt and merges consecutive non-assistant messages into single user
// turns, producing the strict user/assistant alternation Anthropic's API
// requires. Grounded on the teacher's anthropic client's ensureAlternation.
func ensureAlternation(messages []convo.Message) (systemPrompt string, alternating []convo.Message, err error) {
	var systemParts []string
	var nonSystem []convo.Message
	for _, m := range messages {
		if m.Role == convo.RoleSystem {
			systemParts = append(systemParts, m.Content)
		} else {
			nonSystem = append(nonSystem, m)
		}
	}
	systemPrompt = strings.Join(systemParts, "\n\n")
	if len(nonSystem) == 0 {
		return systemPrompt, nil, fmt.Errorf("must have at least one non-system message")
	}

	var merged []convo.Message
	var userParts []string
	flush := func() {
		if len(userParts) > 0 {
			merged = append(merged, convo.Message{Role: convo.RoleUser, Content: strings.Join(userParts, "\n\n")})
			userParts = nil
		}
	}
	for _, m := range nonSystem {
		if m.Role == convo.RoleAssistant {
			flush()
			merged = append(merged, m)
			continue
		}
		if m.Content != "" {
			userParts = append(userParts, m.Content)
		}
	}
	flush()

	for i, m := range merged {
		if i > 0 && m.Role == merged[i-1].Role {
			return "", nil, fmt.Errorf("alternation violation at index %d: consecutive %s messages", i, m.Role)
		}
	}
	if len(merged) > 0 && merged[0].Role != convo.RoleUser {
		return "", nil, fmt.Errorf("first message must be user role, got %s", merged[0].Role)
	}
	if len(merged) > 0 && merged[len(merged)-1].Role != convo.RoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got %s", merged[len(merged)-1].Role)
	}
	return systemPrompt, merged, nil
}
