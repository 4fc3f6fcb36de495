package engine

import (
	"strings"

	"github.com/firebase/genkit/go/ai"
)

// answerPromptHeader grounds the generation model in retrieved context.
// Three-sentence limit keeps answers terse; the model must admit ignorance
// rather than invent facts outside the context.
const answerPromptHeader = "You are Fred, a helpful butler assistant for question-answering tasks. " +
	"Use the following pieces of retrieved context to answer the question. " +
	"If you don't know the answer based on the context, say that you don't know. " +
	"Use three sentences maximum and keep the answer concise."

// noContextNotice replaces the context block when retrieval found nothing.
const noContextNotice = "No relevant context was found for this question. " +
	"Tell the user you don't know the answer."

// groundedSystemPrompt builds the system prompt for the generation call.
func groundedSystemPrompt(contextText string) string {
	if strings.TrimSpace(contextText) == "" {
		return answerPromptHeader + "\n\n" + noContextNotice
	}
	return answerPromptHeader + "\n\n" + contextText
}

// trailingToolRun returns the contiguous run of tool messages at the end of
// the sequence, in chronological order. Tool messages earlier in the
// sequence, separated from the tail by any other role, are not part of the
// current retrieval episode and are excluded.
func trailingToolRun(msgs []*ai.Message) []*ai.Message {
	end := len(msgs)
	start := end
	for start > 0 && msgs[start-1].Role == ai.RoleTool {
		start--
	}
	return msgs[start:end]
}

// toolRunContext concatenates the serialized retrieval output carried by a
// run of tool messages, blank-line separated, order preserved.
func toolRunContext(run []*ai.Message) string {
	var blocks []string
	for _, msg := range run {
		for _, part := range msg.Content {
			if part.ToolResponse == nil {
				continue
			}
			switch out := part.ToolResponse.Output.(type) {
			case Retrieval:
				if out.Context != "" {
					blocks = append(blocks, out.Context)
				}
			case string:
				if out != "" {
					blocks = append(blocks, out)
				}
			case map[string]any:
				// Round-tripped through JSON persistence
				if s, ok := out["context"].(string); ok && s != "" {
					blocks = append(blocks, s)
				}
			}
		}
	}
	return strings.Join(blocks, "\n\n")
}

// historyForPrompt filters a working sequence down to the conversation the
// generation model should see: user and system messages, and model messages
// that carry no tool requests. Tool messages and tool-calling model turns
// are plumbing, not conversation.
func historyForPrompt(msgs []*ai.Message) []*ai.Message {
	filtered := make([]*ai.Message, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case ai.RoleUser, ai.RoleSystem:
			filtered = append(filtered, msg)
		case ai.RoleModel:
			if !hasToolRequest(msg) {
				filtered = append(filtered, msg)
			}
		}
	}
	return filtered
}

func hasToolRequest(msg *ai.Message) bool {
	for _, part := range msg.Content {
		if part.ToolRequest != nil {
			return true
		}
	}
	return false
}

// deepCopyMessages creates independent copies of Message and Part structs.
//
// Genkit's renderMessages() modifies msg.Content in place, so concurrent
// turns sharing loaded history would race without independent copies.
func deepCopyMessages(msgs []*ai.Message) []*ai.Message {
	if msgs == nil {
		return nil
	}
	copied := make([]*ai.Message, len(msgs))
	for i, msg := range msgs {
		parts := make([]*ai.Part, len(msg.Content))
		for j, part := range msg.Content {
			parts[j] = deepCopyPart(part)
		}
		copied[i] = &ai.Message{
			Role:     msg.Role,
			Content:  parts,
			Metadata: shallowCopyMap(msg.Metadata),
		}
	}
	return copied
}

// deepCopyPart copies an ai.Part. ToolRequest.Input and ToolResponse.Output
// are `any` and copied by reference; Genkit only mutates the Content slice.
func deepCopyPart(p *ai.Part) *ai.Part {
	if p == nil {
		return nil
	}
	cp := &ai.Part{
		Kind:        p.Kind,
		ContentType: p.ContentType,
		Text:        p.Text,
		Custom:      shallowCopyMap(p.Custom),
		Metadata:    shallowCopyMap(p.Metadata),
	}
	if p.ToolRequest != nil {
		cp.ToolRequest = &ai.ToolRequest{
			Input: p.ToolRequest.Input,
			Name:  p.ToolRequest.Name,
			Ref:   p.ToolRequest.Ref,
		}
	}
	if p.ToolResponse != nil {
		cp.ToolResponse = &ai.ToolResponse{
			Name:   p.ToolResponse.Name,
			Output: p.ToolResponse.Output,
			Ref:    p.ToolResponse.Ref,
		}
	}
	return cp
}

func shallowCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
