package orchestrator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/koopa0/grounded/internal/core"
	"github.com/koopa0/grounded/internal/provider"
	"github.com/koopa0/grounded/internal/session"
)

// defaultSystemTemplate instructs the model to ground answers in the
// numbered context blocks and mark claims with [n] so citations can be
// recovered from the output.
const defaultSystemTemplate = `You are a helpful assistant. Answer using the numbered context passages below. Mark every claim taken from a passage with its number in brackets, like [1]. If the context does not contain the answer, say so.`

// Budget bounds prompt assembly. PromptTokens is a hard ceiling; the
// sub-budgets bound their own sections inside it.
type Budget struct {
	PromptTokens  int
	ContextTokens int
	HistoryTokens int
}

// estimateTokens approximates the token count of a string. Two runes per
// token tracks real tokenizers closely enough for budget enforcement.
func estimateTokens(s string) int {
	return utf8.RuneCountInString(s) / 2
}

// sepRunes is the rune cost of the "\n\n" joining passages to each other
// and the context block to the system template.
const sepRunes = 2

// prompt is the assembled input for one generation call.
type prompt struct {
	messages []provider.Message

	// context holds the retrieval results that made it into the prompt, in
	// marker order: context[0] is passage [1]. Citations may only point at
	// these.
	context []core.RetrievalResult
}

// assemblePrompt builds the message list under the budget. Inclusion
// priority when space runs out: the user question survives everything, then
// the system instructions, then retrieved context in rank order, then
// history newest-first. The question is never truncated; a question alone
// exceeding the budget still goes through, oversized by definition but
// unanswerable otherwise.
//
// Accounting runs in runes against twice the token budget. Summing
// per-piece token estimates would undercount joined text, since two floored
// halves can lose a token their concatenation keeps; rune sums cannot.
func assemblePrompt(systemTemplate, question string, results []core.RetrievalResult, history []session.Turn, b Budget) prompt {
	if systemTemplate == "" {
		systemTemplate = defaultSystemTemplate
	}

	remaining := 2 * b.PromptTokens
	remaining -= utf8.RuneCountInString(question)

	system := ""
	if cost := utf8.RuneCountInString(systemTemplate); cost <= remaining {
		system = systemTemplate
		remaining -= cost
	}

	// The separator joining the context block to the system template
	// costs budget too, so it comes off the context allowance up front.
	contextBudget := min(remaining, 2*b.ContextTokens)
	if system != "" {
		contextBudget -= sepRunes
	}
	contextBlock, included := buildContext(results, contextBudget)
	if contextBlock != "" {
		remaining -= utf8.RuneCountInString(contextBlock)
		if system != "" {
			remaining -= sepRunes
		}
	}

	turns := pickHistory(history, min(remaining, 2*b.HistoryTokens))

	var messages []provider.Message
	if system != "" {
		content := system
		if contextBlock != "" {
			content += "\n\n" + contextBlock
		}
		messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: content})
	} else if contextBlock != "" {
		messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: contextBlock})
	}
	for _, turn := range turns {
		messages = append(messages, provider.Message{Role: turn.Role, Content: turn.Text})
	}
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: question})

	return prompt{messages: messages, context: included}
}

// buildContext renders retrieval results as numbered passages until the
// rune budget runs out, charging the separator between passages. Results
// are consumed in rank order; a result that does not fit stops inclusion so
// markers stay contiguous.
func buildContext(results []core.RetrievalResult, budget int) (string, []core.RetrievalResult) {
	if len(results) == 0 || budget <= 0 {
		return "", nil
	}

	var (
		sb       strings.Builder
		included []core.RetrievalResult
		used     int
	)
	for i, r := range results {
		passage := fmt.Sprintf("[%d] %s", i+1, r.Chunk.Text)
		cost := utf8.RuneCountInString(passage)
		if sb.Len() > 0 {
			cost += sepRunes
		}
		if used+cost > budget {
			break
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(passage)
		used += cost
		included = append(included, r)
	}
	return sb.String(), included
}

// pickHistory selects prior turns newest-first until the rune budget runs
// out, then returns them in chronological order for the prompt.
func pickHistory(history []session.Turn, budget int) []session.Turn {
	if len(history) == 0 || budget <= 0 {
		return nil
	}

	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := utf8.RuneCountInString(history[i].Text)
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}
	return history[start:]
}
