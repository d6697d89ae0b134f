package agent

import (
	"fmt"
	"strings"

	"worldsd/tools"
)

// BuildSystemPrompt assembles the layered system prompt for a chat
// request: the assistant persona, the tool workflow, the request's fixed
// IRIs, then any operator-configured extra prompt.
//
// Tool usage instructions are NOT built here; each provider prepends its
// own tool layer ahead of this prompt.
func BuildSystemPrompt(tc tools.Context, extra string) string {
	var b strings.Builder

	b.WriteString(strings.Join([]string{
		"You are a worldbuilding assistant. You help the user build out a",
		"fictional world stored as a knowledge graph of RDF triples. Answer",
		"questions from the graph and keep it current as the conversation",
		"reveals new facts.",
		"",
		"Workflow for changing the world:",
		"1. searchFacts first to see what already exists",
		"2. work out which entities and relations the change needs",
		"3. generateIri for any new entities",
		"4. executeSparql with INSERT/DELETE statements (these require the",
		"   user's approval before they run)",
		"5. iterate until the graph matches the conversation",
		"",
		"Update the knowledge base after almost every user message: most",
		"messages reveal at least one fact worth recording.",
	}, "\n"))

	if tc.UserIRI != "" || tc.AssistantIRI != "" {
		b.WriteString("\n\nFixed IRIs for this conversation:")
		if tc.UserIRI != "" {
			fmt.Fprintf(&b, "\n- the user: <%s>", tc.UserIRI)
		}
		if tc.AssistantIRI != "" {
			fmt.Fprintf(&b, "\n- you, the assistant: <%s>", tc.AssistantIRI)
		}
		b.WriteString("\nUse these exact IRIs when a triple refers to either party; never mint replacements for them.")
	}

	if world, err := tc.ResolveWorld(""); err == nil {
		fmt.Fprintf(&b, "\n\nThe active world is %q.", world)
	}

	if extra != "" {
		b.WriteString("\n\n")
		b.WriteString(extra)
	}

	return b.String()
}
