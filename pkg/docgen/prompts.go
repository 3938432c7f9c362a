package docgen

import (
	"fmt"
	"sort"
	"strings"

	"ideaforge/pkg/domain"
)

// Fallback lines used when the wizard left a section empty.
const (
	FallbackDetails = "No additional details provided"
	FallbackTools   = "No specific tools selected"
)

const systemPrompt = "You are a senior product engineer. Write clear, well structured Markdown documents that a development team can act on directly. Do not add commentary outside the document."

type documentSpec struct {
	role     string
	sections []string
}

var documentSpecs = map[domain.DocumentType]documentSpec{
	domain.DocPRD: {
		role: "Write a Product Requirements Document",
		sections: []string{
			"Overview and problem statement",
			"Target users and personas",
			"Goals and success metrics",
			"Functional requirements",
			"Non-functional requirements",
			"Out of scope",
			"Milestones",
		},
	},
	domain.DocUserFlow: {
		role: "Describe the end-to-end user flows",
		sections: []string{
			"Primary user journeys",
			"Step-by-step screens and actions",
			"Edge cases and error states",
			"Onboarding flow",
		},
	},
	domain.DocArchitecture: {
		role: "Design the system architecture",
		sections: []string{
			"High-level components",
			"Data flow between components",
			"Technology choices and rationale",
			"Deployment and scaling",
			"Security considerations",
		},
	},
	domain.DocSchema: {
		role: "Design the database schema",
		sections: []string{
			"Entities and their fields with types",
			"Relationships and cardinality",
			"Indexes and constraints",
			"Example DDL",
		},
	},
	domain.DocAPISpec: {
		role: "Write the API specification",
		sections: []string{
			"Authentication",
			"Endpoints with method, path, request and response bodies",
			"Error format and status codes",
			"Rate limits and pagination",
		},
	},
}

// DocumentPrompt builds the prompt for one document type. The output depends
// only on docType and the project's idea, details and tools.
func DocumentPrompt(docType domain.DocumentType, p domain.Project) (string, error) {
	spec, ok := documentSpecs[docType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownType, docType)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%s) for the following product.\n\n", spec.role, docType.Title())
	writeProjectContext(&sb, p)
	sb.WriteString("\nThe document must cover:\n")
	for i, section := range spec.sections {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, section)
	}
	return sb.String(), nil
}

// RefinePrompt asks for a sharper restatement of the raw idea.
func RefinePrompt(p domain.Project) string {
	var sb strings.Builder
	sb.WriteString("Rewrite the product idea below into a concise, specific pitch of at most three sentences. ")
	sb.WriteString("Name the target user, the core problem and the key differentiator. Return only the refined idea.\n\n")
	fmt.Fprintf(&sb, "Idea: %s\n", strings.TrimSpace(p.Idea))
	return sb.String()
}

// AnswerPrompt asks for a suggested answer to one wizard question.
func AnswerPrompt(p domain.Project, question string) string {
	var sb strings.Builder
	sb.WriteString("Suggest a short, practical answer to the question below for this product. Return only the answer.\n\n")
	writeProjectContext(&sb, p)
	fmt.Fprintf(&sb, "\nQuestion: %s\n", strings.TrimSpace(question))
	return sb.String()
}

// PlanPrompt asks for an implementation plan.
func PlanPrompt(p domain.Project) string {
	var sb strings.Builder
	sb.WriteString("Create a phased implementation plan for the product below. ")
	sb.WriteString("List phases in order, each with its goal, main tasks and a rough duration.\n\n")
	writeProjectContext(&sb, p)
	return sb.String()
}

func writeProjectContext(sb *strings.Builder, p domain.Project) {
	fmt.Fprintf(sb, "Idea: %s\n\n", strings.TrimSpace(p.EffectiveIdea()))
	sb.WriteString("Details:\n")
	sb.WriteString(formatDetails(p.Details))
	sb.WriteString("\n\nTools:\n")
	sb.WriteString(formatTools(p.SelectedTools))
	sb.WriteString("\n")
}

func formatDetails(d domain.Details) string {
	keys := d.Keys()
	if len(keys) == 0 {
		return FallbackDetails
	}
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("- %s: %s", domain.HumanizeKey(k), strings.TrimSpace(d[k])))
	}
	return strings.Join(lines, "\n")
}

// formatTools sorts a copy so tool order never changes the prompt.
func formatTools(tools []string) string {
	cleaned := make([]string, 0, len(tools))
	seen := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		cleaned = append(cleaned, t)
	}
	if len(cleaned) == 0 {
		return FallbackTools
	}
	sort.Strings(cleaned)
	return strings.Join(cleaned, ", ")
}
