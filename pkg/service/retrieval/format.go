package retrieval

import (
	"fmt"
	"strings"

	"github.com/m-mizutani/kioku/pkg/model"
)

const (
	maxBlockItems  = 10
	maxItemLen     = 300
	sectionOpen    = "<kioku-memory>"
	sectionClose   = "</kioku-memory>"
	sectionPreface = "Relevant context from persistent memory (for your reference, do not mention unless asked):"
)

// formatMemories renders the free-text channel as a bounded bullet list.
func formatMemories(candidates []model.Candidate) string {
	if len(candidates) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Memories\n")
	for i, c := range candidates {
		if i >= maxBlockItems {
			break
		}
		fmt.Fprintf(&sb, "- %s\n", truncateText(strings.TrimSpace(c.Text), maxItemLen))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// formatSkills renders skill memories, preferring their structured fields.
func formatSkills(candidates []model.Candidate) string {
	if len(candidates) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Learned skills\n")
	for i, c := range candidates {
		if i >= maxBlockItems {
			break
		}
		name := c.InfoString("name")
		desc := c.InfoString("description")
		switch {
		case name != "" && desc != "":
			fmt.Fprintf(&sb, "- %s: %s\n", name, truncateText(desc, maxItemLen))
		default:
			fmt.Fprintf(&sb, "- %s\n", truncateText(strings.TrimSpace(c.Text), maxItemLen))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatPreferences(candidates []model.Candidate) string {
	if len(candidates) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## User preferences\n")
	for i, c := range candidates {
		if i >= maxBlockItems {
			break
		}
		fmt.Fprintf(&sb, "- %s\n", truncateText(strings.TrimSpace(c.Text), maxItemLen))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// formatTasks renders pending tasks for the todo auto-remind block.
func formatTasks(tasks []model.TaskView) string {
	if len(tasks) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Pending tasks\n")
	for i, task := range tasks {
		if i >= maxBlockItems {
			break
		}
		line := fmt.Sprintf("- [%s] %s", task.Priority, task.Title)
		if task.DueDate != "" {
			line += " (due " + task.DueDate + ")"
		}
		sb.WriteString(line + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// composeBlocks joins non-empty blocks into one delimited section ready for
// injection. Returns "" when every block is empty.
func composeBlocks(blocks ...string) string {
	var parts []string
	for _, b := range blocks {
		if strings.TrimSpace(b) != "" {
			parts = append(parts, b)
		}
	}
	if len(parts) == 0 {
		return ""
	}

	return sectionOpen + "\n" + sectionPreface + "\n\n" +
		strings.Join(parts, "\n\n") + "\n" + sectionClose
}
