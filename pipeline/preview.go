package pipeline

import (
	"fmt"
	"strings"

	"github.com/eb-adutwum/Interius/event"
	"github.com/eb-adutwum/Interius/stage"
)

// Preview document names surfaced on artifact events.
const (
	PreviewRequirementsName = "Requirements Document.md"
	PreviewArchitectureName = "Architecture Design.md"
	PreviewDiagramName      = "Architecture Diagram.mmd"
)

// RenderCharterMarkdown renders the requirements charter as a human-readable
// markdown document for the approval UI.
func RenderCharterMarkdown(c *stage.Charter) string {
	var b strings.Builder
	b.WriteString("# Requirements Document\n\n")

	if c.Summary != "" {
		b.WriteString("## Summary\n\n")
		b.WriteString(c.Summary)
		b.WriteString("\n\n")
	}

	if len(c.Entities) > 0 {
		b.WriteString("## Entities\n\n")
		for _, e := range c.Entities {
			fmt.Fprintf(&b, "### %s\n\n", e.Name)
			b.WriteString("| Field | Type | Constraints |\n")
			b.WriteString("| --- | --- | --- |\n")
			for _, f := range e.Fields {
				fmt.Fprintf(&b, "| %s | %s | %s |\n", f.Name, f.Type, strings.Join(f.Constraints, ", "))
			}
			b.WriteString("\n")
		}
	}

	if len(c.Endpoints) > 0 {
		b.WriteString("## API Endpoints\n\n")
		for _, ep := range c.Endpoints {
			fmt.Fprintf(&b, "- `%s %s`", ep.Method, ep.Path)
			if ep.Description != "" {
				fmt.Fprintf(&b, " — %s", ep.Description)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(c.BusinessRules) > 0 {
		b.WriteString("## Business Rules\n\n")
		for i, rule := range c.BusinessRules {
			fmt.Fprintf(&b, "%d. %s\n", i+1, rule)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Authentication\n\n")
	if c.AuthRequired {
		b.WriteString("This service requires authentication.\n")
	} else {
		b.WriteString("This service does not require authentication.\n")
	}

	return b.String()
}

// requirementsPreview builds the preview file for the requirements artifact.
func requirementsPreview(c *stage.Charter) *event.File {
	return &event.File{
		Name:    PreviewRequirementsName,
		Content: RenderCharterMarkdown(c),
	}
}

// architecturePreviews builds the design document preview and, when a
// diagram is present, the mermaid source file.
func architecturePreviews(a *stage.ArchitectureDoc) (preview, diagram *event.File) {
	preview = &event.File{
		Name:    PreviewArchitectureName,
		Content: a.DesignDocument,
	}
	if a.MermaidDiagram != "" {
		diagram = &event.File{
			Name:    PreviewDiagramName,
			Content: a.MermaidDiagram,
		}
	}
	return preview, diagram
}
