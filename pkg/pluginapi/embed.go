package pluginapi

import "strings"

// EmbedField is one titled block inside an embed.
type EmbedField struct {
	Name  string
	Value string
}

// Embed is a structured rich reply rendered to plain text for chat platforms
// without native embeds.
type Embed struct {
	Title       string
	Description string
	Fields      []EmbedField
	Footer      string
}

// NewEmbed creates an embed with title.
func NewEmbed(title string) *Embed {
	return &Embed{Title: title}
}

// SetDescription sets the body text.
func (e *Embed) SetDescription(description string) *Embed {
	e.Description = description
	return e
}

// AddField appends one field.
func (e *Embed) AddField(name string, value string) *Embed {
	e.Fields = append(e.Fields, EmbedField{Name: name, Value: value})
	return e
}

// SetFooter sets the trailing line.
func (e *Embed) SetFooter(footer string) *Embed {
	e.Footer = footer
	return e
}

// Render flattens the embed into text blocks separated by blank lines.
func (e *Embed) Render() string {
	if e == nil {
		return ""
	}

	blocks := make([]string, 0, len(e.Fields)+3)
	if title := strings.TrimSpace(e.Title); title != "" {
		blocks = append(blocks, title)
	}
	if description := strings.TrimSpace(e.Description); description != "" {
		blocks = append(blocks, description)
	}
	for _, field := range e.Fields {
		name := strings.TrimSpace(field.Name)
		value := strings.TrimSpace(field.Value)
		switch {
		case name == "" && value == "":
			continue
		case name == "":
			blocks = append(blocks, value)
		case value == "":
			blocks = append(blocks, name)
		default:
			blocks = append(blocks, name+"\n"+value)
		}
	}
	if footer := strings.TrimSpace(e.Footer); footer != "" {
		blocks = append(blocks, footer)
	}

	return strings.Join(blocks, "\n\n")
}
