// Package export encodes completed conversation transcripts as downloadable
// documents.
package export

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/capitalize-ai/persona-dialogue/internal/model"
)

// Format is an export encoding.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "md"
	FormatText     Format = "txt"
	FormatXML      Format = "xml"
	FormatHTML     Format = "html"
)

// ErrUnsupportedFormat is returned by ParseFormat for unknown formats.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// Formats lists the supported formats.
var Formats = []Format{FormatJSON, FormatMarkdown, FormatText, FormatXML, FormatHTML}

// ParseFormat parses a format name case-insensitively. "markdown" and "text"
// are accepted as aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "txt", "text":
		return FormatText, nil
	case "xml":
		return FormatXML, nil
	case "html":
		return FormatHTML, nil
	}
	return "", fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedFormat, s, formatNames(", "))
}

func formatNames(sep string) string {
	names := make([]string, len(Formats))
	for i, f := range Formats {
		names[i] = string(f)
	}
	return strings.Join(names, sep)
}

// ContentType returns the MIME type served for f.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatXML:
		return "application/xml"
	case FormatHTML:
		return "text/html; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Extension returns the file extension for f.
func (f Format) Extension() string {
	return string(f)
}

// Filename returns the attachment name for a conversation export.
func Filename(conversationID string, f Format) string {
	return fmt.Sprintf("conversation_%s.%s", conversationID, f.Extension())
}

// Document is the structured form of a transcript used by the JSON and XML
// encodings.
type Document struct {
	XMLName            xml.Name         `json:"-" xml:"conversation"`
	ConversationID     string           `json:"conversationId" xml:"id,attr"`
	Topic              string           `json:"topic" xml:"topic"`
	Agent1Personality  string           `json:"agent1Personality" xml:"agent1Personality"`
	Agent2Personality  string           `json:"agent2Personality" xml:"agent2Personality"`
	PolitenessLevel    model.Politeness `json:"politenessLevel" xml:"politenessLevel"`
	ConversationLength int              `json:"conversationLength" xml:"conversationLength"`
	Status             model.Status     `json:"status" xml:"status"`
	StartTime          time.Time        `json:"startTime" xml:"startTime"`
	EndTime            *time.Time       `json:"endTime,omitempty" xml:"endTime,omitempty"`
	Messages           []MessageRecord  `json:"messages" xml:"messages>message"`
}

// MessageRecord is one exported message.
type MessageRecord struct {
	Sequence        int           `json:"sequence" xml:"sequence,attr"`
	AgentType       model.Speaker `json:"agentType" xml:"agentType,attr"`
	Phase           model.Phase   `json:"phase" xml:"phase,attr"`
	IterationNumber int           `json:"iterationNumber" xml:"iterationNumber,attr"`
	Timestamp       time.Time     `json:"timestamp" xml:"timestamp,attr"`
	Content         string        `json:"content" xml:",chardata"`
}

// NewDocument builds the structured form of t.
func NewDocument(t *model.Transcript) *Document {
	conv := t.Conversation
	doc := &Document{
		ConversationID:     conv.ID,
		Topic:              conv.Topic,
		Agent1Personality:  conv.Agent1Personality,
		Agent2Personality:  conv.Agent2Personality,
		PolitenessLevel:    conv.PolitenessLevel,
		ConversationLength: conv.ConversationLength,
		Status:             conv.Status,
		StartTime:          conv.StartTime,
		EndTime:            conv.EndTime,
		Messages:           make([]MessageRecord, 0, len(t.Messages)),
	}
	for _, m := range t.Messages {
		doc.Messages = append(doc.Messages, MessageRecord{
			Sequence:        m.Sequence,
			AgentType:       m.AgentType,
			Phase:           m.Phase,
			IterationNumber: m.IterationNumber,
			Timestamp:       m.Timestamp,
			Content:         m.Content,
		})
	}
	return doc
}

// Encode writes t to w in format f.
func Encode(w io.Writer, f Format, t *model.Transcript) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(NewDocument(t))
	case FormatXML:
		if _, err := io.WriteString(w, xml.Header); err != nil {
			return err
		}
		enc := xml.NewEncoder(w)
		enc.Indent("", "  ")
		if err := enc.Encode(NewDocument(t)); err != nil {
			return fmt.Errorf("encode xml: %w", err)
		}
		return enc.Flush()
	case FormatMarkdown:
		_, err := io.WriteString(w, Markdown(t))
		return err
	case FormatText:
		_, err := io.WriteString(w, Text(t))
		return err
	case FormatHTML:
		return renderHTML(w, t)
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
}

// DecodeJSON reads a document written by Encode with FormatJSON.
func DecodeJSON(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode json export: %w", err)
	}
	return &doc, nil
}

var phaseTitles = map[model.Phase]string{
	model.PhaseIntroduction: "Introduction",
	model.PhaseConversation: "Conversation",
	model.PhaseConclusion:   "Conclusion",
}

// Markdown renders t as a markdown document with one section per phase.
func Markdown(t *model.Transcript) string {
	conv := t.Conversation
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", conv.Topic)
	fmt.Fprintf(&b, "- **A1:** %s\n", conv.Agent1Personality)
	fmt.Fprintf(&b, "- **A2:** %s\n", conv.Agent2Personality)
	fmt.Fprintf(&b, "- **Politeness:** %s\n", conv.PolitenessLevel)
	fmt.Fprintf(&b, "- **Exchanges:** %d\n", conv.ConversationLength)
	fmt.Fprintf(&b, "- **Started:** %s\n", conv.StartTime.UTC().Format(time.RFC3339))
	if conv.EndTime != nil {
		fmt.Fprintf(&b, "- **Completed:** %s\n", conv.EndTime.UTC().Format(time.RFC3339))
	}

	var phase model.Phase
	for _, m := range t.Messages {
		if m.Phase != phase {
			phase = m.Phase
			fmt.Fprintf(&b, "\n## %s\n", phaseTitles[phase])
		}
		fmt.Fprintf(&b, "\n**%s** (round %d): %s\n", m.AgentType, m.IterationNumber, m.Content)
	}

	return b.String()
}

// Text renders t as plain text.
func Text(t *model.Transcript) string {
	conv := t.Conversation
	var b strings.Builder

	fmt.Fprintf(&b, "Topic: %s\n", conv.Topic)
	fmt.Fprintf(&b, "A1: %s\n", conv.Agent1Personality)
	fmt.Fprintf(&b, "A2: %s\n", conv.Agent2Personality)
	fmt.Fprintf(&b, "Politeness: %s\n", conv.PolitenessLevel)
	fmt.Fprintf(&b, "Exchanges: %d\n", conv.ConversationLength)

	var phase model.Phase
	for _, m := range t.Messages {
		if m.Phase != phase {
			phase = m.Phase
			title := strings.ToUpper(phaseTitles[phase])
			fmt.Fprintf(&b, "\n%s\n%s\n", title, strings.Repeat("=", len(title)))
		}
		fmt.Fprintf(&b, "\n[%s] %s: %s\n", m.Timestamp.UTC().Format(time.RFC3339), m.AgentType, m.Content)
	}

	return b.String()
}

func renderHTML(w io.Writer, t *model.Transcript) error {
	var body bytes.Buffer
	if err := goldmark.Convert([]byte(Markdown(t)), &body); err != nil {
		return fmt.Errorf("render html: %w", err)
	}

	_, err := fmt.Fprintf(w, `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%s</title></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5;">
%s
</body></html>
`, html.EscapeString(t.Conversation.Topic), body.String())
	return err
}
