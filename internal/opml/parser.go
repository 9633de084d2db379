package opml

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
)

// Document корневой элемент OPML.
type Document struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

type Head struct {
	Title       string `xml:"title"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline запись OPML. Категории содержат вложенные записи, ленты несут xmlUrl.
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline"`
}

// Feeds возвращает все записи с xmlUrl, обходя вложенность в глубину.
func (d *Document) Feeds() []Outline {
	var feeds []Outline
	var walk func([]Outline)
	walk = func(outlines []Outline) {
		for _, o := range outlines {
			if o.XMLURL != "" {
				feeds = append(feeds, o)
			}
			walk(o.Outlines)
		}
	}
	walk(d.Body.Outlines)
	return feeds
}

// Parser строгий разборщик OPML на encoding/xml.
// Падает на некорректном документе; такие документы сначала пропускают через Sanitize.
type Parser struct {
	log *slog.Logger
}

func NewParser(log *slog.Logger) *Parser {
	return &Parser{
		log: log,
	}
}

// Parse разбирает документ целиком.
func (p *Parser) Parse(ctx context.Context, reader io.Reader) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var doc Document
	decoder := xml.NewDecoder(reader)
	if err := decoder.Decode(&doc); err != nil {
		p.log.Error(
			"Error decoding OPML",
			slog.String("component", "opml-parser"),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("failed to decode OPML: %w", err)
	}
	p.log.Debug("OPML parsed",
		slog.String("component", "opml-parser"),
		slog.String("title", doc.Head.Title),
		slog.Int("feeds", len(doc.Feeds())),
	)
	return &doc, nil
}
