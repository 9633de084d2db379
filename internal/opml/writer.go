package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"podcasts/internal/domain"
)

// Write выгружает подписки в документ OPML 2.0.
func Write(w io.Writer, title string, subs []domain.Subscription) error {
	doc := Document{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: time.Now().UTC().Format(time.RFC1123Z),
		},
		Body: Body{Outlines: make([]Outline, 0, len(subs))},
	}
	for _, sub := range subs {
		doc.Body.Outlines = append(doc.Body.Outlines, Outline{
			Text:   sub.Title,
			Title:  sub.Title,
			Type:   "rss",
			XMLURL: sub.FeedURL,
		})
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("failed to write OPML header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode OPML: %w", err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return fmt.Errorf("failed to write OPML: %w", err)
	}
	return nil
}
