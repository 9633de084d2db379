// Package opml работает с экспортами подписок в формате OPML.
package opml

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

const (
	outlineOpen  = "<outline"
	xmlURLMarker = "xmlUrl="
)

var entityUnescaper = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

// ExtractFeedURLs построчно читает документ и собирает адреса из атрибутов xmlUrl.
// Не требует корректного XML: битые записи пропускаются, сканирование продолжается.
// Результат без повторов, в порядке первого появления.
func ExtractFeedURLs(ctx context.Context, r io.Reader) ([]string, error) {
	reader := bufio.NewReader(r)
	seen := make(map[string]struct{})
	urls := make([]string, 0)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, readErr := reader.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, fmt.Errorf("failed to read document: %w", readErr)
		}
		for _, token := range strings.Split(line, outlineOpen) {
			feedURL, ok := feedURLFromToken(token)
			if !ok {
				continue
			}
			if _, dup := seen[feedURL]; dup {
				continue
			}
			seen[feedURL] = struct{}{}
			urls = append(urls, feedURL)
		}
		if readErr != nil {
			return urls, nil
		}
	}
}

// feedURLFromToken достает значение xmlUrl из фрагмента одной записи outline.
func feedURLFromToken(token string) (string, bool) {
	idx := strings.Index(token, xmlURLMarker)
	if idx < 0 {
		return "", false
	}
	rest := token[idx+len(xmlURLMarker):]
	if rest == "" {
		return "", false
	}
	delim := rest[0]
	if delim != '"' && delim != '\'' {
		return "", false
	}
	rest = rest[1:]
	end := strings.IndexByte(rest, delim)
	// строка закончилась раньше закрывающей кавычки того же типа
	if end < 0 {
		return "", false
	}
	value := entityUnescaper.Replace(rest[:end])
	if !isAbsoluteURL(value) {
		return "", false
	}
	return value, true
}

// isAbsoluteURL отклоняет и значения с пробелами: так проявляется кавычка другого типа,
// захватившая соседние атрибуты.
func isAbsoluteURL(raw string) bool {
	if strings.ContainsAny(raw, " \t\r\n") {
		return false
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}
