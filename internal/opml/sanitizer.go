package opml

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// typographicApostrophe часто попадает в названия подкастов при копировании из текстовых редакторов.
const typographicApostrophe = "’"

var knownEntities = []string{"amp;", "lt;", "gt;", "quot;", "apos;"}

// textAttrTail совпадает с корректным остатком тега после закрывающей кавычки атрибута text:
// атрибуты в кавычках, затем конец тега или конец строки.
var textAttrTail = regexp.MustCompile(`^(\s+[A-Za-z_:][-\w:.]*\s*=\s*("[^"]*"|'[^']*'))*\s*(/?>\s*(<.*)?)?$`)

// textAttrEnd совпадает с тем, что может идти сразу после закрывающей кавычки атрибута text.
var textAttrEnd = regexp.MustCompile(`^(\s*/?>|\s+[A-Za-z_:][-\w:.]*\s*=|\s*$)`)

var textAttrEscaper = strings.NewReplacer(`"`, "&quot;", "<", "&lt;", ">", "&gt;")

// TempFile временный файл с исправленным документом. Close закрывает и удаляет его.
type TempFile struct {
	*os.File
}

// Close закрывает файл и удаляет его с диска.
func (f *TempFile) Close() error {
	closeErr := f.File.Close()
	removeErr := os.Remove(f.File.Name())
	return errors.Join(closeErr, removeErr)
}

// Sanitize исправляет типичные ошибки экспорта за один построчный проход без XML-парсера
// и пишет результат в новый временный файл, позиционированный на начало.
// Каждый <outline начинается с новой строки, одиночные & экранируются,
// в значении атрибута text экранируются ", < и >.
func Sanitize(r io.Reader) (*TempFile, error) {
	f, err := os.CreateTemp("", "podcasts-opml-*.xml")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	out := &TempFile{File: f}
	if err := SanitizeTo(out, r); err != nil {
		out.Close()
		return nil, err
	}
	if _, err := out.Seek(0, io.SeekStart); err != nil {
		out.Close()
		return nil, fmt.Errorf("failed to rewind temp file: %w", err)
	}
	return out, nil
}

// SanitizeTo выполняет тот же проход, что и Sanitize, но пишет в переданный writer.
func SanitizeTo(w io.Writer, r io.Reader) error {
	reader := bufio.NewReader(r)
	writer := bufio.NewWriter(w)
	for {
		line, readErr := reader.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("failed to read document: %w", readErr)
		}
		if line != "" {
			newline := strings.HasSuffix(line, "\n")
			line = strings.TrimRight(line, "\r\n")
			for i, part := range splitOutlines(line) {
				if i > 0 {
					writer.WriteByte('\n')
				}
				writer.WriteString(sanitizeLine(part))
			}
			if newline {
				writer.WriteByte('\n')
			}
		}
		if readErr != nil {
			break
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to write sanitized document: %w", err)
	}
	return nil
}

// splitOutlines режет строку так, чтобы каждый <outline начинал свой фрагмент.
// Отступ перед первым <outline остается вместе с ним.
func splitOutlines(line string) []string {
	var parts []string
	from := 0
	for {
		idx := strings.Index(line[from:], outlineOpen)
		if idx < 0 {
			break
		}
		idx += from
		if strings.TrimSpace(line[:idx]) == "" {
			from = idx + len(outlineOpen)
			continue
		}
		parts = append(parts, line[:idx])
		line = line[idx:]
		from = len(outlineOpen)
	}
	return append(parts, line)
}

func sanitizeLine(line string) string {
	line = escapeAmpersands(line)
	line = strings.ReplaceAll(line, typographicApostrophe, "&apos;")
	return escapeTextAttr(line)
}

// escapeAmpersands экранирует &, если за ним не следует стандартная сущность
// или числовая ссылка на символ.
func escapeAmpersands(line string) string {
	if !strings.Contains(line, "&") {
		return line
	}
	var b strings.Builder
	b.Grow(len(line) + 16)
	for i := 0; i < len(line); i++ {
		if line[i] == '&' && !isEntityAt(line[i+1:]) {
			b.WriteString("&amp;")
			continue
		}
		b.WriteByte(line[i])
	}
	return b.String()
}

func isEntityAt(rest string) bool {
	for _, entity := range knownEntities {
		if strings.HasPrefix(rest, entity) {
			return true
		}
	}
	if !strings.HasPrefix(rest, "#") {
		return false
	}
	end := strings.IndexByte(rest, ';')
	if end < 2 {
		return false
	}
	digits := rest[1:end]
	hex := false
	if digits[0] == 'x' || digits[0] == 'X' {
		hex = true
		digits = digits[1:]
	}
	if digits == "" {
		return false
	}
	for _, c := range digits {
		switch {
		case c >= '0' && c <= '9':
		case hex && (c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'):
		default:
			return false
		}
	}
	return true
}

// escapeTextAttr экранирует значение text="...". Закрывающей считается первая кавычка,
// после которой остаток тега разбирается целиком. Если такой нет, берется первая кавычка,
// за которой идет конец тега, следующий атрибут или конец строки.
func escapeTextAttr(line string) string {
	start := textAttrStart(line)
	if start < 0 {
		return line
	}
	end := textAttrClose(line, start, textAttrTail)
	if end < 0 {
		end = textAttrClose(line, start, textAttrEnd)
	}
	if end < 0 {
		return line
	}
	return line[:start] + textAttrEscaper.Replace(line[start:end]) + line[end:]
}

func textAttrClose(line string, start int, tail *regexp.Regexp) int {
	for end := start; end < len(line); end++ {
		if line[end] == '"' && tail.MatchString(line[end+1:]) {
			return end
		}
	}
	return -1
}

// textAttrStart возвращает позицию начала значения атрибута text или -1.
func textAttrStart(line string) int {
	from := 0
	for {
		idx := strings.Index(line[from:], `text="`)
		if idx < 0 {
			return -1
		}
		idx += from
		// отсекаем атрибуты вида subtext="..."
		if idx == 0 || line[idx-1] == ' ' || line[idx-1] == '\t' {
			return idx + len(`text="`)
		}
		from = idx + 1
	}
}
