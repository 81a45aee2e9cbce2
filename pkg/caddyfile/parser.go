package caddyfile

import (
	"fmt"
	"strings"

	"github.com/proxy-tools/caddyctl/pkg/errors"
	"github.com/proxy-tools/caddyctl/pkg/logging"
)

// lineKind classifies a trimmed input line. Classification is done up front
// so the brace-imbalance edge cases are handled in one place instead of
// inline string matching scattered through the scan loop.
type lineKind int

const (
	lineBlank lineKind = iota
	lineComment
	lineOpen      // bare "{"
	lineClose     // bare "}"
	lineBlockHead // "<name> {" with optional trailing content
	lineText
)

// classifyLine tokenizes a single line. A "{" is structural only when it is
// the last token on the line, and a "}" only when alone on the line; this is
// what keeps single-token runtime placeholders such as {remote_host} or
// {env.CLOUDFLARE_API_TOKEN} from being mistaken for block delimiters.
func classifyLine(trimmed string) lineKind {
	switch {
	case trimmed == "":
		return lineBlank
	case strings.HasPrefix(trimmed, "#"):
		return lineComment
	case trimmed == "{":
		return lineOpen
	case trimmed == "}":
		return lineClose
	case strings.HasSuffix(trimmed, " {") || strings.HasSuffix(trimmed, "\t{"):
		return lineBlockHead
	default:
		return lineText
	}
}

// Parser converts Caddyfile text into a Document.
type Parser struct {
	logger logging.Logger
}

// NewParser creates a Caddyfile parser.
func NewParser(logger logging.Logger) *Parser {
	return &Parser{logger: logger}
}

// Parse converts raw Caddyfile text into a Document. Empty input yields an
// empty document. Malformed input (a close brace with no matching open, or a
// duplicate block name) fails with a format error identifying the line;
// callers that want to discard a broken file and start fresh must do so
// explicitly, the parser never does it for them.
//
// An unclosed block at end of input is kept with a warning rather than
// discarded: losing user data is worse than keeping a malformed fragment.
//
// Known limitation: brace characters embedded mid-line in directive values
// are not treated as structural, and no escaping mechanism exists. The
// Caddyfile format as consumed here does not require one.
func (p *Parser) Parse(text string) (*Document, error) {
	doc := NewDocument()

	depth := 0
	inGlobal := false
	blockName := ""
	var blockLines []string

	for lineNo, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		kind := classifyLine(line)

		if kind == lineBlank || kind == lineComment {
			continue
		}

		if depth == 0 {
			switch kind {
			case lineOpen:
				// Leading unnamed block: its interior is the global options.
				inGlobal = true
				depth = 1
			case lineBlockHead, lineText:
				if kind == lineText && !strings.Contains(line, "{") {
					// Stray top-level line. Caddy itself would reject it, but
					// we keep it with the global options so nothing the user
					// wrote is dropped.
					p.logger.Warnf("Keeping stray top-level line %d with global options: %s", lineNo+1, line)
					doc.GlobalOptions = append(doc.GlobalOptions, line)
					continue
				}
				// "<name> {" opens a new block; any trailing content on the
				// same line becomes the block's first content line, and a
				// trailing bare "}" closes it again immediately.
				head, trailing := splitBlockHead(line)
				if head == "" {
					return nil, errors.NewFormatError(
						fmt.Sprintf("block with empty name at line %d", lineNo+1), nil).
						WithContext("line", lineNo+1)
				}
				if doc.HasBlock(head) {
					return nil, errors.NewFormatError(
						fmt.Sprintf("duplicate block %q at line %d", head, lineNo+1), nil).
						WithContext("line", lineNo+1).WithContext("block", head)
				}
				closed := false
				if trailing == "}" {
					trailing, closed = "", true
				} else if strings.HasSuffix(trailing, " }") {
					trailing, closed = strings.TrimSpace(strings.TrimSuffix(trailing, "}")), true
				}
				blockName = head
				blockLines = nil
				if trailing != "" {
					blockLines = append(blockLines, trailing)
				}
				if closed {
					doc.UpsertBlock(blockName, blockLines)
					blockName = ""
					blockLines = nil
				} else {
					depth = 1
					// Trailing content can itself open a nested sub-block,
					// as in "a.com { log {"; its close must not be taken
					// for the block's own delimiter.
					switch classifyLine(trailing) {
					case lineOpen, lineBlockHead:
						depth = 2
					}
				}
			case lineClose:
				return nil, errors.NewFormatError(
					fmt.Sprintf("unmatched close brace at line %d", lineNo+1), nil).
					WithContext("line", lineNo+1).WithContext("depth", depth)
			}
			continue
		}

		// Interior of the global block or a named block.
		switch kind {
		case lineOpen, lineBlockHead:
			depth++
			p.appendInterior(doc, inGlobal, &blockLines, line)
		case lineClose:
			depth--
			if depth == 0 {
				// The block's own closing delimiter, not content.
				if inGlobal {
					inGlobal = false
				} else {
					doc.UpsertBlock(blockName, blockLines)
					blockName = ""
					blockLines = nil
				}
			} else {
				// Close of a nested sub-block stays part of the content.
				p.appendInterior(doc, inGlobal, &blockLines, line)
			}
		case lineText:
			p.appendInterior(doc, inGlobal, &blockLines, line)
		}
	}

	if depth > 0 {
		// Unclosed block at end of input: capture what we have.
		if inGlobal {
			p.logger.Warnf("Global options block not closed at end of input, keeping its %d lines", len(doc.GlobalOptions))
		} else if blockName != "" {
			p.logger.Warnf("Block %q not closed at end of input, keeping its %d lines", blockName, len(blockLines))
			doc.UpsertBlock(blockName, blockLines)
		}
	}

	return doc, nil
}

func (p *Parser) appendInterior(doc *Document, inGlobal bool, blockLines *[]string, line string) {
	if inGlobal {
		doc.GlobalOptions = append(doc.GlobalOptions, line)
	} else {
		*blockLines = append(*blockLines, line)
	}
}

// splitBlockHead splits "<name> { trailing" into the block name and any
// trailing content after the brace.
func splitBlockHead(line string) (head string, trailing string) {
	idx := strings.Index(line, "{")
	head = strings.TrimSpace(line[:idx])
	trailing = strings.TrimSpace(line[idx+1:])
	return head, trailing
}
