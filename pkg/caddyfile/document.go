// Package caddyfile implements a line-oriented parser, serializer and
// template engine for the brace-delimited Caddyfile format. The engine only
// needs to understand enough structure to update one named site block without
// disturbing the rest of the file; directive semantics are left to the caddy
// binary itself.
package caddyfile

// Document is the in-memory representation of a Caddyfile: the interior lines
// of the leading unnamed global block, plus named site blocks in file order.
type Document struct {
	// GlobalOptions holds the interior lines of the global options block,
	// order-significant, without the surrounding braces.
	GlobalOptions []string

	blocks map[string][]string
	order  []string
}

// NewDocument creates an empty document.
func NewDocument() *Document {
	return &Document{
		blocks: make(map[string][]string),
	}
}

// Block returns the content lines of the named block.
func (d *Document) Block(name string) ([]string, bool) {
	lines, ok := d.blocks[name]
	return lines, ok
}

// HasBlock reports whether a block with the given name exists.
func (d *Document) HasBlock(name string) bool {
	_, ok := d.blocks[name]
	return ok
}

// BlockNames returns block names in document order.
func (d *Document) BlockNames() []string {
	names := make([]string, len(d.order))
	copy(names, d.order)
	return names
}

// BlockCount returns the number of named blocks.
func (d *Document) BlockCount() int {
	return len(d.order)
}

// UpsertBlock replaces the named block's content entirely, or appends a new
// block if the name is not present. Update is whole-block replacement, never
// a merge.
func (d *Document) UpsertBlock(name string, lines []string) {
	content := make([]string, len(lines))
	copy(content, lines)

	if _, ok := d.blocks[name]; !ok {
		d.order = append(d.order, name)
	}
	d.blocks[name] = content
}

// RemoveBlock deletes the named block. It reports whether the block existed.
func (d *Document) RemoveBlock(name string) bool {
	if _, ok := d.blocks[name]; !ok {
		return false
	}
	delete(d.blocks, name)
	for i, n := range d.order {
		if n == name {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return true
}

// SetGlobalOptions replaces the global options block content.
func (d *Document) SetGlobalOptions(lines []string) {
	content := make([]string, len(lines))
	copy(content, lines)
	d.GlobalOptions = content
}
