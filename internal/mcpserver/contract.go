package mcpserver

import (
	"gopkg.in/yaml.v3"

	"github.com/starford/blockpatch/internal/document"
)

// DocumentFormatContract describes the block document format that LLM
// consumers should follow when creating documents or sending patches.
const DocumentFormatContract = `# Blockpatch Document Format Contract

A document is a JSON array of blocks. Every block and every child carries a
` + "`_key`" + ` that is unique within its parent and never changes.

## Text blocks

` + "```" + `json
{
  "_key": "a1",
  "_type": "block",
  "style": "normal",
  "markDefs": [{"_key": "l1", "_type": "link", "href": "https://example.com"}],
  "children": [
    {"_key": "s1", "_type": "span", "text": "Hello ", "marks": []},
    {"_key": "s2", "_type": "span", "text": "world", "marks": ["strong", "l1"]}
  ]
}
` + "```" + `

## Rules

1. **Children are never empty.** A text block has at least one span.
2. **Marks** are decorator names or the ` + "`_key`" + ` of a markDef in the same block.
3. **markDefs** is always present, even when empty.
4. **Object blocks** use their type as ` + "`_type`" + ` and carry their fields inline:
   ` + "`" + `{"_key": "i1", "_type": "image", "src": "/img/a.png"}` + "`" + `.
5. **Inline objects** sit among spans and use their type as ` + "`_type`" + `.
6. Styles, decorators, annotations and object types must come from the schema below.

## Patches

Patches address nodes by key path, e.g. ` + "`" + `[{"_key":"a1"},"children",{"_key":"s1"},"text"]` + "`" + `.

- ` + "`set`" + ` / ` + "`setIfMissing`" + ` / ` + "`unset`" + ` write a value at a path.
- ` + "`insert`" + ` places items ` + "`before`" + ` or ` + "`after`" + ` a keyed item.
- ` + "`diffMatchPatch`" + ` carries a text patch for a span's ` + "`text`" + `.

Prefer ` + "`apply_operations`" + ` for edits: the server derives the patches and keeps undo history.
`

// Contract returns the format contract followed by the active schema.
func Contract(schema *document.Schema) string {
	if schema == nil {
		schema = document.DefaultSchema()
	}
	out, err := yaml.Marshal(schema)
	if err != nil {
		return DocumentFormatContract
	}
	return DocumentFormatContract + "\n## Schema\n\n```yaml\n" + string(out) + "```\n"
}
