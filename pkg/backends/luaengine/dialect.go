package luaengine

import (
	"fmt"
	"strings"
)

// ImportSource returns a statement that loads path as module name.
func (e *Engine) ImportSource(module, path string, reload bool) string {
	return fmt.Sprintf("openstudio.import_file(%s, %s, %t)", quote(module), quote(path), reload)
}

// ClassListSource returns an expression yielding the newline separated
// names of the module's classes deriving from baseType.
func (e *Engine) ClassListSource(module, baseType string) string {
	return fmt.Sprintf("openstudio.class_list(openstudio.module(%s), %s)", quote(module), baseType)
}

// SubclassSource returns an expression yielding "true" when the module's
// class derives from baseType.
func (e *Engine) SubclassSource(module, class, baseType string) string {
	return fmt.Sprintf("tostring(openstudio.issubclass(openstudio.module(%s)[%s], %s))",
		quote(module), quote(class), baseType)
}

// NewInstanceSource returns an expression constructing the module's class.
func (e *Engine) NewInstanceSource(module, class string) string {
	return fmt.Sprintf("openstudio.module(%s)[%s]()", quote(module), quote(class))
}

// quote renders s as a double-quoted Lua string literal. Control bytes use
// decimal escapes; UTF-8 passes through unchanged.
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\', '"':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 || c == 0x7f {
				fmt.Fprintf(&b, "\\%03d", c)
			} else {
				b.WriteByte(c)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}
