package jsengine

import (
	"encoding/json"
	"fmt"
)

// ImportSource returns a statement that loads path as module name.
func (e *Engine) ImportSource(module, path string, reload bool) string {
	return fmt.Sprintf("openstudio.import_file(%s, %s, %t);", quote(module), quote(path), reload)
}

// ClassListSource returns an expression yielding the newline separated
// names of the module's exported classes deriving from baseType.
func (e *Engine) ClassListSource(module, baseType string) string {
	return fmt.Sprintf("openstudio.class_list(openstudio.module(%s), %s)", quote(module), baseType)
}

// SubclassSource returns an expression yielding "true" when the module's
// exported class derives from baseType.
func (e *Engine) SubclassSource(module, class, baseType string) string {
	return fmt.Sprintf("String(openstudio.issubclass(openstudio.module(%s)[%s], %s))",
		quote(module), quote(class), baseType)
}

// NewInstanceSource returns an expression constructing the module's
// exported class.
func (e *Engine) NewInstanceSource(module, class string) string {
	return fmt.Sprintf("new (openstudio.module(%s)[%s])()", quote(module), quote(class))
}

// quote renders s as a JavaScript string literal. JSON string syntax is a
// subset of it once U+2028 and U+2029 are escaped, which encoding/json does.
func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
