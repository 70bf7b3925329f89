package starlarkengine

import (
	"fmt"
	"strconv"
)

// ImportSource returns a statement that loads path as module name.
func (e *Engine) ImportSource(module, path string, reload bool) string {
	return fmt.Sprintf("openstudio.import_file(%s, %s, %s)", quote(module), quote(path), pyBool(reload))
}

// ClassListSource returns an expression yielding the newline separated
// names of the module's classes deriving from baseType.
func (e *Engine) ClassListSource(module, baseType string) string {
	return fmt.Sprintf("openstudio.class_list(openstudio.module(%s), %s)", quote(module), baseType)
}

// SubclassSource returns an expression yielding "true" when the module's
// class derives from baseType.
func (e *Engine) SubclassSource(module, class, baseType string) string {
	return fmt.Sprintf(`"true" if openstudio.issubclass(getattr(openstudio.module(%s), %s), %s) else "false"`,
		quote(module), quote(class), baseType)
}

// NewInstanceSource returns an expression constructing the module's class.
func (e *Engine) NewInstanceSource(module, class string) string {
	return fmt.Sprintf("getattr(openstudio.module(%s), %s)()", quote(module), quote(class))
}

// quote renders s as a Starlark string literal. Starlark accepts Go's
// escape sequences.
func quote(s string) string {
	return strconv.Quote(s)
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
