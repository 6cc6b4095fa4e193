package orm

import "sync"

// MacroFunc extends Builder with a named operation.
type MacroFunc func(b *Builder, args ...interface{}) *Builder

// The macro table is process-wide and read-mostly: register macros at
// startup, before builders are used concurrently.
var macros = struct {
	sync.RWMutex
	m map[string]MacroFunc
}{m: make(map[string]MacroFunc)}

// RegisterMacro adds or replaces the macro name.
func RegisterMacro(name string, fn MacroFunc) {
	macros.Lock()
	defer macros.Unlock()
	macros.m[name] = fn
}

// HasMacro reports whether name is registered.
func HasMacro(name string) bool {
	macros.RLock()
	defer macros.RUnlock()
	_, ok := macros.m[name]
	return ok
}

// ResetMacros removes every macro. Meant for test isolation.
func ResetMacros() {
	macros.Lock()
	defer macros.Unlock()
	macros.m = make(map[string]MacroFunc)
}

func lookupMacro(name string) (MacroFunc, bool) {
	macros.RLock()
	defer macros.RUnlock()
	fn, ok := macros.m[name]
	return fn, ok
}

// Macro calls the registered macro name. It panics with a *LogicError when
// name is not registered.
func (b *Builder) Macro(name string, args ...interface{}) *Builder {
	fn, ok := lookupMacro(name)
	if !ok {
		panic(logicErrorf("call to undefined macro [%s] on builder for [%s]", name, b.schema.Name))
	}
	return fn(b, args...)
}
