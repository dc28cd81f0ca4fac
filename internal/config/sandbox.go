package config

import (
	lua "github.com/yuin/gopher-lua"
)

// safeLibs are the only standard libraries opened in a config VM.
var safeLibs = []struct {
	name string
	open lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// unsafeBaseFuncs load code, touch metatables or the collector.
var unsafeBaseFuncs = []string{
	"dofile",
	"loadfile",
	"load",
	"loadstring",
	"require",
	"module",
	"getfenv",
	"setfenv",
	"getmetatable",
	"setmetatable",
	"rawget",
	"rawset",
	"rawequal",
	"collectgarbage",
	"newproxy",
}

// newSandboxedVM creates a Lua VM for config parsing. os, io, package and
// debug are never opened.
func newSandboxedVM() *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       256,
		RegistrySize:        1024 * 8,
		IncludeGoStackTrace: false,
	})
	for _, lib := range safeLibs {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range unsafeBaseFuncs {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}
