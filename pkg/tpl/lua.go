package tpl

import (
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/aymerick/raymond"
	"github.com/rotisserie/eris"
	lua "github.com/yuin/gopher-lua"
)

// luaHelpers runs the helpers from the helper directory. Each file defines a global function named after the
// file which receives the helper arguments followed by an options table:
//
//	function upper(text, options)
//	  return string.upper(text)
//	end
//
// options.fn() renders the block body, options.inverse() the else branch and options.hash holds the named
// arguments.
type luaHelpers struct {
	lock  sync.Mutex
	state *lua.LState
	funcs map[string]*lua.LFunction
}

func loadLuaHelpers(files []string) (*luaHelpers, error) {
	state := lua.NewState()
	result := &luaHelpers{
		state: state,
		funcs: make(map[string]*lua.LFunction),
	}

	for _, file := range files {
		err := state.DoFile(file)
		if err != nil {
			state.Close()
			return nil, eris.Wrapf(err, "failed to load helper %s", file)
		}

		name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		fn, ok := state.GetGlobal(name).(*lua.LFunction)
		if !ok {
			state.Close()
			return nil, eris.Errorf("%s does not define a function named %s", file, name)
		}

		result.funcs[name] = fn
	}

	return result, nil
}

func (h *luaHelpers) Names() []string {
	names := make([]string, 0, len(h.funcs))
	for name := range h.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *luaHelpers) Close() {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.state.Close()
}

var (
	interfaceType = reflect.TypeOf((*interface{})(nil)).Elem()
	optionsType   = reflect.TypeOf((*raymond.Options)(nil))
	safeType      = reflect.TypeOf(raymond.SafeString(""))
)

// Helper builds a raymond helper for the named Lua function. raymond checks the argument count against the Go
// signature so the helper's arity is taken from the Lua function's parameter list (minus options).
func (h *luaHelpers) Helper(name string) interface{} {
	fn := h.funcs[name]
	arity := 0
	if fn.Proto != nil && fn.Proto.NumParameters > 0 {
		arity = int(fn.Proto.NumParameters) - 1
	}

	in := make([]reflect.Type, arity+1)
	for i := 0; i < arity; i++ {
		in[i] = interfaceType
	}
	in[arity] = optionsType

	fnType := reflect.FuncOf(in, []reflect.Type{safeType}, false)
	impl := reflect.MakeFunc(fnType, func(args []reflect.Value) []reflect.Value {
		params := make([]interface{}, arity)
		for i := 0; i < arity; i++ {
			params[i] = args[i].Interface()
		}

		options := args[arity].Interface().(*raymond.Options)
		result, err := h.call(name, params, options)
		if err != nil {
			// raymond turns panics during Exec into errors
			panic(err)
		}

		return []reflect.Value{reflect.ValueOf(raymond.SafeString(result))}
	})

	return impl.Interface()
}

// call expects the caller to hold h.lock. Block bodies may call other helpers on the same state.
func (h *luaHelpers) call(name string, params []interface{}, options *raymond.Options) (string, error) {
	L := h.state
	args := make([]lua.LValue, 0, len(params)+1)
	for _, param := range params {
		args = append(args, toLua(L, param))
	}

	opts := L.NewTable()
	opts.RawSetString("fn", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(options.Fn()))
		return 1
	}))
	opts.RawSetString("inverse", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(options.Inverse()))
		return 1
	}))
	opts.RawSetString("hash", toLua(L, options.Hash()))
	args = append(args, opts)

	err := L.CallByParam(lua.P{
		Fn:      h.funcs[name],
		NRet:    1,
		Protect: true,
	}, args...)
	if err != nil {
		return "", eris.Wrapf(err, "helper %s failed", name)
	}

	ret := L.Get(-1)
	L.Pop(1)

	if ret == lua.LNil {
		return "", nil
	}
	return ret.String(), nil
}

func toLua(L *lua.LState, value interface{}) lua.LValue {
	switch value := value.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(value)
	case raymond.SafeString:
		return lua.LString(value)
	case bool:
		return lua.LBool(value)
	case int:
		return lua.LNumber(value)
	case int64:
		return lua.LNumber(value)
	case float64:
		return lua.LNumber(value)
	case []interface{}:
		table := L.NewTable()
		for _, item := range value {
			table.Append(toLua(L, item))
		}
		return table
	case map[string]interface{}:
		table := L.NewTable()
		for k, v := range value {
			table.RawSetString(k, toLua(L, v))
		}
		return table
	}

	return lua.LString(fmt.Sprint(value))
}
