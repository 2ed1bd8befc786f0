package manifest

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-orbit/orbit/pkg/core"
	"github.com/go-orbit/orbit/pkg/props"
	"github.com/go-orbit/orbit/pkg/state"
)

// Action operations.
const (
	OpSet    = "set"
	OpAdd    = "add"
	OpToggle = "toggle"
	OpDelete = "delete"
	OpCall   = "call"
	OpLog    = "log"
)

// Schema builds the props schema declared by d.
func (d *Descriptor) Schema() (*props.Schema, error) {
	fields := make([]props.Field, 0, len(d.Props))
	for _, p := range d.Props {
		typ, err := props.ParseType(p.Type)
		if err != nil {
			return nil, fmt.Errorf("%s: prop %q: %w", d.Component, p.Name, err)
		}
		f := props.Field{
			Name:     p.Name,
			Type:     typ,
			Required: p.Required,
			Default:  p.Default,
			Min:      p.Min,
			Max:      p.Max,
			OneOf:    p.OneOf,
			Doc:      p.Doc,
		}
		fields = append(fields, f)
	}
	return props.NewSchema(d.Component, fields...)
}

// Compile turns d into a component definition. Every action is checked
// against the schema up front, so a compiled definition never fails on an
// unknown prop or operation at run time.
func (d *Descriptor) Compile() (*core.Definition, error) {
	schema, err := d.Schema()
	if err != nil {
		return nil, err
	}
	c := compiler{component: d.Component, schema: schema}

	def := &core.Definition{
		Name:     d.Component,
		Schema:   schema,
		Handlers: make(map[string]core.Handler),
	}

	initFn, err := c.initState(d.State)
	if err != nil {
		return nil, err
	}
	def.Init = initFn

	for _, in := range d.Interactions {
		def.Interactions = append(def.Interactions, in.Name)
		if len(in.Actions) == 0 {
			continue
		}
		prog, err := c.program("interaction "+in.Name, in.Actions, true)
		if err != nil {
			return nil, err
		}
		def.Handlers[in.Name] = func(ctx *core.Context, payload any) error {
			return prog.run(ctx, payload)
		}
	}

	hooks := []struct {
		name    string
		actions []Action
		set     *core.Hook
	}{
		{core.HookMounted, d.Hooks.Mounted, &def.Mounted},
		{core.HookUpdated, d.Hooks.Updated, &def.Updated},
		{core.HookUnmounted, d.Hooks.Unmounted, &def.Unmounted},
	}
	for _, h := range hooks {
		if len(h.actions) == 0 {
			continue
		}
		prog, err := c.program(h.name+" hook", h.actions, false)
		if err != nil {
			return nil, err
		}
		*h.set = func(ctx *core.Context) error { return prog.run(ctx, nil) }
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

type compiler struct {
	component string
	schema    *props.Schema
}

func (c compiler) errorf(where, format string, args ...any) error {
	return fmt.Errorf("%s: %s: %s", c.component, where, fmt.Sprintf(format, args...))
}

func (c compiler) initState(specs []StateSpec) (func(props.Bundle) (map[string]any, error), error) {
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if s.Name == "" {
			return nil, c.errorf("state", "field without a name")
		}
		if seen[s.Name] {
			return nil, c.errorf("state", "duplicate field %q", s.Name)
		}
		seen[s.Name] = true
		if s.Prop != "" {
			if s.Value != nil {
				return nil, c.errorf("state", "field %q sets both value and prop", s.Name)
			}
			if _, ok := c.schema.Field(s.Prop); !ok {
				return nil, c.errorf("state", "field %q copies undeclared prop %q", s.Name, s.Prop)
			}
		}
	}
	specs = append([]StateSpec(nil), specs...)
	return func(p props.Bundle) (map[string]any, error) {
		out := make(map[string]any, len(specs))
		for _, s := range specs {
			if s.Prop != "" {
				if v, ok := p.Get(s.Prop); ok {
					out[s.Name] = v
				}
				continue
			}
			out[s.Name] = s.Value
		}
		return out, nil
	}, nil
}

// program is a compiled action list. State operations are applied in one
// mutation; calls and log lines run afterwards in declaration order.
type program struct {
	mutations []Action
	effects   []Action
}

func (c compiler) program(where string, actions []Action, hasPayload bool) (*program, error) {
	prog := &program{}
	for n, a := range actions {
		at := fmt.Sprintf("%s action %d", where, n+1)
		sources := 0
		if a.Value != nil {
			sources++
		}
		if a.Prop != "" {
			sources++
		}
		if a.Ambient != "" {
			sources++
		}
		if a.Payload {
			sources++
			if !hasPayload {
				return nil, c.errorf(at, "hooks have no payload")
			}
		}

		switch a.Op {
		case OpSet, OpAdd, OpToggle, OpDelete:
			if a.Field == "" {
				return nil, c.errorf(at, "%s needs a field", a.Op)
			}
		}

		switch a.Op {
		case OpSet:
			if sources != 1 {
				return nil, c.errorf(at, "set needs exactly one of value, prop, ambient or payload")
			}
			if a.Prop != "" {
				if _, ok := c.schema.Field(a.Prop); !ok {
					return nil, c.errorf(at, "undeclared prop %q", a.Prop)
				}
			}
			prog.mutations = append(prog.mutations, a)
		case OpAdd:
			if a.Prop != "" || a.Ambient != "" || sources != 1 {
				return nil, c.errorf(at, "add needs exactly one of value or payload")
			}
			if a.Value != nil {
				if _, ok := number(a.Value); !ok {
					return nil, c.errorf(at, "add value %v is not a number", a.Value)
				}
			}
			prog.mutations = append(prog.mutations, a)
		case OpToggle, OpDelete:
			if sources != 0 {
				return nil, c.errorf(at, "%s takes no value", a.Op)
			}
			prog.mutations = append(prog.mutations, a)
		case OpCall:
			f, ok := c.schema.Field(a.Prop)
			if !ok || f.Type != props.TypeFunc {
				return nil, c.errorf(at, "call needs a callback prop, got %q", a.Prop)
			}
			if a.Ambient != "" {
				return nil, c.errorf(at, "call cannot read ambient values")
			}
			if a.Value != nil && (a.Field != "" || a.Payload) || a.Field != "" && a.Payload {
				return nil, c.errorf(at, "call takes at most one of field, value or payload")
			}
			prog.effects = append(prog.effects, a)
		case OpLog:
			if a.Message == "" {
				return nil, c.errorf(at, "log needs a message")
			}
			prog.effects = append(prog.effects, a)
		default:
			return nil, c.errorf(at, "unknown op %q", a.Op)
		}
	}
	return prog, nil
}

func (p *program) run(ctx *core.Context, payload any) error {
	if len(p.mutations) > 0 {
		// Resolve ambient values outside the mutation; resolving registers
		// the instance as a dependent of the provider.
		var ambient map[string]any
		for _, a := range p.mutations {
			if a.Ambient == "" {
				continue
			}
			if ambient == nil {
				ambient = make(map[string]any)
			}
			ambient[a.Ambient], _ = ctx.Ambient(a.Ambient)
		}
		err := ctx.Mutate(func(d *state.Draft) error {
			for _, a := range p.mutations {
				if err := apply(ctx, d, a, payload, ambient); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	for _, a := range p.effects {
		switch a.Op {
		case OpCall:
			fn := ctx.Props().Func(a.Prop)
			if fn == nil {
				continue
			}
			arg := a.Value
			switch {
			case a.Field != "":
				arg, _ = ctx.State().Get(a.Field)
			case a.Payload:
				arg = payload
			}
			if err := invoke(fn, arg); err != nil {
				return fmt.Errorf("callback %s: %w", a.Prop, err)
			}
		case OpLog:
			ctx.Log("%s", expand(a.Message, ctx.State()))
		}
	}
	return nil
}

func apply(ctx *core.Context, d *state.Draft, a Action, payload any, ambient map[string]any) error {
	switch a.Op {
	case OpSet:
		switch {
		case a.Ambient != "":
			d.Set(a.Field, ambient[a.Ambient])
		case a.Prop != "":
			v, _ := ctx.Props().Get(a.Prop)
			d.Set(a.Field, v)
		case a.Payload:
			d.Set(a.Field, payload)
		default:
			d.Set(a.Field, a.Value)
		}
	case OpAdd:
		delta := a.Value
		if a.Payload {
			delta = payload
		}
		cur, _ := d.Get(a.Field)
		if cur == nil {
			cur = 0
		}
		sum, err := add(cur, delta)
		if err != nil {
			return fmt.Errorf("add to %s: %w", a.Field, err)
		}
		d.Set(a.Field, sum)
	case OpToggle:
		cur, _ := d.Get(a.Field)
		b, ok := cur.(bool)
		if cur != nil && !ok {
			return fmt.Errorf("toggle %s: %v is not a bool", a.Field, cur)
		}
		d.Set(a.Field, !b)
	case OpDelete:
		d.Delete(a.Field)
	}
	return nil
}

// add sums two numbers, keeping an int result when both are integral.
func add(a, b any) (any, error) {
	x, ok := number(a)
	if !ok {
		return nil, fmt.Errorf("%v is not a number", a)
	}
	y, ok := number(b)
	if !ok {
		return nil, fmt.Errorf("%v is not a number", b)
	}
	if !isFloat(a) && !isFloat(b) {
		return int(x) + int(y), nil
	}
	return x + y, nil
}

func isFloat(v any) bool {
	k := reflect.ValueOf(v).Kind()
	return k == reflect.Float32 || k == reflect.Float64
}

func number(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func numericKind(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Float64
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// invoke calls a callback prop taking zero or one argument and returning
// nothing or an error.
func invoke(fn any, arg any) error {
	rv := reflect.ValueOf(fn)
	rt := rv.Type()
	if rt.NumOut() > 1 || rt.NumOut() == 1 && rt.Out(0) != errorType {
		return fmt.Errorf("unsupported callback signature %s", rt)
	}

	var in []reflect.Value
	switch rt.NumIn() {
	case 0:
	case 1:
		param := rt.In(0)
		if arg == nil {
			in = []reflect.Value{reflect.Zero(param)}
			break
		}
		av := reflect.ValueOf(arg)
		switch {
		case av.Type().AssignableTo(param):
		case numericKind(av.Kind()) && numericKind(param.Kind()):
			av = av.Convert(param)
		default:
			return fmt.Errorf("cannot pass %T to %s", arg, rt)
		}
		in = []reflect.Value{av}
	default:
		return fmt.Errorf("unsupported callback signature %s", rt)
	}

	out := rv.Call(in)
	if len(out) == 1 && !out[0].IsNil() {
		return out[0].Interface().(error)
	}
	return nil
}

// expand replaces {field} with the state field's value.
func expand(msg string, s state.Record) string {
	names := s.Names()
	pairs := make([]string, 0, 2*len(names))
	for _, name := range names {
		v, _ := s.Get(name)
		pairs = append(pairs, "{"+name+"}", fmt.Sprint(v))
	}
	return strings.NewReplacer(pairs...).Replace(msg)
}
