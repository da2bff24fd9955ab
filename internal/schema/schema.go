// Package schema validates command payloads against CUE definitions.
//
// Every command may carry a schema written as a CUE definition named
// #Payload. Definitions are closed, so unknown fields are rejected.
// Payloads are JSON, which CUE reads natively.
package schema

import (
	"errors"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/braid/internal/ir"
)

// definition is the path every schema source must define.
const definition = "#Payload"

// Schema is a compiled payload schema.
//
// A cue.Context is not safe for concurrent use, so each Schema owns its
// context and serializes validation.
type Schema struct {
	name   string
	source string

	mu  sync.Mutex
	ctx *cue.Context
	def cue.Value
}

// Compile parses src, which must define #Payload.
//
//	s, err := schema.Compile("create-room", `#Payload: {id: string & !="", name: string}`)
func Compile(name, src string) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(name+".cue"))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def := v.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return nil, &CompileError{
			Field:   definition,
			Message: "schema must define " + definition,
			Pos:     v.Pos(),
		}
	}
	if err := def.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	return &Schema{name: name, source: src, ctx: ctx, def: def}, nil
}

// MustCompile is like Compile but panics on error. Use for schemas that
// are compiled into the binary.
func MustCompile(name, src string) *Schema {
	s, err := Compile(name, src)
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	return s
}

// Name returns the schema name.
func (s *Schema) Name() string {
	return s.name
}

// Source returns the CUE source the schema was compiled from.
func (s *Schema) Source() string {
	return s.source
}

// Validate checks a JSON payload. Failures are ValidationErrors carrying
// the CUE position in Details.
func (s *Schema) Validate(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.ctx.CompileBytes(payload, cue.Filename("payload.json"))
	if err := data.Err(); err != nil {
		return validationError(s.name, formatCUEError(err))
	}

	unified := s.def.Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return validationError(s.name, formatCUEError(err))
	}
	return nil
}

func validationError(name string, err error) error {
	e := ir.WrapError(ir.CodeValidation, "payload does not match "+name, err)
	var ce *CompileError
	if errors.As(err, &ce) {
		e.Details = map[string]string{"field": ce.Field, "message": ce.Message}
		if ce.Pos.IsValid() {
			e.Details["pos"] = ce.Pos.String()
		}
	}
	return e
}

// CompileError carries a CUE position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	path := cueerrors.Path(first)
	field := "cue"
	if len(path) > 0 {
		field = path[len(path)-1]
	}
	positions := cueerrors.Positions(first)
	if len(positions) > 0 {
		return &CompileError{
			Field:   field,
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return &CompileError{Field: field, Message: first.Error()}
}
