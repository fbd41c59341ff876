// Package schema validates action payloads against CUE schemas.
//
// Schemas live under a top-level "entity" struct, one field per entity type:
//
//	package schemas
//
//	entity: users: {
//		name:   string
//		email?: =~"@"
//		age?:   int & >=0
//	}
//
// A CREATE payload must satisfy the schema completely (every required field
// present and concrete). An UPDATE payload is a patch: the fields it carries
// must unify with the schema, missing fields are fine. DELETE carries no
// payload. Entity types without a schema are not checked.
//
// Plain structs are open, so unknown payload fields are accepted. Wrap the
// struct in close() to reject them.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/offsync/internal/ir"
)

// Schemas holds the compiled entity schemas.
//
// Thread-safety: a cue.Context is not safe for concurrent use, so
// ValidatePayload serializes on mu.
type Schemas struct {
	mu       sync.Mutex
	ctx      *cue.Context
	entities map[string]cue.Value
}

// Load compiles every .cue file in dir as one instance.
func Load(dir string) (*Schemas, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("schema directory: not a directory: %s", dir)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, fmt.Errorf("scan schema directory: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("load CUE files: %w", inst.Err)
	}

	return build(ctx, ctx.BuildInstance(inst))
}

// Compile builds schemas from CUE source text.
func Compile(src string) (*Schemas, error) {
	ctx := cuecontext.New()
	return build(ctx, ctx.CompileString(src, cue.Filename("schemas.cue")))
}

func build(ctx *cue.Context, value cue.Value) (*Schemas, error) {
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("build CUE value: %w", err)
	}

	s := &Schemas{ctx: ctx, entities: make(map[string]cue.Value)}

	entities := value.LookupPath(cue.ParsePath("entity"))
	if !entities.Exists() {
		return s, nil
	}
	iter, err := entities.Fields()
	if err != nil {
		return nil, fmt.Errorf("iterate entity schemas: %w", err)
	}
	for iter.Next() {
		s.entities[iter.Selector().Unquoted()] = iter.Value()
	}
	return s, nil
}

// EntityTypes returns the entity types that have a schema, sorted.
func (s *Schemas) EntityTypes() []string {
	types := make([]string, 0, len(s.entities))
	for t := range s.entities {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ValidatePayload implements store.PayloadValidator.
func (s *Schemas) ValidatePayload(kind ir.ActionKind, entityType string, payload ir.Payload) error {
	def, ok := s.entities[entityType]
	if !ok || payload == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	v := s.ctx.CompileBytes(data, cue.Filename("payload.json"))
	if err := v.Err(); err != nil {
		return fmt.Errorf("compile payload: %w", err)
	}

	unified := def.Unify(v)
	if kind == ir.KindCreate {
		err = unified.Validate(cue.Concrete(true))
	} else {
		err = unified.Validate()
	}
	if err != nil {
		return fmt.Errorf("%s schema: %w", entityType, err)
	}
	return nil
}
