package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/morezero/rainbow-bridge/pkg/codec"
)

const schemaLogPrefix = "registry:schema"

var reflector = &jsonschema.Reflector{
	ExpandedStruct:             true,
	DoNotReference:             true,
	AllowAdditionalProperties:  true,
	RequiredFromJSONSchemaTags: true,
}

type compiledSchema struct {
	raw    json.RawMessage
	schema *sjsonschema.Schema
}

// schemas caches compiled schemas by params type.
var schemas sync.Map

func schemaForType(t reflect.Type) (*compiledSchema, error) {
	if cached, ok := schemas.Load(t); ok {
		return cached.(*compiledSchema), nil
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%s - params model must be a struct, got %s", schemaLogPrefix, t.Kind())
	}

	raw, err := json.Marshal(reflector.ReflectFromType(t))
	if err != nil {
		return nil, fmt.Errorf("%s - failed to marshal schema for %s: %w", schemaLogPrefix, t.Name(), err)
	}

	url := "https://rainbowbridge.local/schemas/" + t.PkgPath() + "/" + t.Name() + ".json"
	compiler := sjsonschema.NewCompiler()
	compiler.Draft = sjsonschema.Draft2020
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%s - failed to add schema for %s: %w", schemaLogPrefix, t.Name(), err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to compile schema for %s: %w", schemaLogPrefix, t.Name(), err)
	}

	cs := &compiledSchema{raw: raw, schema: schema}
	actual, _ := schemas.LoadOrStore(t, cs)
	return actual.(*compiledSchema), nil
}

// SchemaFor returns the JSON Schema reflected from a params struct.
func SchemaFor(model any) (json.RawMessage, error) {
	if model == nil {
		return nil, fmt.Errorf("%s - nil params model", schemaLogPrefix)
	}
	cs, err := schemaForType(reflect.TypeOf(model))
	if err != nil {
		return nil, err
	}
	return cs.raw, nil
}

// Validate checks params against the schema of P.
func Validate[P any](params codec.Params) error {
	var zero P
	cs, err := schemaForType(reflect.TypeOf(zero))
	if err != nil {
		return Wrap(CodeInternal, err)
	}
	doc := map[string]any(params)
	if doc == nil {
		doc = map[string]any{}
	}
	if err := cs.schema.Validate(doc); err != nil {
		return Errorf(CodeInvalidArgument, "invalid params: %v", err)
	}
	return nil
}

// Typed adapts a handler taking a params struct. Params are validated against
// the struct's schema and bound before fn runs.
func Typed[P any](fn func(ctx context.Context, params P, emit Emitter) error) Handler {
	return func(ctx context.Context, params codec.Params, emit Emitter) error {
		if err := Validate[P](params); err != nil {
			return err
		}
		var p P
		if err := params.Bind(&p); err != nil {
			return Wrap(CodeInvalidArgument, err)
		}
		return fn(ctx, p, emit)
	}
}
