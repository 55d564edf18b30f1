package openapi

import "github.com/getkin/kin-openapi/openapi3"

// Schema builders shared by the document generator.

func stringSchema(description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{"string"},
		Description: description,
	}}
}

func formattedSchema(typ, format, description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{typ},
		Format:      format,
		Description: description,
	}}
}

func int64Schema(description string) *openapi3.SchemaRef {
	return formattedSchema("integer", "int64", description)
}

func timeSchema(description string, nullable bool) *openapi3.SchemaRef {
	s := formattedSchema("string", "date-time", description)
	s.Value.Nullable = nullable
	return s
}

func enumSchema(description string, values ...string) *openapi3.SchemaRef {
	s := stringSchema(description)
	for _, v := range values {
		s.Value.Enum = append(s.Value.Enum, v)
	}
	return s
}

func objectSchema(required []string, props openapi3.Schemas) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Required:   required,
		Properties: props,
	}}
}

func arrayOf(ref string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:  &openapi3.Types{"array"},
		Items: componentRef(ref),
	}}
}

func componentRef(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}
