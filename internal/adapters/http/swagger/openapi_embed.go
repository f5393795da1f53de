package swagger

import _ "embed"

// OpenAPI contains the embedded OpenAPI YAML specification of the results API.
//
//go:embed openapi.yaml
var OpenAPI []byte
