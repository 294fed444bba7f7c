// Package docs embeds the OpenAPI description served at /openapi.yaml and
// rendered by the swagger UI under /docs/.
package docs

import _ "embed"

//go:embed openapi.yaml
var OpenAPI []byte
