// Package docs 内嵌管理接口的 OpenAPI 文档
package docs

import _ "embed"

//go:embed openapi.yaml
var OpenAPI []byte
