// Package defaults provides the embedded example configuration written
// by the mcpbridge init subcommand.
package defaults

import _ "embed"

//go:embed config.example.yaml
var ConfigYAML []byte
