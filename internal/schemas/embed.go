package schemas

import (
	"embed"
)

//go:embed *.json
var fs embed.FS

// Specification is the file name of the structured specification schema
const Specification = "specification.schema.json"

// GetSchema returns the content of a schema file by name
func GetSchema(name string) ([]byte, error) {
	return fs.ReadFile(name)
}
