package migrate

import (
	"embed"
	"io/fs"
)

//go:embed migrations seeds
var embedded embed.FS

// Embedded returns the schema files compiled into the binary.
func Embedded() fs.FS {
	return embedded
}
