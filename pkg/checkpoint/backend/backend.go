// Package backend opens a checkpoint store by name.
package backend

import (
	"fmt"

	"github.com/absmach/fedids/pkg/checkpoint"
	"github.com/absmach/fedids/pkg/checkpoint/badger"
	"github.com/absmach/fedids/pkg/checkpoint/fs"
)

const (
	FS     = "fs"
	Badger = "badger"
)

func Open(kind, path string) (checkpoint.Store, error) {
	switch kind {
	case FS, "":
		return fs.NewStore(path)
	case Badger:
		return badger.NewStore(path)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", kind)
	}
}
