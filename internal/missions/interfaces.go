package missions

import (
	"context"
	"io/fs"
)

type Loader interface {
	LoadPacks(ctx context.Context, fsys fs.FS) ([]Pack, error)
	FindPack(packs []Pack, packID string) (Pack, error)
}
