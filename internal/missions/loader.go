package missions

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"

	"gopkg.in/yaml.v3"
)

const BuiltinPackID = "pandas-basics"

//go:embed packs
var builtinFS embed.FS

type FSLoader struct{}

func NewLoader() *FSLoader { return &FSLoader{} }

// Builtin loads the packs compiled into the binary.
func (l *FSLoader) Builtin(ctx context.Context) ([]Pack, error) {
	sub, err := fs.Sub(builtinFS, "packs")
	if err != nil {
		return nil, err
	}
	return l.LoadPacks(ctx, sub)
}

// LoadDir loads packs from a directory on disk.
func (l *FSLoader) LoadDir(ctx context.Context, root string) ([]Pack, error) {
	return l.LoadPacks(ctx, os.DirFS(root))
}

// LoadPacks reads every <dir>/pack.yaml directly under the root of fsys.
func (l *FSLoader) LoadPacks(ctx context.Context, fsys fs.FS) ([]Pack, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	packs := make([]Pack, 0)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() {
			continue
		}
		packYAML := path.Join(entry.Name(), "pack.yaml")
		if _, err := fs.Stat(fsys, packYAML); err != nil {
			continue
		}
		pack, err := readPack(fsys, packYAML)
		if err != nil {
			return nil, fmt.Errorf("load pack %s: %w", entry.Name(), err)
		}
		pack.Path = entry.Name()
		applyPackDefaults(&pack)
		if err := readDatasets(fsys, &pack); err != nil {
			return nil, fmt.Errorf("load pack %s: %w", entry.Name(), err)
		}
		packs = append(packs, pack)
	}

	sort.Slice(packs, func(i, j int) bool { return packs[i].PackID < packs[j].PackID })
	return packs, nil
}

func readPack(fsys fs.FS, name string) (Pack, error) {
	var pack Pack
	b, err := fs.ReadFile(fsys, name)
	if err != nil {
		return pack, err
	}
	if err := yaml.Unmarshal(b, &pack); err != nil {
		return pack, fmt.Errorf("parse %s: %w", name, err)
	}
	if err := pack.Validate(); err != nil {
		return pack, fmt.Errorf("validate %s: %w", name, err)
	}
	return pack, nil
}

func readDatasets(fsys fs.FS, pack *Pack) error {
	for i := range pack.Datasets {
		b, err := fs.ReadFile(fsys, path.Join(pack.Path, pack.Datasets[i].Path))
		if err != nil {
			return fmt.Errorf("dataset %s: %w", pack.Datasets[i].Path, err)
		}
		pack.Datasets[i].Content = b
	}
	return nil
}

func applyPackDefaults(pack *Pack) {
	if pack.Level <= 0 {
		pack.Level = 1
	}
	if pack.Session.DurationSeconds == 0 {
		pack.Session.DurationSeconds = 20 * 60
	}
	if pack.Session.WarnSeconds == 0 && pack.Session.DurationSeconds > 5*60 {
		pack.Session.WarnSeconds = 5 * 60
	}
	for i := range pack.Missions {
		for j := range pack.Missions[i].Checks {
			c := &pack.Missions[i].Checks[j]
			if c.Type == CheckPlotTicksEqual && c.Count == 0 {
				c.Count = 5
			}
		}
	}
}

func (l *FSLoader) FindPack(packs []Pack, packID string) (Pack, error) {
	for _, p := range packs {
		if p.PackID == packID {
			return p, nil
		}
	}
	return Pack{}, fmt.Errorf("pack %s not found", packID)
}
