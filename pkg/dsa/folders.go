package dsa

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// EnsureFolders guarantees that a folder exists under parent for each name.
// Existing folders are resolved with a single listing call; only the missing
// ones are created. The returned map combines both and covers every
// requested name on success.
func EnsureFolders(ctx context.Context, client Client, parentID, parentType string, names []string) (map[string]Folder, error) {
	existing, err := client.ListFolders(ctx, parentID, parentType)
	if err != nil {
		return nil, eris.Wrap(err, "dsa: list folders for ensure")
	}

	byName := make(map[string]Folder, len(existing))
	for _, f := range existing {
		byName[f.Name] = f
	}

	out := make(map[string]Folder, len(names))
	created := 0
	for _, name := range names {
		if f, ok := byName[name]; ok {
			out[name] = f
			continue
		}
		f, err := client.CreateFolder(ctx, parentID, name, parentType, true)
		if err != nil {
			return nil, eris.Wrapf(err, "dsa: create folder %q", name)
		}
		out[name] = *f
		created++
	}

	if created > 0 {
		zap.L().Info("ensured folders",
			zap.Int("existing", len(names)-created),
			zap.Int("created", created),
		)
	}
	return out, nil
}
