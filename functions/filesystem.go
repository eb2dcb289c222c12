package functions

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/spf13/cast"
	"github.com/warriorguo/dagflow/types"
)

// localRoot returns the base directory of a local_storage connection.
func localRoot(input types.Data) (string, error) {
	conn, err := connectionInput(input, fileHookSlot)
	if err != nil {
		return "", err
	}
	if conn.ConnType != LocalStorageType {
		return "", types.NewFatalError(errors.NotSupportedf("connection type %q", conn.ConnType))
	}
	base := cast.ToString(conn.Extra[localStorageBase])
	if base == "" {
		return "", types.NewFatalErrorf("connection extra %q is required", localStorageBase)
	}
	return base, nil
}

// resolvePath joins path under base and refuses to leave it.
func resolvePath(base, path string) (string, error) {
	full := filepath.Join(base, filepath.Clean("/"+path))
	if full != filepath.Clean(base) && !strings.HasPrefix(full, filepath.Clean(base)+string(filepath.Separator)) {
		return "", types.NewFatalErrorf("path %q escapes %s", path, base)
	}
	return full, nil
}

// WriteData stores input["data"] at input["path"] below the hook's base path.
func WriteData(ctx types.Context, input types.Data) (any, error) {
	base, err := localRoot(input)
	if err != nil {
		return nil, err
	}
	path, _ := input.GetString(filePathSlot)
	full, err := resolvePath(base, path)
	if err != nil {
		return nil, err
	}

	var data []byte
	switch v := input[fileDataSlot].(type) {
	case []byte:
		data = v
	case nil:
		return nil, types.NewFatalErrorf("input %q is required", fileDataSlot)
	default:
		data = []byte(cast.ToString(v))
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, errors.Trace(err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return nil, errors.Annotatef(err, "write %s", full)
	}
	ctx.Logger().Debugf("wrote %d bytes to %s", len(data), full)
	return path, nil
}

func ReadData(ctx types.Context, input types.Data) (any, error) {
	base, err := localRoot(input)
	if err != nil {
		return nil, err
	}
	path, _ := input.GetString(filePathSlot)
	full, err := resolvePath(base, path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, types.NewFatalError(errors.NotFoundf("file %s", path))
	}
	if err != nil {
		return nil, errors.Annotatef(err, "read %s", full)
	}
	return string(b), nil
}

// ListDirectory returns the sorted names under input["path"].
func ListDirectory(ctx types.Context, input types.Data) (any, error) {
	base, err := localRoot(input)
	if err != nil {
		return nil, err
	}
	path, _ := input.GetString(filePathSlot)
	full, err := resolvePath(base, path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, errors.Annotatef(err, "list %s", full)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]any, 0, len(names))
	for _, name := range names {
		out = append(out, name)
	}
	return out, nil
}
