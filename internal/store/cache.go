package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/marte-community/dt-engine/internal/codec"
	"github.com/marte-community/dt-engine/internal/dt"
	"github.com/marte-community/dt-engine/internal/logger"
)

// Key derives the cache key for loading dirs (content first, then mods)
// under the globals of d.
func Key(d *dt.DT, dirs ...string) (string, error) {
	fp, err := dt.SourceFingerprint(dirs...)
	if err != nil {
		return "", err
	}
	globals := d.Globals()
	names := make([]string, 0, len(globals))
	for k := range globals {
		names = append(names, k)
	}
	sort.Strings(names)

	h := sha256.New()
	h.Write([]byte(fp))
	for _, k := range names {
		fmt.Fprintf(h, "\x00%s=%s", k, globals[k].Literal())
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Load fills d with contentDir and the mods applied in order. When s holds
// a blob for the same sources it is decoded instead of parsing; otherwise
// the sources are loaded and, if they resolved cleanly, stored in s. A nil
// s always loads from the sources. Load reports whether the cache was used.
func Load(ctx context.Context, s BlobStore, d *dt.DT, contentDir string, mods []string) (bool, error) {
	dirs := append([]string{contentDir}, mods...)
	var key string
	if s != nil {
		var err error
		if key, err = Key(d, dirs...); err != nil {
			return false, err
		}
		b, err := s.Get(ctx, key)
		switch {
		case err == nil:
			err := codec.LoadDT(bytes.NewReader(b.Data), d, key+".dtb")
			if err == nil {
				logger.Debug("cache hit", "key", key, "generation", b.Generation)
				return true, nil
			}
			logger.Warn("discarding unreadable cache blob", "key", key, "error", err)
			d.Reset()
		case errors.Is(err, ErrNotFound):
			logger.Debug("cache miss", "key", key)
		default:
			return false, err
		}
	}

	if err := d.LoadDir(contentDir); err != nil {
		return false, err
	}
	if len(mods) > 0 {
		if err := d.LoadMods(mods...); err != nil {
			return false, err
		}
	}
	if s == nil || d.HasErrors() {
		return false, nil
	}

	data, err := codec.Marshal(d.Roots())
	if err != nil {
		return false, err
	}
	blob := &Blob{Key: key, Generation: d.Generation().String(), Data: data}
	if err := s.Put(ctx, blob); err != nil {
		return false, err
	}
	logger.Debug("cache stored", "key", key, "bytes", len(data))
	return false, nil
}
