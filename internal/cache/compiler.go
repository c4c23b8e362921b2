package cache

import (
	"context"
	"io/fs"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Norgate-AV/pbuild/internal/compiler"
	"github.com/Norgate-AV/pbuild/internal/target"
)

// Cached wraps a compiler, restoring outputs for targets whose fingerprint
// was built before. Cache failures never fail a build; they fall back to
// compiling.
type Cached struct {
	Compiler compiler.Compiler
	Cache    *Cache

	// FS is the project root the inputs are matched in
	FS fs.FS

	// Root is the project root on disk outputs are restored to
	Root string

	// Inputs are the source globs hashed into each fingerprint
	Inputs []string

	// Salt distinguishes bundler versions and settings outside the tree
	Salt string

	Logger *log.Logger
}

// Compile restores t from the cache or compiles it and stores the result
func (c *Cached) Compile(ctx context.Context, t target.Target) compiler.Result {
	start := time.Now()

	hash, err := Fingerprint(t, c.FS, c.Inputs, c.Salt)
	if err != nil {
		c.Logger.Debug("Skipping cache", "target", t.ID, "err", err)
		return c.Compiler.Compile(ctx, t)
	}

	if c.restore(t, hash) {
		return compiler.Result{
			Target:   t,
			Success:  true,
			Cached:   true,
			Duration: time.Since(start),
		}
	}

	result := c.Compiler.Compile(ctx, t)
	if !result.Success {
		return result
	}

	outputs, err := CollectOutputs(c.Root, t.Outfile)
	if err == nil {
		err = c.Cache.Store(hash, t.ID, c.Root, outputs)
	}

	if err != nil {
		c.Logger.Warn("Failed to cache build", "target", t.ID, "err", err)
	}

	return result
}

func (c *Cached) restore(t target.Target, hash string) bool {
	entry, err := c.Cache.Get(hash)
	if err != nil {
		c.Logger.Warn("Failed to read cache", "target", t.ID, "err", err)
		return false
	}

	if entry == nil {
		return false
	}

	if err := c.Cache.Restore(entry, c.Root); err != nil {
		c.Logger.Warn("Failed to restore from cache", "target", t.ID, "err", err)
		return false
	}

	c.Logger.Debug("Restored from cache", "target", t.ID, "hash", hash[:12])

	return true
}
