package globals

import (
	"context"
	"fmt"
	"log/slog"
	"scrunch/lib/metacache"
	"scrunch/lib/restyutil"
	"scrunch/lib/scrunch"
	"strings"
)

type contextKey struct{}

type Value struct {
	Config scrunch.Config
	// Output receives http dumps when --dump-http is given.
	Output    restyutil.InstrumentOutput
	CachePath string
	Project   string
	Editor    bool

	site  *scrunch.Site
	cache *metacache.Cache
}

func Set(ctx context.Context, value *Value) context.Context {
	return context.WithValue(ctx, contextKey{}, value)
}

func Get(ctx context.Context) *Value {
	return ctx.Value(contextKey{}).(*Value)
}

// Site logs in on first use.
func (v *Value) Site(ctx context.Context) (*scrunch.Site, error) {
	if v.site != nil {
		return v.site, nil
	}
	site, err := scrunch.Connect(ctx, v.Config, v.Output)
	if err != nil {
		return nil, err
	}
	if v.CachePath != "" {
		cache, err := v.Cache()
		if err != nil {
			return nil, err
		}
		site.SetCache(cache)
	}
	v.site = site
	return site, nil
}

// Cache opens the metadata cache given by --cache on first use.
func (v *Value) Cache() (*metacache.Cache, error) {
	if v.cache != nil {
		return v.cache, nil
	}
	if v.CachePath == "" {
		return nil, fmt.Errorf("no metadata cache, pass --cache")
	}
	cache, err := metacache.Open(v.CachePath)
	if err != nil {
		return nil, err
	}
	v.cache = &cache
	return v.cache, nil
}

// Dataset finds a dataset by url, name or id.
func (v *Value) Dataset(ctx context.Context, ref string) (*scrunch.Dataset, error) {
	site, err := v.Site(ctx)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://") {
		return site.DatasetByURL(ctx, ref)
	}
	return site.GetDataset(ctx, ref, scrunch.GetDatasetOptions{
		Project: v.Project,
		Editor:  v.Editor,
	})
}

func (v *Value) Close() {
	if v.cache == nil {
		return
	}
	err := v.cache.Close()
	if err != nil {
		slog.Warn("failed to close metadata cache", "err", err)
	}
	v.cache = nil
}

// Run calls fn with value stored in ctx and closes value afterwards,
// whether fn failed or not.
func Run(ctx context.Context, value *Value, fn func(ctx context.Context) error) error {
	defer value.Close()
	return fn(Set(ctx, value))
}
