package appconfig

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"pkt.systems/pslog"
)

// Watch reloads the config at path whenever the file is written or replaced
// and hands each valid result to onChange. Invalid rewrites are logged and
// skipped. Callbacks stop once ctx is done; the underlying file watch lives
// until the process exits.
func Watch(ctx context.Context, path string, onChange func(Config)) error {
	if onChange == nil {
		return fmt.Errorf("watch: callback is required")
	}
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return err
		}
		path = defaultPath
	}
	cfg, err := DefaultConfig()
	if err != nil {
		return err
	}
	v := newViper(path, cfg)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	log := pslog.Ctx(ctx).With("config", filepath.Base(path))
	v.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := Load(path)
		if err != nil {
			log.Warn("config reload rejected", "op", e.Op.String(), "err", err)
			return
		}
		log.Info("config reloaded", "op", e.Op.String())
		onChange(next)
	})
	v.WatchConfig()
	return nil
}
