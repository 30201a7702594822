// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package connector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// configReloadSettle waits for editors that write the file in several steps.
const configReloadSettle = 250 * time.Millisecond

// ConfigWatcher reloads the config file when it changes on disk.
type ConfigWatcher struct {
	log    zerolog.Logger
	path   string
	load   func(path string) (*Config, error)
	apply  func(cfg *Config)
	settle time.Duration
}

func NewConfigWatcher(log zerolog.Logger, path string, apply func(cfg *Config)) *ConfigWatcher {
	return &ConfigWatcher{
		log:   log.With().Str("component", "config_watcher").Str("path", path).Logger(),
		path:  path,
		apply: apply,
		load: func(path string) (*Config, error) {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			return ParseConfig(data)
		},
		settle: configReloadSettle,
	}
}

// Watch blocks until ctx is done. The parent directory is watched so that
// atomic renames by editors are seen.
func (w *ConfigWatcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(w.path)
	if err != nil {
		return err
	}
	if err = watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}
	w.log.Debug().Msg("Watching config for changes")

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				reload = time.After(w.settle)
			}

		case <-reload:
			reload = nil
			w.reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("Config watcher error")
		}
	}
}

func (w *ConfigWatcher) reload() {
	cfg, err := w.load(w.path)
	if err != nil {
		w.log.Warn().Err(err).Msg("Ignoring invalid config change")
		return
	}
	w.log.Info().Msg("Config changed on disk, reloading")
	w.apply(cfg)
}
