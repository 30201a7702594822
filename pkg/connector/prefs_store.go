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
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/util/dbutil"

	"github.com/lrhodin/mumblesync/pkg/tree"
)

// PrefsStore persists per-user local audio preferences and channel access
// tokens, keyed by server host.
type PrefsStore struct {
	db *dbutil.Database
}

type UserPreferenceRow struct {
	Host       string
	UserName   string
	Volume     float32
	LocalMuted bool
	UpdatedTS  int64
}

// OpenPrefsStore opens (creating if needed) the SQLite database at path.
func OpenPrefsStore(ctx context.Context, path string) (*PrefsStore, error) {
	db, err := dbutil.NewWithDialect(fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000", path), "sqlite3")
	if err != nil {
		return nil, fmt.Errorf("failed to open preference database: %w", err)
	}
	s := &PrefsStore{db: db}
	if err = s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PrefsStore) Close() error {
	return s.db.Close()
}

func (s *PrefsStore) ensureSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS user_preference (
			host TEXT NOT NULL,
			user_name TEXT NOT NULL,
			volume REAL NOT NULL DEFAULT 1.0,
			local_muted BOOLEAN NOT NULL DEFAULT FALSE,
			updated_ts BIGINT NOT NULL,
			PRIMARY KEY (host, user_name)
		)`,
		`CREATE TABLE IF NOT EXISTS access_token (
			host TEXT NOT NULL,
			token TEXT NOT NULL,
			created_ts BIGINT NOT NULL,
			PRIMARY KEY (host, token)
		)`,
		`CREATE TABLE IF NOT EXISTS listening_channel (
			host TEXT NOT NULL,
			channel_id BIGINT NOT NULL,
			PRIMARY KEY (host, channel_id)
		)`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to ensure preference schema: %w", err)
		}
	}
	return nil
}

func (s *PrefsStore) GetUserPreference(ctx context.Context, host, userName string) (tree.Preference, bool, error) {
	var pref tree.Preference
	err := s.db.QueryRow(ctx,
		`SELECT volume, local_muted FROM user_preference WHERE host=$1 AND user_name=$2`,
		host, userName,
	).Scan(&pref.Volume, &pref.LocalMuted)
	if errors.Is(err, sql.ErrNoRows) {
		return tree.DefaultPreference, false, nil
	} else if err != nil {
		return tree.DefaultPreference, false, err
	}
	return pref, true, nil
}

// AllUserPreferences returns every stored preference for host keyed by user name.
func (s *PrefsStore) AllUserPreferences(ctx context.Context, host string) (map[string]tree.Preference, error) {
	rows, err := s.db.Query(ctx,
		`SELECT user_name, volume, local_muted FROM user_preference WHERE host=$1`,
		host,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query user preferences: %w", err)
	}
	defer rows.Close()
	out := make(map[string]tree.Preference)
	for rows.Next() {
		var name string
		var pref tree.Preference
		if err = rows.Scan(&name, &pref.Volume, &pref.LocalMuted); err != nil {
			return nil, err
		}
		out[name] = pref
	}
	return out, rows.Err()
}

// ListUserPreferences returns all rows, optionally filtered by host.
func (s *PrefsStore) ListUserPreferences(ctx context.Context, host string) ([]UserPreferenceRow, error) {
	query := `SELECT host, user_name, volume, local_muted, updated_ts FROM user_preference`
	var args []any
	if host != "" {
		query += ` WHERE host=$1`
		args = append(args, host)
	}
	query += ` ORDER BY host, user_name`
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list user preferences: %w", err)
	}
	defer rows.Close()
	var out []UserPreferenceRow
	for rows.Next() {
		var row UserPreferenceRow
		if err = rows.Scan(&row.Host, &row.UserName, &row.Volume, &row.LocalMuted, &row.UpdatedTS); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *PrefsStore) PutUserPreference(ctx context.Context, host, userName string, pref tree.Preference) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_preference (host, user_name, volume, local_muted, updated_ts)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (host, user_name) DO UPDATE SET
			volume=excluded.volume,
			local_muted=excluded.local_muted,
			updated_ts=excluded.updated_ts
	`, host, userName, pref.Volume, pref.LocalMuted, time.Now().UnixMilli())
	return err
}

func (s *PrefsStore) DeleteUserPreference(ctx context.Context, host, userName string) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM user_preference WHERE host=$1 AND user_name=$2`,
		host, userName,
	)
	return err
}

func (s *PrefsStore) AccessTokens(ctx context.Context, host string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT token FROM access_token WHERE host=$1 ORDER BY created_ts, token`,
		host,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query access tokens: %w", err)
	}
	defer rows.Close()
	var tokens []string
	for rows.Next() {
		var token string
		if err = rows.Scan(&token); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

func (s *PrefsStore) AddAccessToken(ctx context.Context, host, token string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO access_token (host, token, created_ts) VALUES ($1, $2, $3)
		ON CONFLICT (host, token) DO NOTHING
	`, host, token, time.Now().UnixMilli())
	return err
}

// ListeningChannels returns the channels we listened to when the last
// session on host closed.
func (s *PrefsStore) ListeningChannels(ctx context.Context, host string) ([]uint32, error) {
	rows, err := s.db.Query(ctx,
		`SELECT channel_id FROM listening_channel WHERE host=$1 ORDER BY channel_id`,
		host,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query listening channels: %w", err)
	}
	defer rows.Close()
	var ids []uint32
	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, uint32(id))
	}
	return ids, rows.Err()
}

// SetListeningChannels replaces the saved listening set for host.
func (s *PrefsStore) SetListeningChannels(ctx context.Context, host string, ids []uint32) error {
	return s.db.DoTxn(ctx, nil, func(ctx context.Context) error {
		if _, err := s.db.Exec(ctx, `DELETE FROM listening_channel WHERE host=$1`, host); err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := s.db.Exec(ctx,
				`INSERT INTO listening_channel (host, channel_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				host, int64(id),
			); err != nil {
				return err
			}
		}
		return nil
	})
}
