// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package connector

import (
	"crypto/tls"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/lrhodin/mumblesync/pkg/mutesync"
	"github.com/lrhodin/mumblesync/pkg/transmit"
	"github.com/lrhodin/mumblesync/pkg/tree"
)

//go:embed example-config.yaml
var ExampleConfig string

const DefaultPort = "64738"

type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Audio         AudioConfig        `yaml:"audio"`
	Messaging     MessagingConfig    `yaml:"messaging"`
	Notifications NotificationConfig `yaml:"notifications"`
	UI            UIConfig           `yaml:"ui"`
	Database      DatabaseConfig     `yaml:"database"`
	Logging       zeroconfig.Config  `yaml:"logging"`
}

type ServerConfig struct {
	// Address is host:port. A missing port is filled with DefaultPort.
	Address     string   `yaml:"address"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	Tokens      []string `yaml:"tokens"`
	InsecureTLS bool     `yaml:"insecure_tls"`
	// Certificate is a PEM client certificate identifying the user. Key may
	// be empty when the certificate file also holds the private key.
	Certificate string   `yaml:"certificate"`
	Key         string   `yaml:"key"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// LoadCertificate reads the configured client certificate.
func (c *ServerConfig) LoadCertificate() (tls.Certificate, error) {
	key := c.Key
	if key == "" {
		key = c.Certificate
	}
	cert, err := tls.LoadX509KeyPair(c.Certificate, key)
	if err != nil {
		return cert, fmt.Errorf("failed to load client certificate: %w", err)
	}
	return cert, nil
}

// Host returns the address without the port, used as the preference key.
func (c *ServerConfig) Host() string {
	host, _, err := net.SplitHostPort(c.Address)
	if err != nil {
		return c.Address
	}
	return host
}

type AudioConfig struct {
	HardwareMute bool             `yaml:"hardware_mute"`
	InputSource  string           `yaml:"input_source"`
	Reconciler   mutesync.Timings `yaml:"reconciler"`
}

type MessagingConfig struct {
	HighQualityImages bool                    `yaml:"high_quality_images"`
	Pipeline          transmit.PipelineConfig `yaml:"pipeline"`
	EchoTTL           time.Duration           `yaml:"echo_ttl"`
	MaxHistory        int                     `yaml:"max_history"`
}

// ImageBudget is the configured image budget before any server clamp.
func (c *MessagingConfig) ImageBudget() int {
	if c.HighQualityImages {
		return transmit.HighQualityBudget
	}
	return transmit.CompatibleBudget
}

type NotificationConfig struct {
	Enabled    bool                          `yaml:"enabled"`
	Categories map[NotificationCategory]bool `yaml:"categories"`
}

// Allows reports whether a category should produce a system notification.
func (c *NotificationConfig) Allows(cat NotificationCategory) bool {
	return c.Enabled && c.Categories[cat]
}

type UIConfig struct {
	ViewMode string `yaml:"view_mode"`

	viewMode tree.ViewMode
}

func (c *UIConfig) Mode() tree.ViewMode {
	return c.viewMode
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type umConfig Config

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	err := node.Decode((*umConfig)(c))
	if err != nil {
		return err
	}
	return c.PostProcess()
}

func (c *Config) PostProcess() error {
	if c.Server.Address == "" {
		return errors.New("server.address must be set")
	}
	if _, _, err := net.SplitHostPort(c.Server.Address); err != nil {
		c.Server.Address = net.JoinHostPort(strings.Trim(c.Server.Address, "[]"), DefaultPort)
	}
	if c.Server.Key != "" && c.Server.Certificate == "" {
		return errors.New("server.key is set without server.certificate")
	}
	if c.Server.ConnectTimeout <= 0 {
		c.Server.ConnectTimeout = 10 * time.Second
	}
	if c.Server.ReconnectDelay <= 0 {
		c.Server.ReconnectDelay = 5 * time.Second
	}
	if c.Messaging.MaxHistory <= 0 {
		c.Messaging.MaxHistory = 500
	}
	if c.Messaging.EchoTTL <= 0 {
		c.Messaging.EchoTTL = transmit.DefaultEchoTTL
	}
	if rate := c.Messaging.Pipeline.DecayRate; rate < 0 || rate >= 1 {
		return fmt.Errorf("messaging.pipeline.decay_rate must be between 0 and 1, got %v", rate)
	}
	if c.Notifications.Categories == nil {
		c.Notifications.Categories = make(map[NotificationCategory]bool)
	}
	for cat := range c.Notifications.Categories {
		if !cat.Valid() {
			return fmt.Errorf("unknown notification category %q", cat)
		}
	}
	var ok bool
	if c.UI.viewMode, ok = tree.ParseViewMode(c.UI.ViewMode); !ok {
		return fmt.Errorf("unknown ui.view_mode %q", c.UI.ViewMode)
	}
	if c.Database.Path == "" {
		c.Database.Path = "mumblesync.db"
	}
	return nil
}

// AudioChanged reports whether a reload touched settings that need an audio
// engine restart.
func (c *Config) AudioChanged(other *Config) bool {
	return c.Audio.HardwareMute != other.Audio.HardwareMute ||
		c.Audio.InputSource != other.Audio.InputSource ||
		c.Audio.Reconciler != other.Audio.Reconciler
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "server", "address")
	helper.Copy(up.Str, "server", "username")
	helper.Copy(up.Str, "server", "password")
	helper.Copy(up.List, "server", "tokens")
	helper.Copy(up.Bool, "server", "insecure_tls")
	helper.Copy(up.Str, "server", "certificate")
	helper.Copy(up.Str, "server", "key")
	helper.Copy(up.Str, "server", "connect_timeout")
	helper.Copy(up.Str, "server", "reconnect_delay")

	helper.Copy(up.Bool, "audio", "hardware_mute")
	helper.Copy(up.Str, "audio", "input_source")
	helper.Copy(up.Str, "audio", "reconciler", "echo_window")
	helper.Copy(up.Str, "audio", "reconciler", "device_added_settle")
	helper.Copy(up.Str, "audio", "reconciler", "device_removed_settle")
	helper.Copy(up.Str, "audio", "reconciler", "release_delay")
	helper.Copy(up.Str, "audio", "reconciler", "restart_timeout")

	helper.Copy(up.Bool, "messaging", "high_quality_images")
	helper.Copy(up.Float, "messaging", "pipeline", "decay_rate")
	helper.Copy(up.Int, "messaging", "pipeline", "min_budget")
	helper.Copy(up.Str, "messaging", "pipeline", "disposition_timeout")
	helper.Copy(up.Str, "messaging", "echo_ttl")
	helper.Copy(up.Int, "messaging", "max_history")

	helper.Copy(up.Bool, "notifications", "enabled")
	for _, cat := range AllNotificationCategories {
		helper.Copy(up.Bool, "notifications", "categories", string(cat))
	}

	helper.Copy(up.Str, "ui", "view_mode")
	helper.Copy(up.Str, "database", "path")
	helper.Copy(up.Map, "logging")
}

var upgrader = &up.StructUpgrader{
	SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
	Base:           ExampleConfig,
}

// LoadConfig reads the config at path, writing the example config there
// first if the file doesn't exist. With save set, the upgraded config is
// written back.
func LoadConfig(path string, save bool) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err = os.WriteFile(path, []byte(ExampleConfig), 0600); err != nil {
			return nil, fmt.Errorf("failed to write example config: %w", err)
		}
	}
	data, _, err := up.Do(path, save, upgrader)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
