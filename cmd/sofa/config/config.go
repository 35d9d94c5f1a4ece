/*
 * Copyright 2024 The Sofa Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config provides the configuration for the CLI. Values come from
// flags first, then from the config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/sofa-team/sofa/client"
)

const defaultAddr = "http://localhost:5984"

var (
	// Addr is the address of the store.
	Addr string

	// Database is the name of the database commands operate on.
	Database string

	// Path overrides the default config file location.
	Path string
)

// Config is the configuration of CLI.
type Config struct {
	// Addr is the address of the store.
	Addr string `yaml:"addr"`

	// Database is the default database of commands.
	Database string `yaml:"database"`
}

// ensureSofaDir ensures that the directory of Sofa exists.
func ensureSofaDir() (string, error) {
	sofaDir := path.Join(os.Getenv("HOME"), ".sofa")
	if err := os.MkdirAll(sofaDir, 0700); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}
	return sofaDir, nil
}

// configPath returns the path of the CLI config file.
func configPath() (string, error) {
	if Path != "" {
		return Path, nil
	}

	sofaDir, err := ensureSofaDir()
	if err != nil {
		return "", fmt.Errorf("ensure sofa dir: %w", err)
	}
	return path.Join(sofaDir, "config.yml"), nil
}

// Load loads the configuration from the config file. A missing file is not an
// error; it yields an empty configuration.
func Load() (*Config, error) {
	configPathValue, err := configPath()
	if err != nil {
		return nil, err
	}

	contents, err := os.ReadFile(filepath.Clean(configPathValue))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(contents, &config); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}

	return &config, nil
}

// Save saves the configuration to the config file.
func Save(config *Config) error {
	configPathValue, err := configPath()
	if err != nil {
		return err
	}

	contents, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("encode config file: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(configPathValue), contents, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Preload fills unset flags from the config file. Use it as the PreRunE of
// commands that talk to the store.
func Preload(_ *cobra.Command, _ []string) error {
	config, err := Load()
	if err != nil {
		return err
	}

	if Addr == "" {
		Addr = config.Addr
	}
	if Addr == "" {
		Addr = defaultAddr
	}
	if Database == "" {
		Database = config.Database
	}

	return nil
}

// DialDatabase connects to the configured store and returns a handle for the
// configured database.
func DialDatabase() (*client.Database, error) {
	if Database == "" {
		return nil, errors.New("database is required: pass --database or set it in the config file")
	}

	cli, err := client.Dial(Addr)
	if err != nil {
		return nil, err
	}

	return cli.Database(Database)
}
