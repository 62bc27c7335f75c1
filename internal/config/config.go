/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	DefaultAddr            = ":8080"
	DefaultDBPath          = "netmap_state.db"
	DefaultSigningInterval = 30 * time.Second
	DefaultClientTimeout   = 60 * time.Second
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Duration is a time.Duration written as a string such as "30s" in the config file.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// ServerConfig captures the tunables required to start the network map server.
type ServerConfig struct {
	Addr   string `json:"addr"`
	DBPath string `json:"db_path"`
	// NetworkMapKeyPath is a private COSE_Key used to sign network maps and parameters.
	NetworkMapKeyPath string `json:"network_map_key_path"`
	// RootCertPath is the PEM root certificate node certificate paths must chain to.
	// Without it certificate paths are not checked.
	RootCertPath    string   `json:"root_cert_path,omitempty"`
	SigningInterval Duration `json:"signing_interval"`
}

func Default() ServerConfig {
	return ServerConfig{
		Addr:            DefaultAddr,
		DBPath:          DefaultDBPath,
		SigningInterval: Duration(DefaultSigningInterval),
	}
}

// Load reads a JSON config file over the defaults.
func Load(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func (c *ServerConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr is required", ErrInvalidConfig)
	}
	if c.DBPath == "" {
		return fmt.Errorf("%w: db_path is required", ErrInvalidConfig)
	}
	if c.NetworkMapKeyPath == "" {
		return fmt.Errorf("%w: network_map_key_path is required", ErrInvalidConfig)
	}
	if c.SigningInterval <= 0 {
		return fmt.Errorf("%w: signing_interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// ClientConfig describes how a node reaches the network map server.
type ClientConfig struct {
	BaseURL     string
	InsecureTLS bool
	Timeout     time.Duration
}
