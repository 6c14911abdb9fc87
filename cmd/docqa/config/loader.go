// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the docqa CLI configuration from
// ~/.docqa/config.yaml, creating it with defaults on first run.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvAPIURL      = "DOCQA_API_URL"
	EnvPersonality = "DOCQA_PERSONALITY"
)

var validate = validator.New()

// DefaultPath returns ~/.docqa/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".docqa", "config.yaml"), nil
}

// Load reads the config at path, or DefaultPath when path is empty. A
// missing file is created with defaults and a line is written to notice.
// Fields absent from the file keep their defaults. Environment overrides
// are applied before validation.
func Load(path string, notice io.Writer) (DocQAConfig, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return DocQAConfig{}, err
		}
		path = p
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if notice != nil {
			fmt.Fprintf(notice, "First run detected, creating the config at %s\n", path)
		}
		if err := createDefault(path); err != nil {
			return DocQAConfig{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return DocQAConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return DocQAConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over DefaultConfig, applies environment overrides and
// validates the result.
func Parse(data []byte) (DocQAConfig, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DocQAConfig{}, fmt.Errorf("failed to parse config: %w", err)
	}
	applyEnv(&cfg)
	cfg.Transcript.Path = ExpandHome(cfg.Transcript.Path)
	if err := validate.Struct(cfg); err != nil {
		return DocQAConfig{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *DocQAConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvAPIURL)); v != "" {
		cfg.API.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPersonality)); v != "" {
		cfg.Chat.Personality = strings.ToLower(v)
	}
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
