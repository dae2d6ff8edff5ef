// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/deepresearch/pkg/config"
)

// ValidateCmd validates a configuration file.
type ValidateCmd struct {
	Config string `arg:"" name:"config" help:"Configuration file path." placeholder:"PATH"`

	Format      string `short:"f" help:"Output format: compact, verbose, json." default:"compact" enum:"compact,verbose,json"`
	PrintConfig bool   `short:"p" name:"print-config" help:"Print the expanded configuration (with defaults applied and env vars resolved)."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	ctx := context.Background()

	cfg, loader, err := config.LoadConfigFile(ctx, c.Config)
	if err != nil {
		return c.printLoadError(err)
	}
	if loader != nil {
		defer loader.Close()
	}

	if c.PrintConfig {
		return c.printExpandedConfig(cfg)
	}

	c.printSuccess()
	return nil
}

func (c *ValidateCmd) printLoadError(err error) error {
	switch c.Format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]string{
			"status": "invalid",
			"config": c.Config,
			"error":  err.Error(),
		})
	default:
		fmt.Printf("✗ %s is invalid:\n\n%v\n", c.Config, err)
		return err
	}
}

func (c *ValidateCmd) printSuccess() {
	switch c.Format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]string{"status": "valid", "config": c.Config})
	default:
		fmt.Printf("✓ %s is valid\n", c.Config)
	}
}

func (c *ValidateCmd) printExpandedConfig(cfg *config.Config) error {
	switch c.Format {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	default:
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	}
	return nil
}
