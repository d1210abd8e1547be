// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"fmt"
	"math/big"
	"net/url"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
	Level   string // "error", "warning", "info"
}

// ValidateConfiguration validates the entire configuration. It never dials
// the network: RPC reachability and chain ID agreement are the blockchain
// client's problem at connect time, not the config loader's.
func ValidateConfiguration(cfg *Config) []ValidationError {
	var errors []ValidationError

	if cfg.Blockchain != nil {
		errors = append(errors, validateBlockchainConfig(cfg.Blockchain)...)
	}

	if cfg.DID != nil {
		errors = append(errors, validateDIDConfig(cfg.DID)...)
	}

	if cfg.Security != nil {
		errors = append(errors, validateDDSSecurityConfig(cfg.Security)...)
	}

	errors = append(errors, validateEnvironment(cfg.Environment)...)

	return errors
}

// validateBlockchainConfig validates blockchain configuration.
func validateBlockchainConfig(cfg *BlockchainConfig) []ValidationError {
	var errors []ValidationError

	if cfg.NetworkRPC == "" {
		errors = append(errors, ValidationError{
			Field:   "Blockchain.NetworkRPC",
			Message: "RPC URL is required",
			Level:   "error",
		})
	} else if _, err := url.Parse(cfg.NetworkRPC); err != nil {
		errors = append(errors, ValidationError{
			Field:   "Blockchain.NetworkRPC",
			Message: fmt.Sprintf("invalid RPC URL: %v", err),
			Level:   "error",
		})
	}

	if cfg.GasLimit == 0 {
		errors = append(errors, ValidationError{
			Field:   "Blockchain.GasLimit",
			Message: "gas limit should be set (recommended: 3000000)",
			Level:   "warning",
		})
	}

	if cfg.MaxGasPrice == nil || cfg.MaxGasPrice.Cmp(big.NewInt(0)) == 0 {
		errors = append(errors, ValidationError{
			Field:   "Blockchain.MaxGasPrice",
			Message: "max gas price should be set to prevent excessive fees",
			Level:   "warning",
		})
	}

	if cfg.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "Blockchain.MaxRetries",
			Message: "max retries cannot be negative",
			Level:   "error",
		})
	}

	if cfg.RetryDelay < 0 {
		errors = append(errors, ValidationError{
			Field:   "Blockchain.RetryDelay",
			Message: "retry delay cannot be negative",
			Level:   "error",
		})
	}

	return errors
}

// validateDIDConfig validates DID resolution configuration.
func validateDIDConfig(cfg *DIDConfig) []ValidationError {
	var errors []ValidationError

	if cfg.RegistryAddress == "" {
		errors = append(errors, ValidationError{
			Field:   "DID.RegistryAddress",
			Message: "DID registry address is required",
			Level:   "error",
		})
	}

	if cfg.Method == "" {
		cfg.Method = "sage"
	}
	if cfg.Network == "" {
		cfg.Network = "ethereum"
	}

	if cfg.CacheSize < 0 {
		errors = append(errors, ValidationError{
			Field:   "DID.CacheSize",
			Message: "cache size cannot be negative",
			Level:   "error",
		})
	}

	if cfg.CacheTTL < 0 {
		errors = append(errors, ValidationError{
			Field:   "DID.CacheTTL",
			Message: "cache TTL cannot be negative",
			Level:   "error",
		})
	}

	return errors
}

// validateDDSSecurityConfig validates the builtin-plugin configuration
// section: a plugin with no library path configured is reported as a
// warning, not an error, since a domain may legitimately run a subset of
// the three plugins (e.g. crypto without access control during bring-up).
func validateDDSSecurityConfig(cfg *SecurityConfig) []ValidationError {
	var errors []ValidationError

	checkPlugin := func(field string, p PluginConfig) {
		if p.Library.Path == "" {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: "no plugin library configured",
				Level:   "warning",
			})
			return
		}
		if p.Library.Init == "" || p.Library.Finalize == "" {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: "plugin library is missing its init or finalize entry point",
				Level:   "error",
			})
		}
	}
	checkPlugin("Security.Authentication", cfg.Authentication)
	checkPlugin("Security.AccessControl", cfg.AccessControl)
	checkPlugin("Security.Crypto", cfg.Crypto)

	if cfg.Authentication.Library.Path != "" {
		if cfg.PrivateKeyPath == "" {
			errors = append(errors, ValidationError{
				Field:   "Security.PrivateKeyPath",
				Message: "authentication plugin is configured but no private key path was given",
				Level:   "error",
			})
		}
		if cfg.TrustedCADirectory == "" {
			errors = append(errors, ValidationError{
				Field:   "Security.TrustedCADirectory",
				Message: "authentication plugin is configured but no trusted CA directory was given",
				Level:   "warning",
			})
		}
	}

	if cfg.AccessControl.Library.Path != "" {
		if cfg.GovernanceFile == "" {
			errors = append(errors, ValidationError{
				Field:   "Security.GovernanceFile",
				Message: "access control plugin is configured but no governance file was given",
				Level:   "error",
			})
		}
		if cfg.PermissionsFile == "" {
			errors = append(errors, ValidationError{
				Field:   "Security.PermissionsFile",
				Message: "access control plugin is configured but no permissions file was given",
				Level:   "error",
			})
		}
	}

	return errors
}

// validateEnvironment validates the deployment environment name.
func validateEnvironment(env string) []ValidationError {
	var errors []ValidationError

	validEnvs := []string{"local", "development", "staging", "production"}
	env = strings.ToLower(env)

	valid := false
	for _, v := range validEnvs {
		if env == v {
			valid = true
			break
		}
	}

	if !valid {
		errors = append(errors, ValidationError{
			Field:   "Environment",
			Message: fmt.Sprintf("invalid environment: %s (valid: %v)", env, validEnvs),
			Level:   "error",
		})
	}

	if env == "production" {
		errors = append(errors, ValidationError{
			Field:   "Environment",
			Message: "running in production mode - ensure all security settings are configured",
			Level:   "info",
		})
	}

	return errors
}

// ValidateFile loads path and validates the resulting configuration.
func ValidateFile(path string) ([]ValidationError, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", path)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return ValidateConfiguration(cfg), nil
}

// PrintValidationErrors prints validation errors grouped by severity.
func PrintValidationErrors(errors []ValidationError) {
	if len(errors) == 0 {
		fmt.Println("configuration is valid")
		return
	}

	var errorCount, warningCount, infoCount int
	for _, e := range errors {
		switch e.Level {
		case "error":
			errorCount++
		case "warning":
			warningCount++
		case "info":
			infoCount++
		}
	}

	fmt.Printf("configuration validation found %d errors, %d warnings, %d info messages\n\n",
		errorCount, warningCount, infoCount)

	for _, e := range errors {
		if e.Level == "error" {
			fmt.Printf("ERROR: %s - %s\n", e.Field, e.Message)
		}
	}
	for _, e := range errors {
		if e.Level == "warning" {
			fmt.Printf("WARNING: %s - %s\n", e.Field, e.Message)
		}
	}
	for _, e := range errors {
		if e.Level == "info" {
			fmt.Printf("INFO: %s - %s\n", e.Field, e.Message)
		}
	}
}
