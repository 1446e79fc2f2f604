// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads armlink configuration.
//
// Configuration is loaded from a single file specified by either the
// ARMLINK_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no automatic file search. Files ending in
// .json or .jsonc are read as JSON with comments and trailing commas;
// anything else is YAML.
//
// The file may carry development and production sections that
// override base values when [Config].Environment matches. Production
// defaults are stricter: realtime commands are refused while the state
// is invalid, and logs are JSON.
//
// ${VAR} and ${VAR:-default} patterns are expanded in path and address
// fields after loading. No other environment variables override
// config values.
//
// This package depends on no other armlink packages.
package config
