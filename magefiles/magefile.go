//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main provides build targets for lorevault using Mage.
//
// Usage:
//
//	mage build        Compile the lorevault binary to bin/
//	mage test:all     Run every test
//	mage test:race    Run every test with the race detector
//	mage test:cover   Write coverage.out and print per-function coverage
//	mage lint         Run golangci-lint
//	mage clean        Remove build artifacts
//	mage install      Install lorevault to GOPATH/bin
package main
