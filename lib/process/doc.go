// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers. It covers the
// raw I/O that happens before the structured logger exists: reporting
// a fatal error from run() to stderr and exiting.
package process
