// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides shared scaffolding for the observability
// service binary:
//
//   - HTTPServer: TCP listener lifecycle with graceful shutdown that
//     also ends long-lived streaming responses.
//   - NewLogger: the process-wide structured logger, JSON or text,
//     chosen from flags or by whether stderr is a terminal.
//
// Binaries compose these in their own run() function. The package
// provides building blocks, not a runtime.
package service
