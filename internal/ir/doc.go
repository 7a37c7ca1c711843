// Package ir provides the replication data model for rowsync.
//
// This package contains type definitions and their encodings only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float values anywhere - column values are Null, String, Int, Bool or Bytes
//   - Primary keys are opaque bytes; the engine never interprets them
//   - SiteID ordering is byte-wise and total, it breaks column_version ties
//   - All JSON tags use snake_case and match the ChangeRecord wire shape
package ir
