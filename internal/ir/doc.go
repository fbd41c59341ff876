// Package ir provides the shared data model for offsync.
//
// This package contains type definitions and their validation only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - All JSON tags use snake_case
//   - Payload numbers decode as json.Number, never float64
//   - Enum zero values mean "unset" and are resolved by the caller
//   - Report slices are never nil so they marshal as []
package ir
