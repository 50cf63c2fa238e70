// Package ir provides the closed value types shared by every liveview package.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - use int64 for numbers
//   - Row values are scalars (Null, String, Int, Bool); Array and Object
//     exist for filter descriptors
//   - Ordering follows SQLite: NULL < numeric < text, BINARY collation
//   - Canonical JSON (RFC 8785) is the only encoding used for identity
package ir
