// Package bundle provides the record types shared by every meshtrace component.
//
// This package contains type definitions only. All other internal packages
// import bundle; bundle imports nothing internal.
//
// Key design constraints:
//   - Insert times are epoch milliseconds as reported by the device clock
//   - Insert times order copies within one bundle only, never across devices
//   - Optional columns use sql.Null* so rows scan without sentinel values
package bundle
