// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, logging, metrics and debug introspection for hiolink.
//
// Provides:
//   - viper-backed Config loading with HIOLINK_ environment overrides
//   - ConfigStore with reload listeners
//   - logrus logger construction with lumberjack rotation
//   - prometheus collectors behind a nil-safe Metrics handle
//   - named debug probes
package control
