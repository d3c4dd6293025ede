// Package common provides the configuration and logging shared by the dMDS
// commands and libraries.
//
// Key Components:
//
//   - ServerConfig: configuration of a metadata node: rank and layout of its
//     session map, the object store URL, autosave interval, admin endpoint and,
//     for raft:// stores, the Dragonboat parameters. Provides conversions to the
//     session map and Dragonboat configurations and a printable summary.
//
//   - Logger: custom logging implementation plugged into Dragonboat's logger
//     package, so every package logs through logger.GetLogger(name) with the
//     format "LEVEL | name | message". InitLoggers installs it and sets the
//     configured level.
package common
