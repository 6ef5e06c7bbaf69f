// Package log provides structured logging for the broker using zerolog. A
// single global Logger is initialized once via Init; component loggers are
// derived with WithComponent/WithAgentID/WithCapability/WithTaskID for
// consistent structured fields across packages.
package log
