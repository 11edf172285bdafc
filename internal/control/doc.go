// Package control holds the feedback loops that turn conditions into
// actuator commands.
//
// AutoController reacts to individual telemetry readings using each
// device's configured comfort bands. EmergencyDispatcher issues a
// fixed, critical-priority shutdown sequence across a scope of devices
// on operator demand. Both write into the command queue with issuer
// "system" and never execute anything themselves.
package control
