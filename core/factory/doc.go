// Package factory builds pluggable components (metrics sinks, audit stores)
// from a {type, conf} block in the configuration file.
package factory
