// Package backend defines the interface that code-generation backends
// implement, a registry of constructible backend types, and the built-in
// adapters: a network-free mock and subprocess adapters for CLI tools.
package backend
