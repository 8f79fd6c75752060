// Package router selects the backend that should run a task. It classifies
// the task into a category from its text, maps the category to a backend type
// through configurable rules, and lazily constructs and caches one backend
// instance per type, falling back to the default type when construction fails.
package router
