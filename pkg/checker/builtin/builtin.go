// Package builtin provides the checkers that ship with every workspace.
//
// Builtin checkers are intentionally generic: runtime environment, dependency
// manifests, and configuration drift. Project-specific checkers come from
// plugin directories.
package builtin

import "github.com/mykim19/debug-dashboard-core/pkg/checker"

// All returns a fresh instance of every builtin checker.
func All() []checker.Checker {
	return []checker.Checker{
		&EnvironmentChecker{},
		&DependencyChecker{},
		&ConfigDriftChecker{},
	}
}
