// Package main provides the rulecheck CLI: offline evaluation of declarative
// rule documents against entity property fixtures.
package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes: findings at error severity are distinct from broken
// invocations, so scripts can tell a failed check from a failed run.
const (
	exitSuccess  = 0
	exitFindings = 1
	exitError    = 2
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errFindings) {
			os.Exit(exitFindings)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitError)
	}
}
