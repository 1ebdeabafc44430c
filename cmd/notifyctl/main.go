// Command notifyctl sends one-off notifications and manages the outbox of
// notifications that failed on submission.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(newApp(os.Stdout, os.Getenv)).Execute(); err != nil {
		red.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
