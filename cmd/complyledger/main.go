// Command complyledger evaluates compliance policies and keeps a signed,
// append-only audit log of every verdict.
package main

import "github.com/complyledger/complyledger/internal/cli"

func main() {
	cli.Execute()
}
