// Package main provides the dv2pbi command-line tool.
package main

import "github.com/mscottsewell/DataverseToPowerBI-sub003/internal/cli"

func main() {
	cli.Execute()
}
