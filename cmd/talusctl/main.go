package main

import "go.talusdb.dev/core/cmd/talusctl/talusctlcmd"

func main() { talusctlcmd.Execute() }
