package main

import "github.com/relaycrew/gatewaycore/cmd"

func main() {
	cmd.Execute()
}
