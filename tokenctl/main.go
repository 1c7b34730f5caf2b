package main

import "github.com/jmcp-dev/jmcp/tokenctl/cmd"

func main() {
	cmd.Execute()
}
