package main

import "wtunnel/pkg/cmd"

func main() {
	cmd.Execute()
}
