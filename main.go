package main

import "notashelf.dev/fh/cmd"

func main() {
	cmd.Execute()
}
