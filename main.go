package main

import "github.com/csweichel/cloudfs/cmd"

func main() {
	cmd.Execute()
}
