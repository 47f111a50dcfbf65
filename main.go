package main

import "github.com/shaharia-lab/notifyrelay/cmd"

func main() {
	cmd.Execute()
}
