package main

import "github.com/fakeyudi/snek/cmd"

func main() {
	cmd.Execute()
}
