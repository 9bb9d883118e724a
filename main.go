package main

import "github.com/finchley/parley/cmd"

func main() {
	cmd.Execute()
}
