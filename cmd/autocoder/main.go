package main

import "github.com/vollocare/autocoder/internal/cli"

func main() {
	cli.Execute()
}
