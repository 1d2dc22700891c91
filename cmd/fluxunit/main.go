package main

import "github.com/seantiz/flux/internal/cli"

func main() {
	cli.Execute()
}
