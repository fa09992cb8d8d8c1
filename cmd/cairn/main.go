package main

import (
	"github.com/cairnstore/cairn/cmd/cairn/cmd"
)

func main() {
	cmd.Execute()
}
