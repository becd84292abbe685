package main

import "github.com/YuminosukeSato/strokeguard/internal/cli"

func main() {
	cli.Execute()
}
