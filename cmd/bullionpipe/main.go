package main

import "bullion-pipeline/internal/cli"

func main() {
	cli.Execute()
}
