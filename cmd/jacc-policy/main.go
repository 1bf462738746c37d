package main

import "github.com/oarkflow/jacc/cmd/jacc-policy/cmd"

func main() {
	cmd.Execute()
}
