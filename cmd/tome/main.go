package main

import "github.com/tomecli/tome/pkg/cmd"

func main() {
	cmd.Execute()
}
