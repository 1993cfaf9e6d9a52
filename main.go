package main

import "github.com/nextlevelbuilder/embedkit/cmd"

func main() {
	cmd.Execute()
}
