package main

import "github.com/nextlevelbuilder/superbrain/cmd"

func main() {
	cmd.Execute()
}
