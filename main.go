package main

import "github.com/nextlevelbuilder/whatsclaw/cmd"

func main() {
	cmd.Execute()
}
