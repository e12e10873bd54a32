package main

import "github.com/nextlevelbuilder/inboxrelay/cmd"

func main() {
	cmd.Execute()
}
