package main

import "github.com/boxsync/boxsync/cmd"

func main() {
	cmd.Execute()
}
