package main

import "github.com/koopa0/grounded/cmd"

func main() {
	cmd.Execute()
}
