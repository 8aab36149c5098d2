package main

import "fatgo/cmd"

func main() {
	cmd.Execute()
}
