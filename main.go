package main

import "github.com/propsift/propsift/cmd"

func main() {
	cmd.Execute()
}
