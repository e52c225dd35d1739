package main

import "github.com/storechat/storechat/cmd"

func main() {
	cmd.Execute()
}
