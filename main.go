package main

import "mrtdreader/cmd"

func main() {
	cmd.Execute()
}
