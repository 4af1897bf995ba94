package main

import "yubal/cmd"

func main() {
	cmd.Execute()
}
