package main

import "github.com/andresmejia3/vidproc/cmd"

func main() {
	cmd.Execute()
}
