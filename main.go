package main

import "github.com/andresmejia3/vocalis/cmd"

func main() {
	cmd.Execute()
}
