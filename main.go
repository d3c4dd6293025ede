package main

import "github.com/ValentinKolb/dMDS/cmd"

func main() {
	cmd.Execute()
}
