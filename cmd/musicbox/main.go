// Command musicbox plays, renders and serves music-box projects from the
// terminal.
package main

func main() {
	Execute()
}
