package main

import (
	"bufio"
	"io"
	"strings"
)

// command is one parsed input line: a verb and its argument.
type command struct {
	verb, arg string
}

func parseCommand(line string) command {
	line = strings.TrimSpace(line)
	verb, arg, _ := strings.Cut(line, " ")
	return command{verb: strings.ToLower(verb), arg: strings.TrimSpace(arg)}
}

// readLines feeds input lines to a channel that closes on EOF. The reader
// goroutine outlives its caller when stdin stays open.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}
