// The voicectl binary is the keyword front end: it reads recognized speech
// as lowercase text lines on stdin (pipe any speech-to-text engine in), maps
// keywords to protocol commands and sends them to the drone server, one
// short-lived session per command. "stop" also ends voicectl itself.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	defaultFlagSet = flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	serverAddress  = defaultFlagSet.String("server", "127.0.0.1:9999", "Drone command server address")
)

const (
	dialTimeout  = 2 * time.Second
	replyTimeout = 30 * time.Second
)

func main() {
	defaultFlagSet.Parse(os.Args[1:])

	log.Printf("Voice ready. Say: takeoff | mission | land | stop")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if text == "" {
			continue
		}
		log.Printf("Heard: %s", text)

		cmd, stop := mapPhrase(text)
		if cmd == "" {
			continue
		}

		reply, err := sendCommand(*serverAddress, cmd)
		if err != nil {
			log.Printf("ERR cannot reach server: %v", err)
			continue
		}
		log.Printf("%s -> %s", cmd, reply)

		if stop {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("reading stdin: %v", err)
	}
}

// mapPhrase matches command keywords anywhere in the recognized phrase.
func mapPhrase(text string) (cmd string, stop bool) {
	switch {
	case strings.Contains(text, "takeoff"), strings.Contains(text, "take off"):
		return "takeoff", false
	case strings.Contains(text, "mission"):
		return "mission", false
	case strings.Contains(text, "land"):
		return "land", false
	case strings.Contains(text, "stop"):
		return "stop", true
	}
	return "", false
}

// sendCommand opens a session, consumes the greeting, sends one command and
// returns the reply line.
func sendCommand(address, cmd string) (string, error) {
	conn, err := net.DialTimeout("tcp", address, dialTimeout)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(replyTimeout))

	r := bufio.NewReader(conn)
	if _, err := r.ReadString('\n'); err != nil {
		return "", errors.Wrap(err, "reading greeting")
	}

	if _, err := fmt.Fprintf(conn, "%s\n", cmd); err != nil {
		return "", errors.Wrap(err, "sending command")
	}

	reply, err := r.ReadString('\n')
	if err != nil {
		return "", errors.Wrap(err, "reading reply")
	}
	return strings.TrimSpace(reply), nil
}
