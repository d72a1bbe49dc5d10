package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pagevoice-labs/pagevoice-core/internal/protocol"
)

var version = "0.1.0-dev"

func main() {
	readCmd := flag.NewFlagSet("read", flag.ExitOnError)
	readServer := readCmd.String("server", nats.DefaultURL, "Bus server URL")
	readSpeed := readCmd.String("speed", "", "One-off speed: 1, 1.5 or 2")

	downloadCmd := flag.NewFlagSet("download", flag.ExitOnError)
	downloadServer := downloadCmd.String("server", nats.DefaultURL, "Bus server URL")

	stopCmd := flag.NewFlagSet("stop", flag.ExitOnError)
	stopServer := stopCmd.String("server", nats.DefaultURL, "Bus server URL")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'read', 'download', 'stop' or 'version'")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "read":
		readCmd.Parse(os.Args[2:])
		var name string
		name, err = readCommandName(*readSpeed)
		if err == nil {
			err = publish(*readServer, name, commandText(readCmd.Args()))
		}
	case "download":
		downloadCmd.Parse(os.Args[2:])
		err = publish(*downloadServer, "download", commandText(downloadCmd.Args()))
	case "stop":
		stopCmd.Parse(os.Args[2:])
		err = publish(*stopServer, "stop-reading", "")
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func readCommandName(speed string) (string, error) {
	switch speed {
	case "":
		return "read-aloud", nil
	case "1":
		return "read-aloud-1x", nil
	case "1.5":
		return "read-aloud-1.5x", nil
	case "2":
		return "read-aloud-2x", nil
	default:
		return "", fmt.Errorf("unsupported speed %q (use 1, 1.5 or 2)", speed)
	}
}

// commandText joins the positional arguments, falling back to stdin so text
// can be piped in.
func commandText(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return ""
	}
	return string(data)
}

func publish(server, name, text string) error {
	conn, err := nats.Connect(server, nats.Timeout(2*time.Second))
	if err != nil {
		return fmt.Errorf("connect to bus: %w", err)
	}
	defer conn.Close()

	data, err := json.Marshal(protocol.Command{Text: text, Timestamp: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := conn.Publish(protocol.SubjectCommandPrefix+"."+name, data); err != nil {
		return fmt.Errorf("publish command: %w", err)
	}
	return conn.Flush()
}
