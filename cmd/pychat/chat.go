package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kitchej/pychat/pkg/client"
)

func chatCmd() *cobra.Command {
	var (
		username string
		timeout  time.Duration
		saveDir  string
		noState  bool
		notify   bool
	)

	cmd := &cobra.Command{
		Use:   "chat [address]",
		Short: "Join a chat room from the terminal",
		Long: `Join a chat room. Lines typed are sent as messages.

  /file <path>   send a file
  /quit          leave the room

The address is host[:port] for TCP (default port 5000) or a ws:// URL.
Without an address or --name, the last ones that worked are reused.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var state *client.State
			if !noState {
				if path, err := statePath(); err == nil {
					if state, err = client.OpenState(path); err != nil {
						fmt.Fprintf(os.Stderr, "Warning: client state unavailable: %v\n", err)
					} else {
						defer state.Close()
					}
				}
			}

			addr := "127.0.0.1:5000"
			if len(args) == 1 {
				addr = args[0]
			} else if state != nil && state.LastServer() != "" {
				addr = state.LastServer()
			}
			if username == "" && state != nil {
				username = state.LastUsername()
			}
			if username == "" {
				return fmt.Errorf("--name is required")
			}

			conn, err := client.Dial(addr, username, client.WithTimeout(timeout))
			if err != nil {
				return err
			}
			defer conn.Close()

			if state != nil {
				if err := state.RecordConnection(conn); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: failed to save client state: %v\n", err)
				}
			}

			out := renderer{username: conn.Username(), saveDir: saveDir, notify: notify}
			if members := conn.Members(); len(members) > 0 {
				out.system("Connected to %s. Online: %s", conn.Address(), strings.Join(members, ", "))
			} else {
				out.system("Connected to %s. Nobody else is here.", conn.Address())
			}

			closed := make(chan struct{})
			go func() {
				defer close(closed)
				for ev := range conn.Events() {
					out.print(ev)
				}
			}()

			lines := make(chan string)
			go func() {
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					lines <- scanner.Text()
				}
				close(lines)
			}()

			for {
				select {
				case <-closed:
					out.system("Disconnected from server")
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					if quit, err := sendLine(conn, line); err != nil {
						fmt.Fprintf(os.Stderr, "Send failed: %v\n", err)
					} else if quit {
						return nil
					}
				}
			}
		},
	}

	cmd.Flags().StringVarP(&username, "name", "n", "", "Username to join as")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Connect and handshake timeout")
	cmd.Flags().StringVar(&saveDir, "save-dir", ".", "Directory received files are written to")
	cmd.Flags().BoolVar(&notify, "notify", false, "Desktop notification when someone mentions you")
	cmd.Flags().BoolVar(&noState, "no-state", false, "Do not remember the username and server")

	return cmd
}

// statePath returns where the client remembers its last username and server
func statePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".pychat", "client.db"), nil
}

// sendLine sends one line of input. It reports whether the user asked to leave.
func sendLine(conn *client.Connection, line string) (bool, error) {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return false, nil
	case trimmed == "/quit":
		return true, nil
	case strings.HasPrefix(trimmed, "/file "):
		path := strings.TrimSpace(strings.TrimPrefix(trimmed, "/file "))
		content, err := os.ReadFile(path)
		if err != nil {
			return false, err
		}
		return false, conn.SendMultimedia(filepath.Base(path), content)
	default:
		return false, conn.SendText(line)
	}
}
