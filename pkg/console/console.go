// Package console is the operator's interactive command line for a running server
package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strings"

	"github.com/kitchej/pychat/pkg/server"
)

// Controller is the part of *server.Server the console drives
type Controller interface {
	Start() error
	Stop() error
	Restart() error
	IsRunning() bool
	Addr() net.Addr
	Clients() []server.ClientInfo
	DisconnectClient(name string, notify bool) bool
	BroadcastServerMessage(text string) error
	Blacklist(addr string) error
	Unblacklist(addr string) bool
	BlacklistedAddrs() []string
	SaveBlacklist() error
	LogPath() string
}

type command struct {
	usage   string
	help    string
	confirm bool // Ask before running
	run     func(c *Console, args []string) (quit bool)
}

// Console reads commands line by line and runs them against a Controller
type Console struct {
	srv      Controller
	in       *bufio.Scanner
	out      io.Writer
	prompt   string
	commands map[string]command
	line     string // Line being executed
}

// New creates a console reading from in and writing to out
func New(srv Controller, in io.Reader, out io.Writer) *Console {
	c := &Console{
		srv:    srv,
		in:     bufio.NewScanner(in),
		out:    out,
		prompt: "> ",
	}
	c.commands = map[string]command{
		"help":        {usage: "help", help: "List commands", run: (*Console).help},
		"start":       {usage: "start", help: "Start the server", run: (*Console).start},
		"shutdown":    {usage: "shutdown", help: "Disconnect everyone and stop the server", confirm: true, run: (*Console).shutdown},
		"restart":     {usage: "restart", help: "Stop and start the server", confirm: true, run: (*Console).restart},
		"clients":     {usage: "clients", help: "List connected clients", run: (*Console).clients},
		"kick":        {usage: "kick <username>", help: "Disconnect a client", run: (*Console).kick},
		"broadcast":   {usage: "broadcast <message>", help: "Send a server message to everyone", run: (*Console).broadcast},
		"blacklist":   {usage: "blacklist <ip|cidr>", help: "Refuse connections from an address", run: (*Console).blacklist},
		"unblacklist": {usage: "unblacklist <ip|cidr>", help: "Remove an address from the blacklist", run: (*Console).unblacklist},
		"blacklisted": {usage: "blacklisted", help: "List blacklisted addresses", run: (*Console).blacklisted},
		"save":        {usage: "save", help: "Write the blacklist to disk", run: (*Console).save},
		"log":         {usage: "log", help: "Print the server log", run: (*Console).log},
		"quit":        {usage: "quit", help: "Stop the server and exit", confirm: true, run: (*Console).quit},
	}
	return c
}

// Run reads commands until quit or end of input
func (c *Console) Run() error {
	c.printf("To view commands, type \"help\"\n")
	for {
		c.printf("%s", c.prompt)
		if !c.in.Scan() {
			return c.in.Err()
		}
		if c.Execute(c.in.Text()) {
			return nil
		}
	}
}

// Execute runs one command line. It reports whether the console should exit.
func (c *Console) Execute(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	c.line = line
	name := strings.ToLower(fields[0])
	cmd, ok := c.commands[name]
	if !ok {
		c.printf("%q - Command not recognized\n", fields[0])
		return false
	}
	if cmd.confirm && !c.confirm(fmt.Sprintf("Are you sure you want to %s? (y/n) ", name)) {
		return false
	}
	return cmd.run(c, fields[1:])
}

// rest returns everything after the command word, spacing preserved
func rest(line string) string {
	line = strings.TrimSpace(line)
	if i := strings.IndexFunc(line, func(r rune) bool { return r == ' ' || r == '\t' }); i >= 0 {
		return strings.TrimSpace(line[i:])
	}
	return ""
}

func (c *Console) confirm(question string) bool {
	c.printf("%s", question)
	if !c.in.Scan() {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(c.in.Text()), "y")
}

func (c *Console) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *Console) help(_ []string) bool {
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd := c.commands[name]
		c.printf("  %-24s %s\n", cmd.usage, cmd.help)
	}
	return false
}

func (c *Console) start(_ []string) bool {
	if err := c.srv.Start(); err != nil {
		if errors.Is(err, server.ErrAlreadyRunning) {
			c.printf("The server is already running\n")
		} else {
			c.printf("Failed to start: %v\n", err)
		}
		return false
	}
	c.printf("Server has been started on %s\n", c.srv.Addr())
	return false
}

func (c *Console) shutdown(_ []string) bool {
	if !c.srv.IsRunning() {
		c.printf("The server is not running\n")
		return false
	}
	if err := c.srv.Stop(); err != nil {
		c.printf("Shutdown finished with error: %v\n", err)
		return false
	}
	c.printf("Server has been shutdown\n")
	return false
}

func (c *Console) restart(_ []string) bool {
	if !c.srv.IsRunning() {
		c.printf("The server is not running\n")
		return false
	}
	if err := c.srv.Restart(); err != nil {
		c.printf("Failed to restart: %v\n", err)
		return false
	}
	c.printf("Server has been restarted\n")
	return false
}

func (c *Console) clients(_ []string) bool {
	clients := c.srv.Clients()
	if len(clients) == 0 {
		c.printf("No clients connected\n")
		return false
	}
	for _, client := range clients {
		c.printf("%s @ %s (%s)\n", client.Username, client.RemoteAddr, client.Transport)
	}
	return false
}

func (c *Console) kick(args []string) bool {
	if len(args) == 0 {
		c.printf("No user provided\n")
		return false
	}
	if c.srv.DisconnectClient(args[0], true) {
		c.printf("User %s was kicked\n", args[0])
	} else {
		c.printf("User %s is not connected\n", args[0])
	}
	return false
}

func (c *Console) broadcast(args []string) bool {
	if len(args) == 0 {
		c.printf("Cannot send message as no message was provided\n")
		return false
	}
	// Taken from the raw line so spacing inside the message survives
	text := rest(c.line)
	if err := c.srv.BroadcastServerMessage(text); err != nil {
		c.printf("Failed to send message: %v\n", err)
	}
	return false
}

func (c *Console) blacklist(args []string) bool {
	if len(args) == 0 {
		c.printf("No IP address provided\n")
		return false
	}
	if err := c.srv.Blacklist(args[0]); err != nil {
		c.printf("Could not blacklist %s: %v\n", args[0], err)
		return false
	}
	c.printf("IP address %s was blacklisted\n", args[0])
	return false
}

func (c *Console) unblacklist(args []string) bool {
	if len(args) == 0 {
		c.printf("No IP address provided\n")
		return false
	}
	if c.srv.Unblacklist(args[0]) {
		c.printf("IP address %s was removed from the blacklist\n", args[0])
	} else {
		c.printf("IP address %s was not blacklisted\n", args[0])
	}
	return false
}

func (c *Console) blacklisted(_ []string) bool {
	addrs := c.srv.BlacklistedAddrs()
	if len(addrs) == 0 {
		c.printf("None\n")
		return false
	}
	for _, addr := range addrs {
		c.printf("%s\n", addr)
	}
	return false
}

func (c *Console) save(_ []string) bool {
	if err := c.srv.SaveBlacklist(); err != nil {
		c.printf("Failed to save blacklist: %v\n", err)
		return false
	}
	c.printf("Blacklist saved\n")
	return false
}

func (c *Console) log(_ []string) bool {
	path := c.srv.LogPath()
	if path == "" {
		c.printf("No server log file\n")
		return false
	}
	content, err := os.ReadFile(path)
	if err != nil {
		c.printf("Could not read %s: %v\n", path, err)
		return false
	}
	c.out.Write(content)
	return false
}

func (c *Console) quit(_ []string) bool {
	if c.srv.IsRunning() {
		if err := c.srv.Stop(); err != nil {
			c.printf("Shutdown finished with error: %v\n", err)
		}
	}
	return true
}
