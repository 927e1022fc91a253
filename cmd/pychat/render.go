package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gen2brain/beeep"

	"github.com/kitchej/pychat/pkg/client"
)

var (
	mutedColor  = lipgloss.Color("244")
	accentColor = lipgloss.Color("205")
	errorColor  = lipgloss.Color("196")

	senderStyle = lipgloss.NewStyle().Bold(true).Foreground(accentColor)
	systemStyle = lipgloss.NewStyle().Foreground(mutedColor).Italic(true)
	serverStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	alertStyle  = lipgloss.NewStyle().Bold(true).Foreground(errorColor)
	textStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)

// renderer prints room events to the terminal
type renderer struct {
	username string
	saveDir  string
	notify   bool
}

func (r renderer) system(format string, args ...interface{}) {
	fmt.Println(systemStyle.Render("* " + fmt.Sprintf(format, args...)))
}

func (r renderer) print(ev client.Event) {
	switch ev.Kind {
	case client.EventText:
		fmt.Printf("%s %s\n", senderStyle.Render(ev.Sender+":"), textStyle.Render(ev.Text))
		if r.notify && mentions(ev.Text, r.username) {
			r.desktopNotification(ev.Sender, ev.Text)
		}
	case client.EventMultimedia:
		path := filepath.Join(r.saveDir, filepath.Base(ev.Filename))
		if err := os.WriteFile(path, ev.Content, 0644); err != nil {
			r.system("%s sent %s (%d bytes), could not save: %v", ev.Sender, ev.Filename, len(ev.Content), err)
			return
		}
		r.system("%s sent %s (%d bytes), saved to %s", ev.Sender, ev.Filename, len(ev.Content), path)
	case client.EventJoined:
		r.system("%s joined", ev.Username)
	case client.EventLeft:
		r.system("%s left", ev.Username)
	case client.EventMembers:
		r.system("Online: %s", strings.Join(ev.Members, ", "))
	case client.EventKicked:
		fmt.Println(alertStyle.Render("You were kicked from the server"))
	case client.EventServerMessage:
		fmt.Printf("%s %s\n", serverStyle.Render("[server]"), ev.Text)
		if r.notify {
			r.desktopNotification("server", ev.Text)
		}
	case client.EventDisconnect:
		fmt.Println(alertStyle.Render("Server is shutting down"))
	case client.EventInfo:
		r.system("%s", ev.Text)
	}
}

// mentions reports whether text contains name as a whole word, ignoring case
func mentions(text, name string) bool {
	if name == "" {
		return false
	}
	for _, word := range strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == ':' || r == '!' || r == '?' || r == '@'
	}) {
		if strings.EqualFold(word, name) {
			return true
		}
	}
	return false
}

// desktopNotification is best effort
func (r renderer) desktopNotification(sender, text string) {
	// Truncate message content to 100 chars for notification
	if len(text) > 100 {
		text = text[:97] + "..."
	}
	if err := beeep.Notify("pychat", fmt.Sprintf("%s: %s", sender, text), ""); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to send desktop notification: %v\n", err)
	}
}
