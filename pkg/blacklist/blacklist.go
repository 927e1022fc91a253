// Package blacklist keeps the set of source addresses the server refuses to talk to.
package blacklist

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
)

// ErrInvalidAddress is returned for entries that are neither an IP nor a CIDR range
var ErrInvalidAddress = errors.New("invalid IP address or CIDR")

// Store persists blacklist entries between runs
type Store interface {
	Load() ([]string, error)
	Save(entries []string) error
	Close() error
}

// Blacklist is a concurrency-safe set of denied IPs and CIDR ranges
type Blacklist struct {
	mu      sync.RWMutex
	entries map[string]*net.IPNet // normalized entry -> parsed range (/32 or /128 for single IPs)
	store   Store
}

// New creates an empty blacklist backed by store. store may be nil for an in-memory list.
func New(store Store) *Blacklist {
	return &Blacklist{
		entries: make(map[string]*net.IPNet),
		store:   store,
	}
}

// normalize parses an entry into its canonical text and network
func normalize(entry string) (string, *net.IPNet, error) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return "", nil, ErrInvalidAddress
	}

	if strings.Contains(entry, "/") {
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %s", ErrInvalidAddress, entry)
		}
		return ipNet.String(), ipNet, nil
	}

	ip := net.ParseIP(entry)
	if ip == nil {
		return "", nil, fmt.Errorf("%w: %s", ErrInvalidAddress, entry)
	}
	bits := 128
	if v4 := ip.To4(); v4 != nil {
		ip = v4
		bits = 32
	}
	return ip.String(), &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

// Add denies an IP or CIDR range. Adding an existing entry is a no-op.
func (b *Blacklist) Add(entry string) error {
	key, ipNet, err := normalize(entry)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.entries[key] = ipNet
	b.mu.Unlock()
	return nil
}

// Remove lifts a denial. It reports whether the entry was present.
func (b *Blacklist) Remove(entry string) bool {
	key, _, err := normalize(entry)
	if err != nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[key]; !ok {
		return false
	}
	delete(b.entries, key)
	return true
}

// Contains reports whether addr is denied. addr may be a bare IP or host:port.
func (b *Blacklist) Contains(addr string) bool {
	ip := parseAddr(addr)
	if ip == nil {
		return false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ipNet := range b.entries {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// parseAddr extracts the IP from "ip" or "host:port"
func parseAddr(addr string) net.IP {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return net.ParseIP(strings.TrimSpace(addr))
}

// List returns the entries in sorted order
func (b *Blacklist) List() []string {
	b.mu.RLock()
	list := make([]string, 0, len(b.entries))
	for key := range b.entries {
		list = append(list, key)
	}
	b.mu.RUnlock()

	sort.Strings(list)
	return list
}

// Len returns the number of entries
func (b *Blacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Load adds every stored entry to the set. Invalid entries are
// skipped and returned together as one error after the valid ones are loaded.
func (b *Blacklist) Load() error {
	if b.store == nil {
		return nil
	}

	stored, err := b.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load blacklist: %w", err)
	}

	var bad []string
	for _, entry := range stored {
		if err := b.Add(entry); err != nil {
			bad = append(bad, entry)
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("%w: skipped %s", ErrInvalidAddress, strings.Join(bad, ", "))
	}
	return nil
}

// Save writes the current entries to the store
func (b *Blacklist) Save() error {
	if b.store == nil {
		return nil
	}
	if err := b.store.Save(b.List()); err != nil {
		return fmt.Errorf("failed to save blacklist: %w", err)
	}
	return nil
}

// Close releases the store
func (b *Blacklist) Close() error {
	if b.store == nil {
		return nil
	}
	return b.store.Close()
}
