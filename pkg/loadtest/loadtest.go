// Package loadtest drives many concurrent chat clients against a server and
// measures how long relayed messages take to arrive.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kitchej/pychat/pkg/client"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat."

var loremWords = strings.Fields(loremIpsum)

// Messages sent by bots start with this marker followed by the send time
const stampPrefix = "lt:"

// Options configures a load test run
type Options struct {
	Server   string
	Clients  int
	Duration time.Duration
	MinDelay time.Duration // Between posts
	MaxDelay time.Duration
	RampUp   time.Duration // 0 = a quarter of Duration
	Timeout  time.Duration // Connect and handshake
	Logger   *log.Logger   // nil = no progress output
}

// Stats tracks performance metrics
type Stats struct {
	messagesSent      atomic.Int64
	messagesReceived  atomic.Int64
	sendFailures      atomic.Int64
	totalLatency      atomic.Int64 // in microseconds
	successfulClients atomic.Int64

	// Connect phase failure breakdown
	connectFailed     atomic.Int64
	nameRejected      atomic.Int64
	serverFull        atomic.Int64
	disconnectedEarly atomic.Int64
}

func (s *Stats) recordReceived(latency time.Duration) {
	s.messagesReceived.Add(1)
	s.totalLatency.Add(latency.Microseconds())
}

// Result summarizes a finished run
type Result struct {
	Attempted         int
	Connected         int64
	Sent              int64
	Received          int64
	SendFailures      int64
	ConnectFailures   int64
	NameRejected      int64
	ServerFull        int64
	DisconnectedEarly int64
	AvgLatency        time.Duration
	Elapsed           time.Duration
}

func (s *Stats) result(attempted int, elapsed time.Duration) Result {
	r := Result{
		Attempted:         attempted,
		Connected:         s.successfulClients.Load(),
		Sent:              s.messagesSent.Load(),
		Received:          s.messagesReceived.Load(),
		SendFailures:      s.sendFailures.Load(),
		ConnectFailures:   s.connectFailed.Load(),
		NameRejected:      s.nameRejected.Load(),
		ServerFull:        s.serverFull.Load(),
		DisconnectedEarly: s.disconnectedEarly.Load(),
		Elapsed:           elapsed,
	}
	if r.Received > 0 {
		r.AvgLatency = time.Duration(s.totalLatency.Load()/r.Received) * time.Microsecond
	}
	return r
}

// bot is one simulated chat user
type bot struct {
	id    int
	name  string
	conn  *client.Connection
	stats *Stats
}

func botName(id int) string {
	return "lt" + strconv.Itoa(id)
}

func connect(id int, opts Options, stats *Stats) (*bot, error) {
	conn, err := client.Dial(opts.Server, botName(id), client.WithTimeout(opts.Timeout))
	if err != nil {
		switch {
		case errors.Is(err, client.ErrUsernameTaken), errors.Is(err, client.ErrUsernameTooLong), errors.Is(err, client.ErrUsernameInvalid):
			stats.nameRejected.Add(1)
		case errors.Is(err, client.ErrServerFull):
			stats.serverFull.Add(1)
		default:
			stats.connectFailed.Add(1)
		}
		return nil, err
	}
	return &bot{id: id, name: botName(id), conn: conn, stats: stats}, nil
}

// receive counts relayed bot messages until the connection closes
func (b *bot) receive(done <-chan struct{}) {
	for ev := range b.conn.Events() {
		if ev.Kind != client.EventText || !strings.HasPrefix(ev.Text, stampPrefix) {
			continue
		}
		stamp, _, _ := strings.Cut(strings.TrimPrefix(ev.Text, stampPrefix), " ")
		sentAt, err := strconv.ParseInt(stamp, 10, 64)
		if err != nil {
			continue
		}
		b.stats.recordReceived(time.Since(time.Unix(0, sentAt)))
	}
	select {
	case <-done:
	default:
		b.stats.disconnectedEarly.Add(1)
	}
}

func randomMessage() string {
	// 5-20 words
	wordCount := 5 + rand.Intn(16)
	words := make([]string, wordCount)
	for i := range words {
		words[i] = loremWords[rand.Intn(len(loremWords))]
	}
	return strings.Join(words, " ")
}

func (b *bot) post() error {
	text := stampPrefix + strconv.FormatInt(time.Now().UnixNano(), 10) + " " + randomMessage()
	if err := b.conn.SendText(text); err != nil {
		b.stats.sendFailures.Add(1)
		return err
	}
	b.stats.messagesSent.Add(1)
	return nil
}

// run posts at random intervals until ctx ends or the deadline passes
func (b *bot) run(ctx context.Context, until time.Time, minDelay, maxDelay time.Duration) {
	for time.Now().Before(until) {
		if err := b.post(); err != nil {
			return
		}

		delay := minDelay
		if maxDelay > minDelay {
			delay += time.Duration(rand.Int63n(int64(maxDelay - minDelay)))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (o *Options) applyDefaults() error {
	if o.Server == "" {
		return errors.New("server address is required")
	}
	if o.Clients <= 0 {
		return fmt.Errorf("clients must be positive, got %d", o.Clients)
	}
	if o.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %v", o.Duration)
	}
	if o.MaxDelay < o.MinDelay {
		return fmt.Errorf("max delay %v is below min delay %v", o.MaxDelay, o.MinDelay)
	}
	if o.RampUp == 0 {
		o.RampUp = o.Duration / 4
	}
	if o.Timeout == 0 {
		o.Timeout = 5 * time.Second
	}
	return nil
}

func (o Options) logf(format string, args ...interface{}) {
	if o.Logger != nil {
		o.Logger.Printf(format, args...)
	}
}

// Run connects opts.Clients bots, staggered over the ramp-up, lets each post for
// opts.Duration and returns the collected statistics. Cancelling ctx ends the run early.
func Run(ctx context.Context, opts Options) (Result, error) {
	if err := opts.applyDefaults(); err != nil {
		return Result{}, err
	}

	staggerDelay := opts.RampUp / time.Duration(opts.Clients)
	if staggerDelay < time.Millisecond {
		staggerDelay = time.Millisecond
	}

	opts.logf("Starting load test:")
	opts.logf("  Server: %s", opts.Server)
	opts.logf("  Clients: %d", opts.Clients)
	opts.logf("  Duration: %v", opts.Duration)
	opts.logf("  Ramp-up: %v (%v per client)", opts.RampUp, staggerDelay)
	opts.logf("  Delay: %v - %v", opts.MinDelay, opts.MaxDelay)

	stats := &Stats{}
	start := time.Now()
	done := make(chan struct{})

	stopStats := make(chan struct{})
	var statsWg sync.WaitGroup
	statsWg.Add(1)
	go func() {
		defer statsWg.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r := stats.result(opts.Clients, time.Since(start))
				opts.logf("Stats: %d connected, %d sent (%.1f/s), %d received, avg latency %v",
					r.Connected, r.Sent, float64(r.Sent)/r.Elapsed.Seconds(), r.Received, r.AvgLatency)
			case <-stopStats:
				return
			}
		}
	}()

	var wg sync.WaitGroup
	var bots []*bot
	var botsMu sync.Mutex
	var receivers sync.WaitGroup

spawn:
	for i := 0; i < opts.Clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			b, err := connect(id, opts, stats)
			if err != nil {
				opts.logf("[Bot %d] Connect failed: %v", id, err)
				return
			}
			stats.successfulClients.Add(1)

			botsMu.Lock()
			bots = append(bots, b)
			botsMu.Unlock()

			receivers.Add(1)
			go func() {
				defer receivers.Done()
				b.receive(done)
			}()

			b.run(ctx, time.Now().Add(opts.Duration), opts.MinDelay, opts.MaxDelay)
		}(i)

		select {
		case <-ctx.Done():
			break spawn
		case <-time.After(staggerDelay):
		}
	}

	wg.Wait()

	// Let in-flight relays land before hanging up
	time.Sleep(200 * time.Millisecond)
	close(done)
	for _, b := range bots {
		b.conn.Close()
	}
	receivers.Wait()
	close(stopStats)
	statsWg.Wait()

	r := stats.result(opts.Clients, time.Since(start))
	opts.logf("Finished: %d/%d connected, %d sent, %d received, %d send failures, avg latency %v",
		r.Connected, r.Attempted, r.Sent, r.Received, r.SendFailures, r.AvgLatency)
	return r, ctx.Err()
}
