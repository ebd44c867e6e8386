package tmux

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestConnection wires a ControlConnection to in-memory pipes instead of
// a tmux child. Returns the writer that plays tmux's stdout and the reader
// that observes what the connection writes to tmux's stdin.
func newTestConnection(t *testing.T) (*ControlConnection, io.WriteCloser, *bufio.Reader) {
	t.Helper()

	stdoutR, stdoutW := io.Pipe()
	stdinR, stdinW := io.Pipe()

	c := &ControlConnection{
		ctrlName:     "_hydra_ctrl_test",
		stdin:        stdinW,
		ready:        make(chan struct{}),
		done:         make(chan struct{}),
		paneSessions: make(map[string]string),
	}
	c.state.Store(int32(StateReady))
	close(c.ready)

	go c.reader(stdoutR)

	t.Cleanup(func() {
		stdoutW.Close()
		stdinW.Close()
		<-c.done
	})

	return c, stdoutW, bufio.NewReader(stdinR)
}

func TestDecodeOctalEscapes(t *testing.T) {
	cases := map[string]string{
		"hello\\012world":        "hello\nworld",
		"path\\134file":          "path\\file",
		"col1\\011col2":          "col1\tcol2",
		"a\\012b\\012c":          "a\nb\nc",
		"plain text":             "plain text",
		"":                       "",
		"end\\":                  "end\\",
		"end\\01":                "end\\01",
		"x\\089y":                "x\\089y",
		"a\\000b":                "a\x00b",
		"\\302\\273":             "»",
		"hello \\302\\273 world": "hello » world",
	}
	for input, want := range cases {
		assert.Equal(t, want, DecodeOctalEscapes(input), "input %q", input)
	}
}

func TestDecodeOctalThreeByteUTF8(t *testing.T) {
	// U+25CF as three consecutive byte escapes must yield one codepoint,
	// not three Latin-1 characters.
	got := DecodeOctalEscapes("\\342\\227\\217")
	assert.Equal(t, "●", got)
	assert.Len(t, []rune(got), 1)
	assert.Len(t, got, 3)
}

func TestDecodeOctalFourByteUTF8(t *testing.T) {
	assert.Equal(t, "\U0001F512", DecodeOctalEscapes("\\360\\237\\224\\222"))
}

func TestDecodeOctalAlwaysValidUTF8(t *testing.T) {
	inputs := []string{
		"\\377\\376",       // invalid UTF-8 bytes
		"\\342\\227",       // truncated multi-byte sequence
		"\\\\012",          // doubled backslash then octal
		"random \\9 stuff", // non-octal after backslash
	}
	for _, input := range inputs {
		var out string
		assert.NotPanics(t, func() { out = DecodeOctalEscapes(input) })
		assert.True(t, utf8.ValidString(out), "output must be valid UTF-8 for %q", input)
	}
}

func TestQuoteArg(t *testing.T) {
	assert.Equal(t, "hello", QuoteArg("hello"))
	assert.Equal(t, "'hello world'", QuoteArg("hello world"))
	assert.Equal(t, `'say '\''hi'\'''`, QuoteArg("say 'hi'"))
	assert.Equal(t, "''", QuoteArg(""))
	assert.Equal(t, "/some/path-1.txt", QuoteArg("/some/path-1.txt"))
	assert.Equal(t, "'a;b'", QuoteArg("a;b"))
	assert.Equal(t, "'$(rm -rf)'", QuoteArg("$(rm -rf)"))
}

func TestParseNotificationOutput(t *testing.T) {
	n := parseNotification("%output %5 hello\\012there")
	assert.Equal(t, NotifOutput, n.Kind)
	assert.Equal(t, "%5", n.PaneID)
	assert.Equal(t, "hello\nthere", n.Data)
}

func TestParseNotificationPaneExited(t *testing.T) {
	n := parseNotification("%pane-exited %12")
	assert.Equal(t, NotifPaneExited, n.Kind)
	assert.Equal(t, "%12", n.PaneID)
}

func TestParseNotificationSessionChanged(t *testing.T) {
	n := parseNotification("%session-changed $1 mysession")
	assert.Equal(t, NotifSessionChanged, n.Kind)
}

func TestParseNotificationOther(t *testing.T) {
	n := parseNotification("%window-renamed @1 build")
	assert.Equal(t, NotifOther, n.Kind)
}

func TestFIFOCorrelationUnderConcurrency(t *testing.T) {
	c, tmuxOut, tmuxIn := newTestConnection(t)

	const n = 3
	results := make([]CommandResponse, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	var started atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Add(1)
			results[i], errs[i] = c.SendCommand(context.Background(), fmt.Sprintf("cmd-%d", i))
		}(i)
	}

	// Read the commands in the order the connection wrote them; reply in
	// that same order with arbitrary server-assigned ids. The ids must not
	// matter: correlation is positional.
	serverIDs := []int{7001, 7002, 7003}
	var writeOrder []string
	for i := 0; i < n; i++ {
		line, err := tmuxIn.ReadString('\n')
		require.NoError(t, err)
		writeOrder = append(writeOrder, line[:len(line)-1])

		_, err = fmt.Fprintf(tmuxOut, "%%begin 123 %d 1\nreply-for-%s\n%%end 123 %d 1\n",
			serverIDs[i], line[:len(line)-1], serverIDs[i])
		require.NoError(t, err)
	}

	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.True(t, results[i].Success)
		assert.Equal(t, "reply-for-cmd-"+fmt.Sprint(i), results[i].Output,
			"command %d must receive its own reply regardless of server ids", i)
	}
	assert.Len(t, writeOrder, n)
}

func TestUnsolicitedBeginBlockIsDiscarded(t *testing.T) {
	c, tmuxOut, tmuxIn := newTestConnection(t)
	notifs := c.Subscribe()

	// tmux's initial new-session block arrives before any command. The
	// trailing notification is published only after the reader has handled
	// the block, so the command below is queued strictly after it.
	_, err := io.WriteString(tmuxOut, "%begin 1 0 1\nstartup noise\n%end 1 0 1\n%session-changed $1 s\n")
	require.NoError(t, err)
	select {
	case <-notifs:
	case <-time.After(2 * time.Second):
		t.Fatal("startup block never consumed")
	}

	done := make(chan CommandResponse, 1)
	go func() {
		resp, _ := c.SendCommand(context.Background(), "display-message ok")
		done <- resp
	}()

	line, err := tmuxIn.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "display-message ok\n", line)

	_, err = io.WriteString(tmuxOut, "%begin 2 1 1\nreal reply\n%end 2 1 1\n")
	require.NoError(t, err)

	select {
	case resp := <-done:
		assert.Equal(t, "real reply", resp.Output)
	case <-time.After(2 * time.Second):
		t.Fatal("command never resolved")
	}
}

func TestErrorBlockYieldsFailure(t *testing.T) {
	c, tmuxOut, tmuxIn := newTestConnection(t)

	done := make(chan CommandResponse, 1)
	go func() {
		resp, _ := c.SendCommand(context.Background(), "kill-session -t nope")
		done <- resp
	}()

	_, err := tmuxIn.ReadString('\n')
	require.NoError(t, err)
	_, err = io.WriteString(tmuxOut, "%begin 3 2 1\ncan't find session: nope\n%error 3 2 1\n")
	require.NoError(t, err)

	select {
	case resp := <-done:
		assert.False(t, resp.Success)
		assert.Contains(t, resp.Output, "can't find session")
	case <-time.After(2 * time.Second):
		t.Fatal("command never resolved")
	}
}

func TestNotificationsInterleavedWithResponseData(t *testing.T) {
	c, tmuxOut, tmuxIn := newTestConnection(t)
	notifs := c.Subscribe()

	done := make(chan CommandResponse, 1)
	go func() {
		resp, _ := c.SendCommand(context.Background(), "capture-pane -p")
		done <- resp
	}()

	_, err := tmuxIn.ReadString('\n')
	require.NoError(t, err)

	// %output arrives mid-block; it must go to subscribers, not into the
	// command's response data.
	_, err = io.WriteString(tmuxOut,
		"%begin 4 3 1\nline one\n%output %1 \\342\\227\\217\nline two\n%end 4 3 1\n")
	require.NoError(t, err)

	select {
	case resp := <-done:
		assert.Equal(t, "line one\nline two", resp.Output)
	case <-time.After(2 * time.Second):
		t.Fatal("command never resolved")
	}

	select {
	case n := <-notifs:
		assert.Equal(t, NotifOutput, n.Kind)
		assert.Equal(t, "●", n.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("notification never delivered")
	}
}

func TestReaderExitFailsPendingCommands(t *testing.T) {
	c, tmuxOut, tmuxIn := newTestConnection(t)

	done := make(chan error, 1)
	go func() {
		_, err := c.SendCommand(context.Background(), "list-sessions")
		done <- err
	}()

	_, err := tmuxIn.ReadString('\n')
	require.NoError(t, err)
	tmuxOut.Close()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pending command not failed on disconnect")
	}
	assert.Equal(t, StateFailed, c.State())
}

func TestLaggedSubscriberGetsMarker(t *testing.T) {
	c := &ControlConnection{
		ready:        make(chan struct{}),
		done:         make(chan struct{}),
		paneSessions: make(map[string]string),
	}

	sub := &subscriber{ch: make(chan Notification, 1)}
	c.subs = append(c.subs, sub)

	c.publish(Notification{Kind: NotifOutput, PaneID: "%1"})
	c.publish(Notification{Kind: NotifOutput, PaneID: "%2"}) // overflows

	// Drain the first; the subscriber is now lagged.
	<-sub.ch
	c.publish(Notification{Kind: NotifOutput, PaneID: "%3"})

	n := <-sub.ch
	assert.Equal(t, NotifLagged, n.Kind, "first delivery after lag is the marker")
}

func TestPaneSessionMap(t *testing.T) {
	c := &ControlConnection{paneSessions: make(map[string]string)}
	c.UpdatePaneMap(map[string]string{"%1": "hydra-abc-alpha"})

	name, ok := c.PaneSession("%1")
	assert.True(t, ok)
	assert.Equal(t, "hydra-abc-alpha", name)

	_, ok = c.PaneSession("%9")
	assert.False(t, ok)
}
