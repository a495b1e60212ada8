// Package notify reports pipeline errors that must not stop the watch mode.
package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/gen2brain/beeep"
	"github.com/mitchellh/colorstring"

	"github.com/ngld/sitebuild/pkg/sblog"
)

const (
	TitleSCSS  = "SCSS Error"
	TitleJS    = "JS Error"
	TitleBuild = "Build Error"
)

// Notifier receives errors from pipelines that run in watch mode
type Notifier interface {
	Notify(ctx context.Context, title string, err error)
}

// Message formats err the way it's shown to the user
func Message(err error) string {
	msg := strings.TrimSpace(err.Error())
	return "Error: " + msg
}

// Console prints notifications to a terminal
type Console struct {
	lock sync.Mutex
	Out  io.Writer
}

func (c *Console) Notify(ctx context.Context, title string, err error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	out := c.Out
	if out == nil {
		out = os.Stderr
	}

	colorstring.Fprintf(out, "[red][bold]%s[reset] %s\n", title, Message(err))
	sblog.Log(ctx).Debug().Err(err).Str("title", title).Msg("notification")
}

// Desktop shows notifications through the OS notification center
type Desktop struct {
	// Send defaults to beeep.Notify
	Send func(title, message, icon string) error
}

func (d Desktop) Notify(ctx context.Context, title string, err error) {
	send := d.Send
	if send == nil {
		send = beeep.Notify
	}

	if sendErr := send(title, Message(err), ""); sendErr != nil {
		sblog.Log(ctx).Warn().Err(sendErr).Msg("failed to show desktop notification")
	}
}

// Multi forwards every notification to all of its members
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, title string, err error) {
	for _, n := range m {
		n.Notify(ctx, title, err)
	}
}

// New returns the notifier used by the CLI
func New(desktop bool) Notifier {
	result := Multi{&Console{}}
	if desktop {
		result = append(result, Desktop{})
	}

	return result
}

// Recorder keeps all notifications in memory
type Recorder struct {
	lock     sync.Mutex
	Messages []string
}

func (r *Recorder) Notify(ctx context.Context, title string, err error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.Messages = append(r.Messages, fmt.Sprintf("%s: %s", title, Message(err)))
}

// Last returns the most recent notification or an empty string
func (r *Recorder) Last() string {
	r.lock.Lock()
	defer r.lock.Unlock()

	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[len(r.Messages)-1]
}
