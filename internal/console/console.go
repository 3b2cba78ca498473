package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/satriahrh/voicelink/domain"
	"github.com/satriahrh/voicelink/domain/entities"
)

// Controls is what the keyboard can drive
type Controls interface {
	ToggleRecording()
}

// Console renders session events as a chat view and reads key commands.
// It implements session.Listener.
type Console struct {
	out    io.Writer
	chat   *entities.ChatLog
	logger *zap.Logger

	mu sync.Mutex

	user      *color.Color
	assistant *color.Color
	alert     *color.Color
	status    map[entities.Connectivity]*color.Color
}

// New creates a console writing to out and recording chat entries into chat
func New(out io.Writer, chat *entities.ChatLog, logger *zap.Logger) *Console {
	return &Console{
		out:       out,
		chat:      chat,
		logger:    logger,
		user:      color.New(color.FgCyan, color.Bold),
		assistant: color.New(color.FgMagenta, color.Bold),
		alert:     color.New(color.FgRed, color.Bold),
		status: map[entities.Connectivity]*color.Color{
			entities.ConnectivityConnected:    color.New(color.FgGreen),
			entities.ConnectivityConnecting:   color.New(color.FgYellow),
			entities.ConnectivityDisconnected: color.New(color.FgRed),
		},
	}
}

// OnStateChange prints a status line
func (c *Console) OnStateChange(state entities.SessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	paint, ok := c.status[state.Connectivity]
	if !ok {
		paint = color.New(color.Reset)
	}
	paint.Fprintf(c.out, "[%s]", state.Connectivity)
	fmt.Fprintf(c.out, " %s%s\n", phaseLabel(state.Phase()), hint(state))
}

// OnChatEntry records the entry and prints it
func (c *Console) OnChatEntry(entry entities.ChatEntry) {
	c.chat.Append(entry)

	c.mu.Lock()
	defer c.mu.Unlock()
	switch entry.Role {
	case entities.MessageRoleUser:
		c.user.Fprint(c.out, "You:")
	default:
		c.assistant.Fprint(c.out, "AI:")
	}
	fmt.Fprintf(c.out, " %s\n", entry.Text)
}

// OnAlert prints a user-facing notice
func (c *Console) OnAlert(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alert.Fprintf(c.out, "! %s\n", alertText(err))
}

// Run reads commands from in until "q", end of input or ctx is done.
// An empty line toggles recording.
func (c *Console) Run(ctx context.Context, in io.Reader, controls Controls) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "":
				controls.ToggleRecording()
			case "q", "quit", "exit":
				return nil
			default:
				c.logger.Debug("Ignoring console input", zap.String("input", line))
				c.mu.Lock()
				fmt.Fprintln(c.out, "press Enter to talk, q to quit")
				c.mu.Unlock()
			}
		}
	}
}

func phaseLabel(phase entities.Phase) string {
	switch phase {
	case entities.PhaseRecording:
		return "recording"
	case entities.PhaseAwaitingResponse:
		return "waiting for reply"
	default:
		return "idle"
	}
}

func hint(state entities.SessionState) string {
	switch {
	case state.Recording:
		return " (Enter to send)"
	case state.CanStartRecording():
		return " (Enter to talk)"
	default:
		return ""
	}
}

func alertText(err error) string {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		return "microphone unavailable: " + err.Error()
	case errors.Is(err, domain.ErrEndOfTurnLost):
		return "connection dropped before the end of your message was sent, please try again"
	default:
		return err.Error()
	}
}
